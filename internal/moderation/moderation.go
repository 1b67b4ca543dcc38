// Package moderation проверяет исходящий текст и разбирает служебные сообщения
// (оферты, подсказки медиатора) в типизированный model.Payload.
package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/agrilink/internal/model"
)

// ErrRejected — текст содержит запрещённое слово; сообщение не отправляется.
var ErrRejected = errors.New("message rejected by moderation")

// DefaultBannedWords — список по умолчанию (подстрока, без учёта регистра).
var DefaultBannedWords = []string{"scam", "fake", "fraud", "money laundering", "cheat", "abuse"}

const (
	OfferPrefix    = "OFFER:"
	MediatorPrefix = "🤖 AI Mediator: "
	AcceptedPrefix = "Accepted: "
)

var offerRe = regexp.MustCompile(`^OFFER:\s*I propose ₹\s*(\d+(?:\.\d+)?)\s*/kg for\s*(\d+(?:\.\d+)?)\s*kg\.?\s*$`)

// Filter — подстрочный фильтр по фиксированному списку слов.
type Filter struct {
	words []string
}

// NewFilter создаёт фильтр; пустой список — DefaultBannedWords.
func NewFilter(words []string) *Filter {
	if len(words) == 0 {
		words = DefaultBannedWords
	}
	f := &Filter{words: make([]string, 0, len(words))}
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			f.words = append(f.words, w)
		}
	}
	return f
}

// CheckBanned возвращает ErrRejected (с найденным словом), если текст содержит запрещённое слово.
func (f *Filter) CheckBanned(text string) error {
	lower := strings.ToLower(text)
	for _, w := range f.words {
		if strings.Contains(lower, w) {
			return fmt.Errorf("%w: contains %q", ErrRejected, w)
		}
	}
	return nil
}

// Classify разбирает текст один раз при создании сообщения.
// Оферта с нераспознанными ценой или объёмом остаётся обычным текстом.
func Classify(text string) model.Payload {
	switch {
	case strings.HasPrefix(text, OfferPrefix):
		if price, qty, ok := ParseOffer(text); ok {
			return model.Payload{Kind: model.PayloadOffer, PricePerKg: price, QuantityKg: qty}
		}
	case strings.HasPrefix(text, MediatorPrefix):
		return model.Payload{Kind: model.PayloadMediator, Text: strings.TrimPrefix(text, MediatorPrefix)}
	}
	return model.Payload{Kind: model.PayloadText}
}

// ParseOffer извлекает цену за кг и объём из текста оферты.
func ParseOffer(text string) (price, qty float64, ok bool) {
	m := offerRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, 0, false
	}
	price, err := strconv.ParseFloat(m[1], 64)
	if err != nil || price <= 0 {
		return 0, 0, false
	}
	qty, err = strconv.ParseFloat(m[2], 64)
	if err != nil || qty <= 0 {
		return 0, 0, false
	}
	return price, qty, true
}

// FormatOffer — каноничный текст оферты: "OFFER: I propose ₹25/kg for 100 kg.".
func FormatOffer(price, qty float64) string {
	return fmt.Sprintf("%s I propose ₹%s/kg for %s kg.", OfferPrefix, formatNumber(price), formatNumber(qty))
}

// AcceptanceText — ответ на принятую оферту.
func AcceptanceText(offerText string) string {
	return AcceptedPrefix + offerText
}

// MediatorText — сообщение-подсказка медиатора.
func MediatorText(suggestion string) string {
	return MediatorPrefix + strings.TrimSpace(suggestion)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
