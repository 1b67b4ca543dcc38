// Package chat — сценарии переписки: отправка с модерацией, оферты, посредник, геолокация,
// удаление «у себя» и «у всех», прочтение и списки чатов.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agrilink/internal/advisory"
	"github.com/agrilink/internal/conversation"
	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/moderation"
	"github.com/agrilink/internal/repository"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrDeleteWindow = errors.New("delete for everyone window has passed")
	ErrInvalidInput = errors.New("invalid input")
)

// Тексты служебных сообщений.
const (
	LocationText = "📍 Shared Live Location"
	PhotoText    = "📷 Photo"
	VideoText    = "🎥 Video"
	AudioText    = "🎤 Voice message"
	maxTextLen   = 4000
)

// Publisher рассылает изменения переписки подключённым клиентам (ws.Hub).
type Publisher interface {
	PublishMessage(m model.Message)
	PublishMessageUpdate(m model.Message, userIDs ...string)
}

// Metrics — счётчики сообщений.
type Metrics interface {
	MessageSent(kind model.PayloadKind)
	MessageRejected()
	MessageDeleted(scope string)
}

// Notifier — уведомления о новых отзывах (notify.Router).
type Notifier interface {
	Notify(ctx context.Context, userID string, typ model.NotificationType, text, referenceID string) (model.Notification, error)
}

// Advisor — посредник в переговорах (advisory.Client).
type Advisor interface {
	Mediate(ctx context.Context, history string) string
	Negotiate(ctx context.Context, history string) string
}

type Config struct {
	DeleteWindow    time.Duration
	MediatorHistory int
}

type Service struct {
	msgs     *repository.MessageRepository
	view     *conversation.View
	users    *repository.UserDirectory
	feedback *repository.FeedbackRepository
	filter   *moderation.Filter
	notifier Notifier
	advisor  Advisor
	pub      Publisher
	metrics  Metrics
	cfg      Config
	now      func() time.Time
}

func NewService(
	msgs *repository.MessageRepository,
	users *repository.UserDirectory,
	feedback *repository.FeedbackRepository,
	filter *moderation.Filter,
	notifier Notifier,
	advisor Advisor,
	cfg Config,
) *Service {
	if cfg.DeleteWindow <= 0 {
		cfg.DeleteWindow = 2 * time.Minute
	}
	if cfg.MediatorHistory <= 0 {
		cfg.MediatorHistory = 10
	}
	if filter == nil {
		filter = moderation.NewFilter(nil)
	}
	return &Service{
		msgs:     msgs,
		view:     conversation.NewView(msgs),
		users:    users,
		feedback: feedback,
		filter:   filter,
		notifier: notifier,
		advisor:  advisor,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Service) WithPublisher(p Publisher) *Service { s.pub = p; return s }
func (s *Service) WithMetrics(m Metrics) *Service     { s.metrics = m; return s }

// WithClock подменяет часы для проверки окна удаления (тесты).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SendRequest — исходящее сообщение пользователя.
type SendRequest struct {
	ReceiverID string            `json:"receiver_id"`
	Text       string            `json:"text"`
	Attachment *model.Attachment `json:"attachment,omitempty"`
}

func (s *Service) checkPartner(senderID, receiverID string) error {
	if receiverID == "" || receiverID == senderID {
		return fmt.Errorf("%w: bad receiver", ErrInvalidInput)
	}
	if _, err := s.users.GetByID(receiverID); err != nil {
		return fmt.Errorf("receiver %s: %w", receiverID, err)
	}
	return nil
}

// Send — текст пользователя проходит модерацию; при отказе сообщение не создаётся.
func (s *Service) Send(ctx context.Context, senderID string, req SendRequest) (model.Message, error) {
	if err := s.checkPartner(senderID, req.ReceiverID); err != nil {
		return model.Message{}, err
	}
	text := strings.TrimSpace(req.Text)
	if req.Attachment != nil {
		if !req.Attachment.Kind.Valid() || req.Attachment.URL == "" {
			return model.Message{}, fmt.Errorf("%w: bad attachment", ErrInvalidInput)
		}
		if text == "" {
			text = attachmentText(req.Attachment.Kind)
		}
	}
	if text == "" {
		return model.Message{}, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxTextLen {
		return model.Message{}, fmt.Errorf("%w: message too long", ErrInvalidInput)
	}
	if err := s.filter.CheckBanned(text); err != nil {
		if s.metrics != nil {
			s.metrics.MessageRejected()
		}
		logger.Infof("chat: message from %s rejected by moderation", senderID)
		return model.Message{}, err
	}
	m := &model.Message{SenderID: senderID, ReceiverID: req.ReceiverID, Text: text, Attachment: req.Attachment}
	if err := s.appendClassified(ctx, m); err != nil {
		return model.Message{}, err
	}
	return *m, nil
}

func attachmentText(kind model.AttachmentKind) string {
	switch kind {
	case model.AttachmentImage:
		return PhotoText
	case model.AttachmentVideo:
		return VideoText
	case model.AttachmentLocation:
		return LocationText
	}
	return AudioText
}

func (s *Service) appendClassified(ctx context.Context, m *model.Message) error {
	if m.Payload == nil {
		p := moderation.Classify(m.Text)
		m.Payload = &p
	}
	return s.Append(ctx, m)
}

// Append записывает готовое сообщение и рассылает его (системные сообщения звонков).
func (s *Service) Append(ctx context.Context, m *model.Message) error {
	if err := s.msgs.Append(ctx, m); err != nil {
		return fmt.Errorf("chat.Append: %w", err)
	}
	kind := model.PayloadText
	if m.Payload != nil {
		kind = m.Payload.Kind
	}
	if s.metrics != nil {
		s.metrics.MessageSent(kind)
	}
	if s.pub != nil {
		s.pub.PublishMessage(*m)
	}
	return nil
}

// SendOffer — структурированное предложение цены за кг и объёма.
func (s *Service) SendOffer(ctx context.Context, senderID, receiverID string, price, qty float64) (model.Message, error) {
	if err := s.checkPartner(senderID, receiverID); err != nil {
		return model.Message{}, err
	}
	if price <= 0 || qty <= 0 {
		return model.Message{}, fmt.Errorf("%w: price and quantity must be positive", ErrInvalidInput)
	}
	m := &model.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       moderation.FormatOffer(price, qty),
		Payload:    &model.Payload{Kind: model.PayloadOffer, PricePerKg: price, QuantityKg: qty},
	}
	if err := s.Append(ctx, m); err != nil {
		return model.Message{}, err
	}
	return *m, nil
}

// AcceptOffer — получатель оферты отвечает "Accepted: <текст оферты>".
func (s *Service) AcceptOffer(ctx context.Context, userID, messageID string) (model.Message, error) {
	offer, err := s.msgs.GetByID(messageID)
	if err != nil {
		return model.Message{}, err
	}
	if offer.IsDeletedForEveryone || offer.Payload == nil || offer.Payload.Kind != model.PayloadOffer {
		return model.Message{}, fmt.Errorf("%w: not an offer", ErrInvalidInput)
	}
	if offer.ReceiverID != userID {
		return model.Message{}, fmt.Errorf("%w: only the receiver can accept an offer", ErrForbidden)
	}
	m := &model.Message{
		SenderID:   userID,
		ReceiverID: offer.SenderID,
		Text:       moderation.AcceptanceText(offer.Text),
		Payload:    &model.Payload{Kind: model.PayloadText},
	}
	if err := s.Append(ctx, m); err != nil {
		return model.Message{}, err
	}
	return *m, nil
}

// History — последние сообщения переписки в виде "Me: ..." / "<имя собеседника>: ...".
func (s *Service) History(userID, partnerID string) string {
	partnerName := partnerID
	if p, err := s.users.GetByID(partnerID); err == nil {
		partnerName = p.Name
	}
	thread := s.view.ThreadFor(userID, partnerID)
	if len(thread) > s.cfg.MediatorHistory {
		thread = thread[len(thread)-s.cfg.MediatorHistory:]
	}
	lines := make([]string, 0, len(thread))
	for _, m := range thread {
		who := partnerName
		if m.SenderID == userID {
			who = "Me"
		}
		lines = append(lines, who+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

// Mediate просит советника предложить компромисс и публикует подсказку в переписку.
func (s *Service) Mediate(ctx context.Context, userID, partnerID string) (model.Message, error) {
	if err := s.checkPartner(userID, partnerID); err != nil {
		return model.Message{}, err
	}
	suggestion := advisory.FallbackMediator
	if s.advisor != nil {
		suggestion = s.advisor.Mediate(ctx, s.History(userID, partnerID))
	}
	m := &model.Message{SenderID: userID, ReceiverID: partnerID, Text: moderation.MediatorText(suggestion)}
	if err := s.appendClassified(ctx, m); err != nil {
		return model.Message{}, err
	}
	return *m, nil
}

// NegotiationTip — подсказка только для запросившего, в переписку не попадает.
func (s *Service) NegotiationTip(ctx context.Context, userID, partnerID string) string {
	if s.advisor == nil {
		return advisory.FallbackNegotiation
	}
	return s.advisor.Negotiate(ctx, s.History(userID, partnerID))
}

// ShareLocation отправляет ссылку на карту.
func (s *Service) ShareLocation(ctx context.Context, userID, partnerID string, lat, lon float64) (model.Message, error) {
	if err := s.checkPartner(userID, partnerID); err != nil {
		return model.Message{}, err
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return model.Message{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidInput)
	}
	m := &model.Message{
		SenderID:   userID,
		ReceiverID: partnerID,
		Text:       LocationText,
		Attachment: &model.Attachment{
			Kind: model.AttachmentLocation,
			URL:  fmt.Sprintf("https://www.google.com/maps?q=%g,%g", lat, lon),
		},
	}
	if err := s.appendClassified(ctx, m); err != nil {
		return model.Message{}, err
	}
	return *m, nil
}

func (s *Service) participantMessage(userID, messageID string) (model.Message, error) {
	m, err := s.msgs.GetByID(messageID)
	if err != nil {
		return model.Message{}, err
	}
	if m.SenderID != userID && m.ReceiverID != userID {
		return model.Message{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	return m, nil
}

func (s *Service) reload(messageID string) (model.Message, bool) {
	m, err := s.msgs.GetByID(messageID)
	return m, err == nil
}

// DeleteForMe скрывает сообщение только у userID.
func (s *Service) DeleteForMe(ctx context.Context, userID, messageID string) error {
	if _, err := s.participantMessage(userID, messageID); err != nil {
		return err
	}
	found, err := s.msgs.SoftDelete(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if !found {
		return repository.ErrNotFound
	}
	if s.metrics != nil {
		s.metrics.MessageDeleted("me")
	}
	if m, ok := s.reload(messageID); ok && s.pub != nil {
		s.pub.PublishMessageUpdate(m, userID)
	}
	return nil
}

// DeleteForEveryone — только отправитель и только в течение DeleteWindow после отправки.
func (s *Service) DeleteForEveryone(ctx context.Context, userID, messageID string) error {
	m, err := s.participantMessage(userID, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return fmt.Errorf("%w: only the sender can delete for everyone", ErrForbidden)
	}
	if m.IsDeletedForEveryone {
		return nil
	}
	if s.now().Sub(time.UnixMilli(m.Timestamp)) >= s.cfg.DeleteWindow {
		return ErrDeleteWindow
	}
	found, err := s.msgs.HardDelete(ctx, messageID)
	if err != nil {
		return err
	}
	if !found {
		return repository.ErrNotFound
	}
	if s.metrics != nil {
		s.metrics.MessageDeleted("everyone")
	}
	if updated, ok := s.reload(messageID); ok && s.pub != nil {
		s.pub.PublishMessageUpdate(updated, updated.SenderID, updated.ReceiverID)
	}
	return nil
}

// MarkRead — пометить прочитанным может только получатель.
func (s *Service) MarkRead(ctx context.Context, userID, messageID string) error {
	m, err := s.participantMessage(userID, messageID)
	if err != nil {
		return err
	}
	if m.ReceiverID != userID {
		return fmt.Errorf("%w: only the receiver can mark a message read", ErrForbidden)
	}
	if m.IsRead {
		return nil
	}
	if _, err := s.msgs.MarkRead(ctx, messageID); err != nil {
		return err
	}
	if updated, ok := s.reload(messageID); ok && s.pub != nil {
		s.pub.PublishMessageUpdate(updated, updated.SenderID, updated.ReceiverID)
	}
	return nil
}

// MarkThreadRead — открытие переписки помечает входящие прочитанными.
func (s *Service) MarkThreadRead(ctx context.Context, userID, partnerID string) (int, error) {
	n, err := s.msgs.MarkThreadRead(ctx, userID, partnerID)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.pub != nil {
		for _, m := range s.view.ThreadFor(partnerID, userID) {
			if m.SenderID == partnerID && m.IsRead {
				s.pub.PublishMessageUpdate(m, partnerID)
			}
		}
	}
	return n, nil
}

func (s *Service) Thread(userID, partnerID string) []model.Message {
	return s.view.ThreadFor(userID, partnerID)
}

func (s *Service) Unread(userID string) int {
	return s.view.UnreadCount(userID)
}

// ChatView — строка списка чатов с профилем собеседника.
type ChatView struct {
	conversation.ChatSummary
	Partner *model.UserPublic `json:"partner,omitempty"`
}

func (s *Service) Chats(userID string) []ChatView {
	summaries := s.view.Chats(userID)
	out := make([]ChatView, 0, len(summaries))
	for _, cs := range summaries {
		cv := ChatView{ChatSummary: cs}
		if u, err := s.users.GetByID(cs.PartnerID); err == nil {
			p := u.ToPublic()
			cv.Partner = &p
		}
		out = append(out, cv)
	}
	return out
}

// FeedbackRequest — отзыв покупателя о фермере.
type FeedbackRequest struct {
	FarmerID string `json:"farmer_id"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
	CropID   string `json:"crop_id,omitempty"`
	CropName string `json:"crop_name,omitempty"`
}

// LeaveFeedback сохраняет отзыв и уведомляет фермера (FEEDBACK_RECEIVED).
func (s *Service) LeaveFeedback(ctx context.Context, buyerID string, req FeedbackRequest) (model.Feedback, error) {
	buyer, err := s.users.GetByID(buyerID)
	if err != nil {
		return model.Feedback{}, err
	}
	if buyer.Role != model.RoleBuyer {
		return model.Feedback{}, fmt.Errorf("%w: only buyers leave feedback", ErrForbidden)
	}
	farmer, err := s.users.GetByID(req.FarmerID)
	if err != nil {
		return model.Feedback{}, err
	}
	if farmer.Role != model.RoleFarmer {
		return model.Feedback{}, fmt.Errorf("%w: feedback target is not a farmer", ErrInvalidInput)
	}
	if req.Rating < 1 || req.Rating > 5 {
		return model.Feedback{}, fmt.Errorf("%w: rating must be 1..5", ErrInvalidInput)
	}
	comment := strings.TrimSpace(req.Comment)
	if err := s.filter.CheckBanned(comment); err != nil {
		return model.Feedback{}, err
	}
	fb := model.Feedback{
		FarmerID:  farmer.ID,
		BuyerID:   buyer.ID,
		BuyerName: buyer.Name,
		CropID:    req.CropID,
		CropName:  req.CropName,
		Rating:    req.Rating,
		Comment:   comment,
	}
	if err := s.feedback.Create(ctx, &fb); err != nil {
		return model.Feedback{}, fmt.Errorf("chat.LeaveFeedback: %w", err)
	}
	if s.notifier != nil {
		text := fmt.Sprintf("New %d★ review from %s: \"%s...\"", fb.Rating, buyer.Name, preview(comment, 20))
		if _, err := s.notifier.Notify(ctx, farmer.ID, model.NotificationFeedback, text, fb.ID); err != nil {
			logger.Errorf("chat: feedback notify %s: %v", farmer.ID, err)
		}
	}
	return fb, nil
}

// Feedback — отзывы о фермере и средняя оценка.
func (s *Service) Feedback(farmerID string) ([]model.Feedback, float64) {
	return s.feedback.ForFarmer(farmerID), s.feedback.AverageRating(farmerID)
}

// preview — первые n символов (рун) строки.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
