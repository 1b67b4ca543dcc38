// Package conversation строит переписки из журнала сообщений.
// Это чистая проекция: ничего не кэширует и пересчитывается при каждом вызове.
package conversation

import (
	"slices"

	"github.com/agrilink/internal/model"
)

// Source отдаёт снимок всех сообщений (repository.MessageRepository).
type Source interface {
	All() []model.Message
}

type View struct {
	src Source
}

func NewView(src Source) *View {
	return &View{src: src}
}

// ChatSummary — строка списка чатов.
type ChatSummary struct {
	PartnerID   string         `json:"partner_id"`
	LastMessage *model.Message `json:"last_message,omitempty"`
	UnreadCount int            `json:"unread_count"`
}

func sortThread(msgs []model.Message) {
	slices.SortStableFunc(msgs, func(a, b model.Message) int {
		switch {
		case a.Less(&b):
			return -1
		case b.Less(&a):
			return 1
		}
		return 0
	})
}

// ThreadFor — сообщения пары {viewer, partner} в любом направлении, кроме удалённых viewer «у себя»,
// по возрастанию (timestamp, id).
func (v *View) ThreadFor(viewerID, partnerID string) []model.Message {
	all := v.src.All()
	out := make([]model.Message, 0, len(all)/2)
	for i := range all {
		m := &all[i]
		if m.Between(viewerID, partnerID) && !m.HiddenFor(viewerID) {
			out = append(out, *m)
		}
	}
	sortThread(out)
	return out
}

// UnreadCount — непрочитанные сообщения к viewer от всех собеседников.
func (v *View) UnreadCount(viewerID string) int {
	n := 0
	for _, m := range v.src.All() {
		if m.ReceiverID == viewerID && !m.IsRead {
			n++
		}
	}
	return n
}

// UnreadFrom — непрочитанные сообщения к viewer от partner.
func (v *View) UnreadFrom(viewerID, partnerID string) int {
	n := 0
	for _, m := range v.src.All() {
		if m.ReceiverID == viewerID && m.SenderID == partnerID && !m.IsRead {
			n++
		}
	}
	return n
}

// Chats — собеседники viewer с последним видимым сообщением, свежие первыми.
// Переписка, где все сообщения скрыты viewer, в список не попадает.
func (v *View) Chats(viewerID string) []ChatSummary {
	all := v.src.All()
	byPartner := make(map[string]*ChatSummary)
	for i := range all {
		m := &all[i]
		if m.SenderID != viewerID && m.ReceiverID != viewerID {
			continue
		}
		partner := m.Partner(viewerID)
		s, ok := byPartner[partner]
		if !ok {
			s = &ChatSummary{PartnerID: partner}
			byPartner[partner] = s
		}
		if m.ReceiverID == viewerID && !m.IsRead {
			s.UnreadCount++
		}
		if m.HiddenFor(viewerID) {
			continue
		}
		if s.LastMessage == nil || s.LastMessage.Less(m) {
			s.LastMessage = m
		}
	}

	out := make([]ChatSummary, 0, len(byPartner))
	for _, s := range byPartner {
		if s.LastMessage == nil {
			continue
		}
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b ChatSummary) int {
		switch {
		case b.LastMessage.Less(a.LastMessage):
			return -1
		case a.LastMessage.Less(b.LastMessage):
			return 1
		}
		return 0
	})
	return out
}
