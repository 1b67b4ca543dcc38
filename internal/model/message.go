package model

import "slices"

// DeletedPlaceholder заменяет текст сообщения, удалённого у всех.
const DeletedPlaceholder = "This message was deleted"

type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentLocation AttachmentKind = "location"
	AttachmentAudio    AttachmentKind = "audio"
)

// Valid сообщает, известен ли тип вложения.
func (k AttachmentKind) Valid() bool {
	switch k {
	case AttachmentImage, AttachmentVideo, AttachmentLocation, AttachmentAudio:
		return true
	}
	return false
}

type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
}

type PayloadKind string

const (
	PayloadText     PayloadKind = "text"
	PayloadOffer    PayloadKind = "offer"
	PayloadMediator PayloadKind = "mediator"
	PayloadSystem   PayloadKind = "system"
)

// Payload — разобранное при создании содержимое сообщения (обычный текст, оферта,
// подсказка медиатора, системное уведомление). Отображение не парсит Text повторно.
type Payload struct {
	Kind       PayloadKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	PricePerKg float64     `json:"price_per_kg,omitempty"`
	QuantityKg float64     `json:"quantity_kg,omitempty"`
}

// Message — сообщение между двумя пользователями. Timestamp в миллисекундах (epoch).
type Message struct {
	ID                   string      `json:"id"`
	SenderID             string      `json:"sender_id"`
	ReceiverID           string      `json:"receiver_id"`
	Text                 string      `json:"text"`
	Timestamp            int64       `json:"timestamp"`
	IsRead               bool        `json:"is_read"`
	IsSystem             bool        `json:"is_system,omitempty"`
	Attachment           *Attachment `json:"attachment,omitempty"`
	Payload              *Payload    `json:"payload,omitempty"`
	DeletedFor           []string    `json:"deleted_for,omitempty"`
	IsDeletedForEveryone bool        `json:"is_deleted_for_everyone,omitempty"`
}

// Between сообщает, принадлежит ли сообщение переписке пары {a, b} в любом направлении.
func (m *Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// HiddenFor сообщает, удалил ли пользователь сообщение «у себя».
func (m *Message) HiddenFor(userID string) bool {
	return slices.Contains(m.DeletedFor, userID)
}

// Partner возвращает собеседника относительно userID.
func (m *Message) Partner(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Clone возвращает копию без общих срезов и указателей.
func (m Message) Clone() Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	if m.Payload != nil {
		p := *m.Payload
		m.Payload = &p
	}
	m.DeletedFor = slices.Clone(m.DeletedFor)
	return m
}

// Less — порядок внутри переписки: по времени, затем по id.
func (m *Message) Less(o *Message) bool {
	if m.Timestamp != o.Timestamp {
		return m.Timestamp < o.Timestamp
	}
	return m.ID < o.ID
}
