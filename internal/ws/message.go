package ws

import "github.com/agrilink/internal/model"

type EventType string

// Клиент → сервер.
const (
	EventSendMessage    EventType = "send_message"
	EventSendOffer      EventType = "send_offer"
	EventAcceptOffer    EventType = "accept_offer"
	EventMarkRead       EventType = "mark_read"
	EventMarkThreadRead EventType = "mark_thread_read"
	EventDeleteMessage  EventType = "delete_message"
	EventTyping         EventType = "typing"
)

// Сервер → клиент.
const (
	EventNewMessage      EventType = "new_message"
	EventMessageUpdated  EventType = "message_updated"
	EventMessagesChanged EventType = "messages_changed"
	EventNotification    EventType = "notification"
	EventUserOnline      EventType = "user_online"
	EventUserOffline     EventType = "user_offline"
	EventError           EventType = "error"
)

// Области удаления сообщения.
const (
	DeleteForMe       = "me"
	DeleteForEveryone = "everyone"
)

// IncomingMessage — событие от клиента.
type IncomingMessage struct {
	Type       EventType         `json:"type"`
	ReceiverID string            `json:"receiver_id,omitempty"`
	Text       string            `json:"text,omitempty"`
	Attachment *model.Attachment `json:"attachment,omitempty"`

	// Оферта
	PricePerKg float64 `json:"price_per_kg,omitempty"`
	QuantityKg float64 `json:"quantity_kg,omitempty"`

	// accept_offer, mark_read, delete_message
	MessageID string `json:"message_id,omitempty"`
	Scope     string `json:"scope,omitempty"`

	// mark_thread_read, typing
	PartnerID string `json:"partner_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type TypingPayload struct {
	UserID string `json:"user_id"`
}

type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// ChangedPayload — документ хранилища изменён другим процессом, клиенту нужно перечитать.
type ChangedPayload struct {
	Key string `json:"key"`
}
