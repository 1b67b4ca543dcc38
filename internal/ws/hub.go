package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agrilink/internal/chat"
	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/moderation"
	"github.com/agrilink/internal/repository"
)

// ChatService — операции переписки, доступные по WebSocket (chat.Service).
type ChatService interface {
	Send(ctx context.Context, senderID string, req chat.SendRequest) (model.Message, error)
	SendOffer(ctx context.Context, senderID, receiverID string, price, qty float64) (model.Message, error)
	AcceptOffer(ctx context.Context, userID, messageID string) (model.Message, error)
	MarkRead(ctx context.Context, userID, messageID string) error
	MarkThreadRead(ctx context.Context, userID, partnerID string) (int, error)
	DeleteForMe(ctx context.Context, userID, messageID string) error
	DeleteForEveryone(ctx context.Context, userID, messageID string) error
}

// Gauge — число открытых подключений (metrics.Metrics).
type Gauge interface {
	WSConnected()
	WSDisconnected()
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	maxConns   int
	chat       ChatService
	gauge      Gauge
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(chatSvc ChatService, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		chat:       chatSvc,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) WithGauge(g Gauge) *Hub { h.gauge = g; return h }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	first := len(h.clients[c.userID]) == 0
	if first {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	if h.gauge != nil {
		h.gauge.WSConnected()
	}
	if first {
		h.broadcastUserStatus(c.userID, true)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	last := len(clients) == 0
	if last {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	c.Close()
	if h.gauge != nil {
		h.gauge.WSDisconnected()
	}
	if last {
		h.broadcastUserStatus(c.userID, false)
	}
}

// Online сообщает, есть ли у пользователя открытые подключения.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// HandleMessage выполняет событие клиента; результат приходит всем через Publish*.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws."+string(msg.Type), time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	switch msg.Type {
	case EventSendMessage:
		_, err = h.chat.Send(ctx, c.userID, chat.SendRequest{ReceiverID: msg.ReceiverID, Text: msg.Text, Attachment: msg.Attachment})
	case EventSendOffer:
		_, err = h.chat.SendOffer(ctx, c.userID, msg.ReceiverID, msg.PricePerKg, msg.QuantityKg)
	case EventAcceptOffer:
		_, err = h.chat.AcceptOffer(ctx, c.userID, msg.MessageID)
	case EventMarkRead:
		err = h.chat.MarkRead(ctx, c.userID, msg.MessageID)
	case EventMarkThreadRead:
		_, err = h.chat.MarkThreadRead(ctx, c.userID, msg.PartnerID)
	case EventDeleteMessage:
		if msg.Scope == DeleteForEveryone {
			err = h.chat.DeleteForEveryone(ctx, c.userID, msg.MessageID)
		} else {
			err = h.chat.DeleteForMe(ctx, c.userID, msg.MessageID)
		}
	case EventTyping:
		if msg.PartnerID != "" {
			h.sendToUser(msg.PartnerID, OutgoingMessage{Type: EventTyping, Payload: TypingPayload{UserID: c.userID}})
		}
	default:
		h.sendToClient(c, errorMessage("unknown event type"))
		return
	}
	if err != nil {
		logger.Debugf("ws %s user=%s: %v", msg.Type, c.userID, err)
		h.sendToClient(c, errorMessage(ErrorText(err)))
	}
}

// ErrorText — сообщение об ошибке для пользователя.
func ErrorText(err error) string {
	switch {
	case errors.Is(err, moderation.ErrRejected):
		return "Message blocked: contains inappropriate content."
	case errors.Is(err, chat.ErrDeleteWindow):
		return "You can only delete for everyone within 2 minutes of sending."
	case errors.Is(err, chat.ErrForbidden):
		return "forbidden"
	case errors.Is(err, chat.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, repository.ErrNotFound):
		return "not found"
	}
	return "internal error"
}

func errorMessage(text string) OutgoingMessage {
	return OutgoingMessage{Type: EventError, Payload: text}
}

// PublishMessage рассылает новое сообщение обоим участникам.
func (h *Hub) PublishMessage(m model.Message) {
	out := OutgoingMessage{Type: EventNewMessage, Payload: m}
	h.sendToUser(m.SenderID, out)
	if m.ReceiverID != m.SenderID {
		h.sendToUser(m.ReceiverID, out)
	}
}

// PublishMessageUpdate рассылает изменённое сообщение перечисленным пользователям.
func (h *Hub) PublishMessageUpdate(m model.Message, userIDs ...string) {
	out := OutgoingMessage{Type: EventMessageUpdated, Payload: m}
	for _, uid := range userIDs {
		h.sendToUser(uid, out)
	}
}

func (h *Hub) PublishNotification(userID string, n model.Notification) {
	h.sendToUser(userID, OutgoingMessage{Type: EventNotification, Payload: n})
}

// BroadcastChanged — документ key изменён в хранилище другим процессом.
func (h *Hub) BroadcastChanged(key string) {
	h.broadcast(OutgoingMessage{Type: EventMessagesChanged, Payload: ChangedPayload{Key: key}}, "")
}

func (h *Hub) broadcastUserStatus(userID string, online bool) {
	typ := EventUserOffline
	if online {
		typ = EventUserOnline
	}
	h.broadcast(OutgoingMessage{Type: typ, Payload: UserStatusPayload{UserID: userID, Online: online}}, userID)
}

// broadcast отправляет всем подключённым, кроме except.
func (h *Hub) broadcast(msg OutgoingMessage, except string) {
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for uid, clients := range h.clients {
		if uid == except {
			continue
		}
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients := h.clients[userID]
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
