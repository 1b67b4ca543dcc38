package callserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 65536
)

// ValidateFunc проверяет учётные данные подключения и возвращает user_id.
type ValidateFunc func(ctx context.Context, userID, password string) (string, error)

// Hub — WebSocket-сигнализация звонков поверх Service. Одна активная коннекция на пользователя.
type Hub struct {
	svc      *Service
	validate ValidateFunc
	origins  func(*http.Request) bool

	mu      sync.RWMutex
	clients map[string]*callConn
}

type callConn struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	done   chan struct{}
	once   sync.Once
}

// NewHub создаёт хаб и подписывает его на события сервиса.
func NewHub(svc *Service, validate ValidateFunc) *Hub {
	h := &Hub{
		svc:      svc,
		validate: validate,
		origins:  func(*http.Request) bool { return true },
		clients:  make(map[string]*callConn),
	}
	svc.Subscribe(h.dispatch)
	return h
}

// WithOriginCheck ограничивает Origin при upgrade.
func (h *Hub) WithOriginCheck(check func(*http.Request) bool) *Hub {
	h.origins = check
	return h
}

// Online сообщает, подключён ли пользователь к хабу.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) dispatch(ev Event) {
	b, err := json.Marshal(map[string]any{"type": ev.Type, "payload": ev.Payload})
	if err != nil {
		logger.Errorf("call event marshal %s: %v", ev.Type, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, uid := range ev.UserIDs {
		if c := h.clients[uid]; c != nil {
			c.sendRaw(b)
		}
	}
}

// ServeWS обрабатывает WebSocket /call/ws. Query: user_id, password.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, password := q.Get("user_id"), q.Get("password")
	if id == "" || password == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := h.validate(r.Context(), id, password)
	if err != nil {
		logger.Errorf("call ws validate failed: %v", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("call ws upgrade: %v", err)
		return
	}

	c := &callConn{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    h,
		done:   make(chan struct{}),
	}
	h.register(c)
	logger.Infof("call ws connected user_id=%s", userID)
	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *callConn) {
	h.mu.Lock()
	if old, ok := h.clients[c.userID]; ok {
		old.close()
	}
	h.clients[c.userID] = c
	h.mu.Unlock()

	// Входящий звонок, начатый до подключения.
	if sig, ok := h.svc.Active(c.userID); ok && sig.Status == model.CallOffering && sig.ReceiverID == c.userID {
		c.sendMsg(EventIncomingCall, EventPayload{Call: &sig, CallID: sig.ID})
	}
}

func (h *Hub) unregister(c *callConn) {
	h.mu.Lock()
	last := h.clients[c.userID] == c
	if last {
		delete(h.clients, c.userID)
		logger.Infof("call ws disconnected user_id=%s", c.userID)
	}
	h.mu.Unlock()
	c.close()
	if last {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		h.svc.DropUser(ctx, c.userID)
		cancel()
	}
}

func (c *callConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *callConn) sendRaw(b []byte) {
	select {
	case <-c.done:
	case c.send <- b:
	default:
		logger.Warnf("call ws send buffer full user_id=%s", c.userID)
	}
}

func (c *callConn) sendMsg(typ string, payload any) {
	b, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		return
	}
	c.sendRaw(b)
}

func (c *callConn) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendMsg("error", map[string]string{"error": "invalid json"})
			logger.Errorf("call invalid json user_id=%s", c.userID)
			continue
		}
		c.hub.handleMessage(c, msg.Type, msg.Payload)
	}
}

func (c *callConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type callRequest struct {
	CallID string         `json:"call_id"`
	PeerID string         `json:"peer_id"`
	Type   model.CallType `json:"type"`
}

func (h *Hub) handleMessage(c *callConn, typ string, payload json.RawMessage) {
	var body callRequest
	if len(payload) > 0 && json.Unmarshal(payload, &body) != nil {
		c.sendMsg("error", map[string]string{"error": "invalid payload"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	switch typ {
	case "start_call":
		if body.PeerID == "" {
			c.sendMsg("error", map[string]string{"error": "peer_id required"})
			return
		}
		if body.Type == "" {
			body.Type = model.CallVideo
		}
		_, err = h.svc.StartCall(ctx, c.userID, body.PeerID, body.Type)
	case "accept_call":
		_, err = h.svc.AcceptCall(ctx, body.CallID, c.userID)
	case "reject_call":
		err = h.svc.RejectCall(ctx, body.CallID, c.userID)
	case "cancel_call":
		err = h.svc.CancelCall(ctx, body.CallID, c.userID)
	case "hangup":
		err = h.svc.Hangup(ctx, body.CallID, c.userID)
	case "toggle_audio":
		_, err = h.svc.ToggleAudio(body.CallID, c.userID)
	case "toggle_video":
		_, err = h.svc.ToggleVideo(body.CallID, c.userID)
	default:
		logger.Errorf("call unknown message type=%s user_id=%s", typ, c.userID)
		c.sendMsg("error", map[string]string{"error": "unknown type: " + typ})
		return
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidState) && typ != "start_call":
		// Сигнал уже изменён другой стороной.
		logger.Debugf("call %s ignored user_id=%s: %v", typ, c.userID, err)
	case errors.Is(err, ErrBusy):
		c.sendMsg("error", map[string]string{"error": "busy", "peer_id": body.PeerID})
	default:
		logger.Warnf("call %s user_id=%s: %v", typ, c.userID, err)
		c.sendMsg("error", map[string]string{"error": err.Error()})
	}
}
