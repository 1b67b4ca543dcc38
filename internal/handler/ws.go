package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/middleware"
	"github.com/agrilink/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins — как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

// CheckOrigin — общий для чата и звонков.
func (h *WSHandler) CheckOrigin(r *http.Request) bool {
	return OriginAllowed(h.allowedOrigins, r)
}

// OriginAllowed сверяет Origin со списком; пустой Origin (не браузер) пропускается.
func OriginAllowed(allowed string, r *http.Request) bool {
	if allowed == "*" || allowed == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(allowed, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS — GET /ws?user_id=..&password=.. (учётка проверена DemoAuth).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r.Context())
	if uid == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.CheckOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, uid)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
