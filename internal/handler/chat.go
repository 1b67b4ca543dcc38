package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrilink/internal/chat"
)

// ChatHandler — переписка с одним собеседником: лента, прочтение, оферты, посредник, геолокация.
type ChatHandler struct {
	svc *chat.Service
}

func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// ListChats — GET /api/chats.
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Chats(uid))
}

// Thread — GET /api/chats/{partnerId}/messages.
func (h *ChatHandler) Thread(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Thread(uid, chi.URLParam(r, "partnerId")))
}

// ReadThread — POST /api/chats/{partnerId}/read: открытие переписки.
func (h *ChatHandler) ReadThread(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	n, err := h.svc.MarkThreadRead(r.Context(), uid, chi.URLParam(r, "partnerId"))
	if err != nil {
		writeServiceError(w, "chat.ReadThread", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

type offerRequest struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// SendOffer — POST /api/chats/{partnerId}/offers.
func (h *ChatHandler) SendOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req offerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.svc.SendOffer(r.Context(), uid, chi.URLParam(r, "partnerId"), req.Price, req.Quantity)
	if err != nil {
		writeServiceError(w, "chat.SendOffer", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Mediate — POST /api/chats/{partnerId}/mediate.
func (h *ChatHandler) Mediate(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.Mediate(r.Context(), uid, chi.URLParam(r, "partnerId"))
	if err != nil {
		writeServiceError(w, "chat.Mediate", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// NegotiationTip — POST /api/chats/{partnerId}/negotiation: подсказка видна только запросившему.
func (h *ChatHandler) NegotiationTip(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	tip := h.svc.NegotiationTip(r.Context(), uid, chi.URLParam(r, "partnerId"))
	writeJSON(w, http.StatusOK, map[string]string{"suggestion": tip})
}

type locationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ShareLocation — POST /api/chats/{partnerId}/location.
func (h *ChatHandler) ShareLocation(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.svc.ShareLocation(r.Context(), uid, chi.URLParam(r, "partnerId"), req.Latitude, req.Longitude)
	if err != nil {
		writeServiceError(w, "chat.ShareLocation", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Unread — GET /api/unread: счётчик для значка.
func (h *ChatHandler) Unread(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": h.svc.Unread(uid)})
}
