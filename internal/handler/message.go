package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrilink/internal/chat"
	"github.com/agrilink/internal/ws"
)

// MessageHandler — операции над отдельным сообщением.
type MessageHandler struct {
	svc *chat.Service
}

func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// Send — POST /api/messages. Запрещённые слова — 422, сообщение не создаётся.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req chat.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.svc.Send(r.Context(), uid, req)
	if err != nil {
		writeServiceError(w, "message.Send", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// MarkRead — POST /api/messages/{id}/read.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkRead(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "message.MarkRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete — DELETE /api/messages/{id}?scope=me|everyone (по умолчанию me).
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var err error
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", ws.DeleteForMe:
		err = h.svc.DeleteForMe(r.Context(), uid, id)
	case ws.DeleteForEveryone:
		err = h.svc.DeleteForEveryone(r.Context(), uid, id)
	default:
		writeError(w, http.StatusBadRequest, "scope must be me or everyone")
		return
	}
	if err != nil {
		writeServiceError(w, "message.Delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcceptOffer — POST /api/messages/{id}/accept.
func (h *MessageHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.AcceptOffer(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "message.AcceptOffer", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}
