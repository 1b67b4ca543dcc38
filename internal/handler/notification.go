package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/notify"
)

type NotificationHandler struct {
	router *notify.Router
}

func NewNotificationHandler(router *notify.Router) *NotificationHandler {
	return &NotificationHandler{router: router}
}

// List — GET /api/notifications[?unread=1], новые первыми.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("unread") != "" {
		writeJSON(w, http.StatusOK, h.router.Unread(uid))
		return
	}
	writeJSON(w, http.StatusOK, h.router.ForUser(uid))
}

// MarkRead — POST /api/notifications/{id}/read. Чужое уведомление выглядит как несуществующее.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if !h.router.Owns(uid, id) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if _, err := h.router.MarkRead(r.Context(), id); err != nil {
		writeServiceError(w, "notification.MarkRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead — POST /api/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	n, err := h.router.MarkAllRead(r.Context(), uid)
	if err != nil {
		writeServiceError(w, "notification.MarkAllRead", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

type createNotificationRequest struct {
	UserID      string                 `json:"user_id"`
	Type        model.NotificationType `json:"type"`
	Text        string                 `json:"text"`
	ReferenceID string                 `json:"reference_id,omitempty"`
}

// Create — POST /internal/notifications: события маркетплейса (заказы, новые культуры) от
// соседних сервисов. Закрыт middleware.InternalOnly.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Text == "" || !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "user_id, text and a known type are required")
		return
	}
	n, err := h.router.Notify(r.Context(), req.UserID, req.Type, req.Text, req.ReferenceID)
	if err != nil {
		writeServiceError(w, "notification.Create", err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}
