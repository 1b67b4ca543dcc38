package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrilink/internal/callserver"
	"github.com/agrilink/internal/middleware"
	"github.com/agrilink/internal/model"
)

// CallHandler — REST-дубль сигналов звонка для клиентов без WebSocket.
type CallHandler struct {
	svc *callserver.Service
}

func NewCallHandler(svc *callserver.Service) *CallHandler {
	return &CallHandler{svc: svc}
}

type startCallRequest struct {
	ReceiverID string         `json:"receiver_id"`
	Type       model.CallType `json:"type"`
}

// Start — POST /api/calls.
func (h *CallHandler) Start(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req startCallRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = model.CallVideo
	}
	if req.ReceiverID == "" || !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "receiver_id and type audio|video required")
		return
	}
	sig, err := h.svc.StartCall(r.Context(), uid, req.ReceiverID, req.Type)
	if err != nil {
		writeServiceError(w, "call.Start", err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

// Accept — POST /api/calls/{id}/accept.
func (h *CallHandler) Accept(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	sig, err := h.svc.AcceptCall(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		writeServiceError(w, "call.Accept", err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// Reject — POST /api/calls/{id}/reject.
func (h *CallHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "call.Reject", h.svc.RejectCall)
}

// Cancel — POST /api/calls/{id}/cancel.
func (h *CallHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, "call.Cancel", h.svc.CancelCall)
}

// End — POST /api/calls/{id}/end: длительность в ответе.
func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.EndCall(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		writeServiceError(w, "call.End", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"duration":         callserver.FormatDuration(d),
		"duration_seconds": int(d.Seconds()),
	})
}

func (h *CallHandler) finish(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, callID, userID string) error) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), chi.URLParam(r, "id"), uid); err != nil {
		writeServiceError(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Active — GET /api/calls/active: 204, если звонка нет.
func (h *CallHandler) Active(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	sig, found := h.svc.Active(uid)
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// CallValidate — GET /api/call/validate для микросервисов (звонки, push): учётные данные в
// X-User-Id/X-Password. Стоит за DemoAuth, так что здесь пользователь уже проверен.
func CallValidate(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r.Context())
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": uid})
}
