package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agrilink/internal/callserver"
	"github.com/agrilink/internal/chat"
	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/middleware"
	"github.com/agrilink/internal/moderation"
	"github.com/agrilink/internal/repository"
)

// maxBodySize — JSON-тела запросов; изображения для оценки ущерба ограничены отдельно.
const maxBodySize = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

// userID — пользователь из DemoAuth; false и 401, если его нет.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.GetUserID(r.Context())
	if id == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return id, true
}

// writeServiceError переводит ошибки сервисов в HTTP-статусы.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, moderation.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, "Message blocked: contains inappropriate content.")
	case errors.Is(err, chat.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, chat.ErrDeleteWindow):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, callserver.ErrBusy):
		writeError(w, http.StatusConflict, "busy")
	case errors.Is(err, callserver.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
