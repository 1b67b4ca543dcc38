package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/repository"
)

type UserHandler struct {
	users *repository.UserDirectory
}

func NewUserHandler(users *repository.UserDirectory) *UserHandler {
	return &UserHandler{users: users}
}

// GetProfile — GET /api/me.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	u, err := h.users.GetByID(uid)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

// GetUser — GET /api/users/{id}.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

// ListUsers — GET /api/users?role=FARMER|BUYER|OWNER (без role — все).
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	role := model.Role(strings.ToUpper(r.URL.Query().Get("role")))
	writeJSON(w, http.StatusOK, h.users.List(role))
}
