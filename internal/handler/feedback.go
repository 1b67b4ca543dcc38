package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrilink/internal/chat"
	"github.com/agrilink/internal/model"
)

type FeedbackHandler struct {
	svc *chat.Service
}

func NewFeedbackHandler(svc *chat.Service) *FeedbackHandler {
	return &FeedbackHandler{svc: svc}
}

// Create — POST /api/feedback (только покупатель).
func (h *FeedbackHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req chat.FeedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fb, err := h.svc.LeaveFeedback(r.Context(), uid, req)
	if err != nil {
		writeServiceError(w, "feedback.Create", err)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

type farmerFeedbackResponse struct {
	FarmerID      string           `json:"farmer_id"`
	AverageRating float64          `json:"average_rating"`
	Items         []model.Feedback `json:"items"`
}

// ForFarmer — GET /api/farmers/{farmerId}/feedback.
func (h *FeedbackHandler) ForFarmer(w http.ResponseWriter, r *http.Request) {
	farmerID := chi.URLParam(r, "farmerId")
	items, avg := h.svc.Feedback(farmerID)
	if items == nil {
		items = []model.Feedback{}
	}
	writeJSON(w, http.StatusOK, farmerFeedbackResponse{FarmerID: farmerID, AverageRating: avg, Items: items})
}
