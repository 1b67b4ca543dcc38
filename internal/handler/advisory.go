package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agrilink/internal/advisory"
	"github.com/agrilink/internal/middleware"
)

// maxImageSize — фото посевов для оценки ущерба.
const maxImageSize = 8 << 20

// AdvisoryHandler — советы агронома. Сервис всегда отвечает 200: при сбое внешнего API —
// фиксированной подсказкой.
type AdvisoryHandler struct {
	client *advisory.Client
}

func NewAdvisoryHandler(client *advisory.Client) *AdvisoryHandler {
	return &AdvisoryHandler{client: client}
}

// Damage — POST /api/advisory/damage, multipart с полем image.
func (h *AdvisoryHandler) Damage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+1<<20)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxImageSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		writeError(w, http.StatusBadRequest, "image must be an image")
		return
	}
	writeJSON(w, http.StatusOK, h.client.EstimateDamage(r.Context(), data, mime))
}

// Weather — POST /api/advisory/weather.
func (h *AdvisoryHandler) Weather(w http.ResponseWriter, r *http.Request) {
	var req advisory.Weather
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"insight": h.client.WeatherInsight(r.Context(), req)})
}

type assistRequest struct {
	Query    string           `json:"query"`
	Context  advisory.Context `json:"context"`
	Language string           `json:"language"`
	Mode     advisory.Mode    `json:"mode"`
}

// Assist — POST /api/advisory/assistant: вопрос голосовому помощнику или mode=guidance для экрана.
func (h *AdvisoryHandler) Assist(w http.ResponseWriter, r *http.Request) {
	var req assistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Mode != advisory.ModeGuidance && strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	if req.Context.UserRole == "" {
		req.Context.UserRole = string(middleware.GetRole(r.Context()))
	}
	answer := h.client.Assist(r.Context(), req.Query, req.Context, req.Language, req.Mode)
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

type harvestRequest struct {
	CropName   string `json:"crop_name"`
	SowingDate string `json:"sowing_date"`
}

// Harvest — POST /api/advisory/harvest {crop_name, sowing_date: YYYY-MM-DD}.
func (h *AdvisoryHandler) Harvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sowing, err := time.Parse(time.DateOnly, req.SowingDate)
	if err != nil || strings.TrimSpace(req.CropName) == "" {
		writeError(w, http.StatusBadRequest, "crop_name and sowing_date (YYYY-MM-DD) required")
		return
	}
	writeJSON(w, http.StatusOK, h.client.PredictHarvest(r.Context(), req.CropName, sowing))
}
