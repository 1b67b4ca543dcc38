package handler

import (
	"net/http"

	"github.com/agrilink/internal/config"
)

// ConfigHandler отдаёт клиенту публичные параметры (без авторизации).
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PushServiceURL == "" || h.cfg.PushVAPIDPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.cfg.PushVAPIDPublicKey,
	})
}

// GetCallConfig — таймауты звонка для клиентского UI.
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ring_timeout_seconds":   int(h.cfg.Call.RingTimeout.Seconds()),
		"network_sample_seconds": int(h.cfg.Call.NetworkSampleInterval.Seconds()),
		"delete_window_seconds":  int(h.cfg.Chat.DeleteWindow.Seconds()),
		"advisory_enabled":       h.cfg.Advisory.APIKey != "",
	})
}
