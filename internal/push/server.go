package push

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/agrilink/internal/logger"
)

// Sender доставляет зашифрованный payload в браузер. Возвращает HTTP-статус push-сервиса.
type Sender interface {
	Send(ctx context.Context, payload []byte, sub PushSubscription) (int, error)
}

// WebPushSender — отправка через VAPID (SherClockHolmes/webpush-go).
type WebPushSender struct {
	opts *webpush.Options
}

func NewWebPushSender(keys *VAPIDKeys) *WebPushSender {
	return &WebPushSender{opts: keys.Options()}
}

func (s *WebPushSender) Send(ctx context.Context, payload []byte, sub PushSubscription) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, s.opts)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Server — HTTP-обработчики push-сервиса. sender == nil: подписки сохраняются, отправки нет.
type Server struct {
	store     Store
	sender    Sender
	publicKey string
}

func NewServer(store Store, sender Sender, publicKey string) *Server {
	return &Server{store: store, sender: sender, publicKey: publicKey}
}

// VAPIDPublic — GET /api/vapid-public.
func (s *Server) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if s.publicKey == "" {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(s.publicKey))
}

func validSubscription(sub PushSubscription) bool {
	return sub.Endpoint != "" && sub.Keys.P256dh != "" && sub.Keys.Auth != ""
}

// Subscribe — POST /api/subscribe {user_id, subscription} (от api).
func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.subscribe(w, r, strings.TrimSpace(req.UserID), req.Subscription)
}

// SubscribeUser — подписка от браузера напрямую; userID кладёт middleware.
func (s *Server) SubscribeUser(userID func(context.Context) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub PushSubscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		s.subscribe(w, r, userID(r.Context()), sub)
	}
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request, userID string, sub PushSubscription) {
	if userID == "" || !validSubscription(sub) {
		http.Error(w, "user_id and subscription (endpoint, keys.p256dh, keys.auth) required", http.StatusBadRequest)
		return
	}
	if err := s.store.Add(r.Context(), userID, sub); err != nil {
		logger.Errorf("push subscribe user=%s: %v", userID, err)
		http.Error(w, "failed to save subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unsubscribe — DELETE /api/subscribe {user_id, endpoint}.
func (s *Server) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Endpoint == "" {
		http.Error(w, "user_id and endpoint required", http.StatusBadRequest)
		return
	}
	if err := s.store.Remove(r.Context(), req.UserID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", req.UserID, err)
		http.Error(w, "failed to remove subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notify — POST /api/notify: рассылка на все подписки; 404/410 от push-сервиса удаляют подписку.
func (s *Server) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	subs, err := s.store.List(ctx, req.UserID)
	if err != nil {
		logger.Errorf("push notify user=%s: %v", req.UserID, err)
		http.Error(w, "failed to get subscriptions", http.StatusInternalServerError)
		return
	}
	if s.sender != nil && len(subs) > 0 {
		payload, _ := json.Marshal(map[string]any{"title": req.Title, "body": req.Body, "data": req.Data})
		for _, sub := range subs {
			status, err := s.sender.Send(ctx, payload, sub)
			if err != nil {
				logger.Errorf("push send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
				continue
			}
			if status == http.StatusGone || status == http.StatusNotFound {
				if err := s.store.Remove(ctx, req.UserID, sub.Endpoint); err != nil {
					logger.Errorf("push drop expired subscription: %v", err)
				}
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
