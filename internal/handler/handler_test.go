package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agrilink/internal/callserver"
	"github.com/agrilink/internal/chat"
	"github.com/agrilink/internal/config"
	"github.com/agrilink/internal/media"
	"github.com/agrilink/internal/middleware"
	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/moderation"
	"github.com/agrilink/internal/notify"
	"github.com/agrilink/internal/repository"
	"github.com/agrilink/internal/storage/memory"
)

type testAPI struct {
	srv *httptest.Server
}

// newTestAPI собирает те же маршруты, что и services/api, поверх памяти.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	kv := memory.New()
	msgs := repository.NewMessageRepository(kv)
	notifRepo := repository.NewNotificationRepository(kv)
	feedback := repository.NewFeedbackRepository(kv)
	for _, load := range []func(context.Context) error{msgs.Load, notifRepo.Load, feedback.Load} {
		if err := load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	users := repository.NewUserDirectory(config.DefaultUsers())
	notifier := notify.NewRouter(notifRepo)
	svc := chat.NewService(msgs, users, feedback, moderation.NewFilter(nil), notifier, nil, chat.Config{})
	calls := callserver.NewService(svc, notifier, users, media.NewManager(nil), callserver.Config{RingTimeout: time.Minute})
	t.Cleanup(calls.Close)

	chatH := NewChatHandler(svc)
	msgH := NewMessageHandler(svc)
	notifH := NewNotificationHandler(notifier)
	feedbackH := NewFeedbackHandler(svc)
	callH := NewCallHandler(calls)

	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	r.Group(func(r chi.Router) {
		r.Use(middleware.DemoAuth(users.Authenticate))
		r.Get("/api/call/validate", CallValidate)
		r.Get("/api/chats", chatH.ListChats)
		r.Get("/api/chats/{partnerId}/messages", chatH.Thread)
		r.Post("/api/chats/{partnerId}/offers", chatH.SendOffer)
		r.Post("/api/chats/{partnerId}/mediate", chatH.Mediate)
		r.Get("/api/unread", chatH.Unread)
		r.Post("/api/messages", msgH.Send)
		r.Post("/api/messages/{id}/accept", msgH.AcceptOffer)
		r.Delete("/api/messages/{id}", msgH.Delete)
		r.Get("/api/notifications", notifH.List)
		r.Post("/api/notifications/{id}/read", notifH.MarkRead)
		r.With(middleware.RequireRole(model.RoleBuyer)).Post("/api/feedback", feedbackH.Create)
		r.Post("/api/calls", callH.Start)
		r.Post("/api/calls/{id}/reject", callH.Reject)
		r.Get("/api/calls/active", callH.Active)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv}
}

var passwords = map[string]string{"u1": "1234", "u2": "1234", "owner1": "0987"}

func (a *testAPI) do(t *testing.T, method, path, user, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		req.Header.Set("X-User-Id", user)
		req.Header.Set("X-Password", passwords[user])
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)
	if code := api.do(t, http.MethodGet, "/api/chats", "", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("no credentials: %d", code)
	}
	req, _ := http.NewRequest(http.MethodGet, api.srv.URL+"/api/chats", nil)
	req.Header.Set("X-User-Id", "u1")
	req.Header.Set("X-Password", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", resp.StatusCode)
	}

	var out map[string]string
	if code := api.do(t, http.MethodGet, "/api/call/validate", "u2", "", &out); code != http.StatusOK || out["user_id"] != "u2" {
		t.Fatalf("validate = %d %v", code, out)
	}
}

func TestSendModerationOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	if code := api.do(t, http.MethodPost, "/api/messages", "u2", `{"receiver_id":"u1","text":"This is a SCAM"}`, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("banned message status = %d, want 422", code)
	}
	var m model.Message
	if code := api.do(t, http.MethodPost, "/api/messages", "u2", `{"receiver_id":"u1","text":"Great tomatoes!"}`, &m); code != http.StatusCreated {
		t.Fatalf("send status = %d", code)
	}
	var thread []model.Message
	api.do(t, http.MethodGet, "/api/chats/u2/messages", "u1", "", &thread)
	if len(thread) != 1 || thread[0].Text != "Great tomatoes!" {
		t.Fatalf("thread = %+v", thread)
	}
	var unread map[string]int
	api.do(t, http.MethodGet, "/api/unread", "u1", "", &unread)
	if unread["unread"] != 1 {
		t.Fatalf("unread = %v", unread)
	}
}

func TestOfferAcceptOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	var offer model.Message
	if code := api.do(t, http.MethodPost, "/api/chats/u1/offers", "u2", `{"price":25,"quantity":100}`, &offer); code != http.StatusCreated {
		t.Fatalf("offer status = %d", code)
	}
	if code := api.do(t, http.MethodPost, "/api/messages/"+offer.ID+"/accept", "u2", "", nil); code != http.StatusForbidden {
		t.Fatalf("self accept status = %d, want 403", code)
	}
	var acc model.Message
	if code := api.do(t, http.MethodPost, "/api/messages/"+offer.ID+"/accept", "u1", "", &acc); code != http.StatusCreated {
		t.Fatalf("accept status = %d", code)
	}
	if acc.Text != "Accepted: OFFER: I propose ₹25/kg for 100 kg." {
		t.Fatalf("acceptance = %q", acc.Text)
	}
	if code := api.do(t, http.MethodDelete, "/api/messages/"+offer.ID+"?scope=everyone", "u1", "", nil); code != http.StatusForbidden {
		t.Fatalf("receiver delete-for-everyone = %d", code)
	}
	if code := api.do(t, http.MethodDelete, "/api/messages/"+offer.ID+"?scope=all", "u2", "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad scope = %d", code)
	}
	if code := api.do(t, http.MethodDelete, "/api/messages/"+offer.ID+"?scope=everyone", "u2", "", nil); code != http.StatusNoContent {
		t.Fatalf("delete-for-everyone = %d", code)
	}
}

func TestMediateFallsBackWithoutAdvisor(t *testing.T) {
	api := newTestAPI(t)
	var m model.Message
	if code := api.do(t, http.MethodPost, "/api/chats/u1/mediate", "u2", "", &m); code != http.StatusCreated {
		t.Fatalf("mediate status = %d", code)
	}
	if !strings.HasPrefix(m.Text, moderation.MediatorPrefix) || m.Payload == nil || m.Payload.Kind != model.PayloadMediator {
		t.Fatalf("mediator message = %+v", m)
	}
}

func TestFeedbackAndNotifications(t *testing.T) {
	api := newTestAPI(t)
	if code := api.do(t, http.MethodPost, "/api/feedback", "u1", `{"farmer_id":"u1","rating":5}`, nil); code != http.StatusForbidden {
		t.Fatalf("farmer feedback = %d, want 403", code)
	}
	if code := api.do(t, http.MethodPost, "/api/feedback", "u2", `{"farmer_id":"u1","rating":5,"comment":"Excellent"}`, nil); code != http.StatusCreated {
		t.Fatalf("feedback = %d", code)
	}
	var list []model.Notification
	api.do(t, http.MethodGet, "/api/notifications?unread=1", "u1", "", &list)
	if len(list) != 1 || list[0].Type != model.NotificationFeedback {
		t.Fatalf("notifications = %+v", list)
	}
	if code := api.do(t, http.MethodPost, "/api/notifications/"+list[0].ID+"/read", "u2", "", nil); code != http.StatusNotFound {
		t.Fatalf("foreign mark read = %d, want 404", code)
	}
	if code := api.do(t, http.MethodPost, "/api/notifications/"+list[0].ID+"/read", "u1", "", nil); code != http.StatusNoContent {
		t.Fatalf("mark read = %d", code)
	}
	api.do(t, http.MethodGet, "/api/notifications?unread=1", "u1", "", &list)
	if len(list) != 0 {
		t.Fatalf("still unread: %+v", list)
	}
}

func TestCallsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	var sig model.CallSignal
	if code := api.do(t, http.MethodPost, "/api/calls", "u2", `{"receiver_id":"u1","type":"audio"}`, &sig); code != http.StatusCreated {
		t.Fatalf("start = %d", code)
	}
	if sig.Status != model.CallOffering || sig.CallerName != "Ram" {
		t.Fatalf("signal = %+v", sig)
	}
	if code := api.do(t, http.MethodPost, "/api/calls", "owner1", `{"receiver_id":"u1"}`, nil); code != http.StatusConflict {
		t.Fatalf("busy receiver = %d, want 409", code)
	}
	if code := api.do(t, http.MethodGet, "/api/calls/active", "u1", "", nil); code != http.StatusOK {
		t.Fatalf("active = %d", code)
	}
	if code := api.do(t, http.MethodPost, "/api/calls/"+sig.ID+"/reject", "u1", "", nil); code != http.StatusNoContent {
		t.Fatalf("reject = %d", code)
	}
	if code := api.do(t, http.MethodGet, "/api/calls/active", "u1", "", nil); code != http.StatusNoContent {
		t.Fatalf("active after reject = %d", code)
	}
	var list []model.Notification
	api.do(t, http.MethodGet, "/api/notifications", "u1", "", &list)
	if len(list) != 1 || list[0].Type != model.NotificationCallMissed || list[0].Text != "Missed call from Ram" {
		t.Fatalf("missed call notifications = %+v", list)
	}
}
