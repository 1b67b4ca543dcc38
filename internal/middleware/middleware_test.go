package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agrilink/internal/model"
)

func demoUsers(userID, password string) (*model.User, bool) {
	switch {
	case userID == "u1" && password == "1234":
		return &model.User{ID: "u1", Role: model.RoleFarmer}, true
	case userID == "u2" && password == "1234":
		return &model.User{ID: "u2", Role: model.RoleBuyer}, true
	}
	return nil, false
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetUserID(r.Context()) + "/" + string(GetRole(r.Context()))))
}

func TestDemoAuth(t *testing.T) {
	h := DemoAuth(demoUsers)(http.HandlerFunc(echoUser))

	tests := []struct {
		name   string
		target string
		header map[string]string
		code   int
		body   string
	}{
		{"headers", "/", map[string]string{"X-User-Id": "u1", "X-Password": "1234"}, http.StatusOK, "u1/FARMER"},
		{"query", "/?user_id=u2&password=1234", nil, http.StatusOK, "u2/BUYER"},
		{"missing", "/", nil, http.StatusUnauthorized, ""},
		{"wrong password", "/", map[string]string{"X-User-Id": "u1", "X-Password": "0000"}, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(model.RoleBuyer)(http.HandlerFunc(echoUser))
	for role, want := range map[model.Role]int{model.RoleBuyer: http.StatusOK, model.RoleFarmer: http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithUser(req.Context(), "x", role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("role %s: status = %d, want %d", role, rec.Code, want)
		}
	}
}

func TestLimiterPool(t *testing.T) {
	p := newLimiterPool(3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !p.allow("k", now) {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if p.allow("k", now) {
		t.Fatal("fourth request allowed")
	}
	if !p.allow("other", now) {
		t.Fatal("keys share a bucket")
	}
	if !p.allow("k", now.Add(30*time.Second)) {
		t.Fatal("bucket did not refill")
	}
	p.allow("fresh", now.Add(limiterIdleTTL+time.Minute))
	if _, ok := p.entries["other"]; ok {
		t.Fatal("idle key not swept")
	}
}

func TestRateLimiterHandler(t *testing.T) {
	l := NewRateLimiter(100, 2)
	h := l.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithUser(req.Context(), "u1", model.RoleFarmer))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	tests := []struct {
		name   string
		remote string
		secret string
		code   int
	}{
		{"loopback", "127.0.0.1:5000", "", http.StatusOK},
		{"private", "10.1.2.3:5000", "", http.StatusOK},
		{"public", "8.8.8.8:5000", "", http.StatusForbidden},
		{"public with secret", "8.8.8.8:5000", "s3cret", http.StatusOK},
		{"public wrong secret", "8.8.8.8:5000", "nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/internal", nil)
		req.RemoteAddr = tt.remote
		if tt.secret != "" {
			req.Header.Set("X-Internal-Secret", tt.secret)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.code {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.code)
		}
	}
}

func TestClientIPPrefersProxyHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := ClientIP(req); got != "10.0.0.1" {
		t.Fatalf("ClientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("ClientIP = %q", got)
	}
	req.Header.Set("X-Real-Ip", "198.51.100.2")
	if got := ClientIP(req); got != "198.51.100.2" {
		t.Fatalf("ClientIP = %q", got)
	}
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
