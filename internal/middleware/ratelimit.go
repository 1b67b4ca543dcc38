package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitPerIP   = 200 // запросов в минуту
	rateLimitPerUser = 100
	limiterIdleTTL   = 10 * time.Minute
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterPool — token bucket на ключ; давно не использованные ключи вычищаются при обращении.
type limiterPool struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

func newLimiterPool(perMinute int) *limiterPool {
	return &limiterPool{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
	}
}

func (p *limiterPool) allow(key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastSweep) > limiterIdleTTL {
		for k, e := range p.entries {
			if now.Sub(e.seen) > limiterIdleTTL {
				delete(p.entries, k)
			}
		}
		p.lastSweep = now
	}
	e, ok := p.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(p.limit, p.burst)}
		p.entries[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// RateLimiter ограничивает запросы к /api/* по IP и по user_id. 429 при превышении.
type RateLimiter struct {
	byIP   *limiterPool
	byUser *limiterPool
}

func NewRateLimiter(perIP, perUser int) *RateLimiter {
	if perIP <= 0 {
		perIP = rateLimitPerIP
	}
	if perUser <= 0 {
		perUser = rateLimitPerUser
	}
	return &RateLimiter{byIP: newLimiterPool(perIP), byUser: newLimiterPool(perUser)}
}

func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		if !l.byIP.allow(ClientIP(r), now) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if userID := GetUserID(r.Context()); userID != "" && !l.byUser.allow(userID, now) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
