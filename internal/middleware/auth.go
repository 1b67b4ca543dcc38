package middleware

import (
	"net/http"
	"strings"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/model"
)

// Authenticator проверяет демо-учётку (repository.UserDirectory.Authenticate).
type Authenticator func(userID, password string) (*model.User, bool)

// Credentials достаёт учётные данные из X-User-Id/X-Password или из query (WebSocket не шлёт заголовки).
func Credentials(r *http.Request) (userID, password string) {
	userID = r.Header.Get("X-User-Id")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	password = r.Header.Get("X-Password")
	if password == "" {
		password = r.URL.Query().Get("password")
	}
	return strings.TrimSpace(userID), password
}

// DemoAuth пускает запрос, если пара user_id/пароль совпадает с демо-каталогом.
func DemoAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, password := Credentials(r)
			if userID == "" || password == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			u, ok := auth(userID, password)
			if !ok {
				logger.Debugf("auth: bad credentials user=%s password=%s", userID, MaskSecret(password))
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u.ID, u.Role)))
		})
	}
}

// RequireRole — 403 для остальных ролей. Ставится после DemoAuth.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		})
	}
}

// MaskSecret маскирует пароль в логах.
func MaskSecret(s string) string {
	if len(s) <= 1 {
		return "****"
	}
	return s[:1] + "***"
}
