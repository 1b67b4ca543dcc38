package callserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/agrilink/internal/model"
)

var errUnauthorized = errors.New("unauthorized")

// ValidateViaHTTP проверяет учётные данные запросом к API (GET /api/call/validate с X-User-Id и X-Password).
func ValidateViaHTTP(apiURL string, client *http.Client) ValidateFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	base := strings.TrimSuffix(apiURL, "/")
	return func(ctx context.Context, userID, password string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/call/validate", nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("X-User-Id", userID)
		req.Header.Set("X-Password", password)
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", errUnauthorized
		}
		var out struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.UserID == "" {
			return "", errUnauthorized
		}
		return out.UserID, nil
	}
}

// ValidateLocal проверяет учётные данные в процессе (api держит справочник пользователей сам).
func ValidateLocal(auth func(id, password string) (*model.User, bool)) ValidateFunc {
	return func(_ context.Context, userID, password string) (string, error) {
		u, ok := auth(userID, password)
		if !ok {
			return "", errUnauthorized
		}
		return u.ID, nil
	}
}
