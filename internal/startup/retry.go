package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/agrilink/internal/logger"
)

// withRetry повторяет connect с экспоненциальной паузой (2s → 30s), пока не истечёт maxWait.
// what — имя ресурса для лога ("redis", "db").
func withRetry[T any](maxWait time.Duration, what string, connect func(ctx context.Context) (T, error)) (T, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		v, err := connect(ctx)
		cancel()
		if err == nil {
			return v, nil
		}
		if time.Now().After(deadline) {
			var zero T
			return zero, fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s connect failed, retry in %v: %v", what, backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
