package pebble

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/storage"
)

// Client — документы на локальном диске (один процесс держит блокировку каталога).
// Уведомления об изменениях рассылаются внутри процесса.
type Client struct {
	db *pebble.DB

	mu       sync.Mutex
	watchers map[chan string]struct{}
}

func Open(dir string) (*Client, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", dir, err)
	}
	logger.Infof("pebble opened dir=%s", dir)
	return &Client{db: db, watchers: make(map[chan string]struct{})}, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	v, closer, err := c.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer closer.Close()
	return slices.Clone(v), nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	if err := c.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	c.mu.Lock()
	for w := range c.watchers {
		select {
		case w <- key:
		default:
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) Watch(ctx context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchers == nil {
		return nil, storage.ErrClosed
	}
	w := make(chan string, 64)
	c.watchers[w] = struct{}{}
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if _, ok := c.watchers[w]; ok {
			delete(c.watchers, w)
			close(w)
		}
		c.mu.Unlock()
	}()
	return w, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	for w := range c.watchers {
		delete(c.watchers, w)
		close(w)
	}
	c.watchers = nil
	c.mu.Unlock()
	return c.db.Close()
}
