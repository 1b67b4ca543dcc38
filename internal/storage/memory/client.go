package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/agrilink/internal/storage"
)

const watchBufferSize = 64

// Client — KV в памяти процесса (-dev и тесты). Несколько репозиториев поверх одного
// Client ведут себя как вкладки браузера поверх общего localStorage.
type Client struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[chan string]struct{}
	closed   bool
}

func New() *Client {
	return &Client{
		data:     make(map[string][]byte),
		watchers: make(map[chan string]struct{}),
	}
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, storage.ErrClosed
	}
	v, ok := c.data[key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(v), nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return storage.ErrClosed
	}
	c.data[key] = slices.Clone(value)
	// Отправка под блокировкой: канал закрывается только под ней же.
	for w := range c.watchers {
		select {
		case w <- key:
		default:
			// Подписчик не успевает, он всё равно перечитает документ на следующем событии.
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) Watch(ctx context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, storage.ErrClosed
	}
	w := make(chan string, watchBufferSize)
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
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for w := range c.watchers {
		delete(c.watchers, w)
		close(w)
	}
	return nil
}
