package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/migrations"
)

const notifyChannel = "kv_changed"

// Client хранит документы в таблице kv_store; изменения рассылаются через NOTIFY kv_changed.
type Client struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Migrate применяет встроенные миграции по порядку имён файлов.
func (c *Client) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return fmt.Errorf("postgres migrate glob: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("postgres migrate read %s: %w", name, err)
		}
		if _, err := c.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("postgres migrate %s: %w", name, err)
		}
	}
	logger.Info("migrations applied")
	return nil
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	defer logger.DeferLogDuration("kv.Get", time.Now())()
	var v []byte
	err := c.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv.Get %s: %w", key, err)
	}
	return v, nil
}

// Set перезаписывает документ и отправляет NOTIFY в одной транзакции.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	defer logger.DeferLogDuration("kv.Set", time.Now())()
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("kv.Set begin: %w", err)
	}
	defer tx.Rollback(ctx)
	_, err = tx.Exec(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("kv.Set %s: %w", key, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key); err != nil {
		return fmt.Errorf("kv.Set notify %s: %w", key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("kv.Set commit: %w", err)
	}
	return nil
}

// Watch держит отдельное соединение с LISTEN kv_changed до отмены ctx.
func (c *Client) Watch(ctx context.Context) (<-chan string, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv.Watch acquire: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("kv.Watch listen: %w", err)
	}
	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer func() {
			if !conn.Conn().IsClosed() {
				unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				_, _ = conn.Exec(unlistenCtx, "UNLISTEN "+notifyChannel)
				cancel()
			}
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Errorf("kv.Watch wait: %v", err)
				}
				return
			}
			select {
			case out <- n.Payload:
			default:
			}
		}
	}()
	return out, nil
}
