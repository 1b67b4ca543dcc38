package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrilink/internal/config"
	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/storage"
	"github.com/agrilink/internal/storage/memory"
	"github.com/agrilink/internal/storage/pebble"
	"github.com/agrilink/internal/storage/postgres"
	redisstorage "github.com/agrilink/internal/storage/redis"
)

// OpenStore открывает хранилище документов по cfg.Backend.
// Сетевые бэкенды ждут готовности до maxWait (в docker-compose они поднимаются параллельно).
func OpenStore(cfg config.StorageConfig, maxWait time.Duration) (storage.KV, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		logger.Info("storage: memory")
		return memory.New(), nil

	case config.BackendPebble:
		return pebble.Open(cfg.PebbleDir)

	case config.BackendRedis:
		cli, err := withRetry(maxWait, "redis", func(ctx context.Context) (*redisstorage.Client, error) {
			return redisstorage.New(ctx, cfg.RedisURL)
		})
		if err != nil {
			return nil, err
		}
		logger.Info("storage: redis connected")
		return cli, nil

	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("storage postgres: DATABASE_URL is empty")
		}
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections)
		pool, err := withRetry(maxWait, "db", func(ctx context.Context) (*pgxpool.Pool, error) {
			p, err := pgxpool.NewWithConfig(ctx, poolCfg)
			if err != nil {
				return nil, err
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return nil, err
			}
			return p, nil
		})
		if err != nil {
			return nil, err
		}
		cli := postgres.New(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := cli.Migrate(ctx); err != nil {
			cli.Close()
			return nil, err
		}
		logger.Info("storage: postgres connected")
		return cli, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
