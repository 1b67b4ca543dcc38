package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

// Store хранит браузерные подписки пользователя (не больше maxSubsPerUser, новые в конце).
type Store interface {
	Add(ctx context.Context, userID string, sub PushSubscription) error
	Remove(ctx context.Context, userID, endpoint string) error
	List(ctx context.Context, userID string) ([]PushSubscription, error)
}

// RedisStore — список JSON-подписок в push:subs:<user_id> с TTL 30 дней.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Add(ctx context.Context, userID string, sub PushSubscription) error {
	if err := s.Remove(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + userID
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push store add: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]PushSubscription, error) {
	items, err := s.rdb.LRange(ctx, redisKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("push store list: %w", err)
	}
	out := make([]PushSubscription, 0, len(items))
	for _, item := range items {
		var sub PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			out = append(out, sub)
		}
	}
	return out, nil
}

// Remove переписывает список без endpoint одной транзакцией.
func (s *RedisStore) Remove(ctx context.Context, userID, endpoint string) error {
	key := redisKeyPrefix + userID
	items, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("push store remove: %w", err)
	}
	kept := make([]any, 0, len(items))
	for _, item := range items {
		var sub PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(items) {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(kept) > 0 {
		pipe.RPush(ctx, key, kept...)
		pipe.Expire(ctx, key, subscriptionTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push store remove: %w", err)
	}
	return nil
}

// MemoryStore — подписки в памяти процесса (без REDIS_URL и в тестах).
type MemoryStore struct {
	mu   sync.Mutex
	subs map[string][]PushSubscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string][]PushSubscription)}
}

func (s *MemoryStore) Add(_ context.Context, userID string, sub PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := without(s.subs[userID], sub.Endpoint)
	list = append(list, sub)
	if len(list) > maxSubsPerUser {
		list = list[len(list)-maxSubsPerUser:]
	}
	s.subs[userID] = list
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, userID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[userID] = without(s.subs[userID], endpoint)
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PushSubscription(nil), s.subs[userID]...), nil
}

func without(list []PushSubscription, endpoint string) []PushSubscription {
	out := list[:0:0]
	for _, sub := range list {
		if sub.Endpoint != endpoint {
			out = append(out, sub)
		}
	}
	return out
}
