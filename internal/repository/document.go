package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/storage"
)

var ErrNotFound = errors.New("not found")

// document — копия JSON-массива из KV в памяти процесса.
// Каждое изменение перечитывает документ, применяет правку и перезаписывает его целиком.
type document[T any] struct {
	kv  storage.KV
	key string

	mu    sync.RWMutex
	items []T
	// written — последняя запись этого процесса; уведомление с тем же содержимым — собственное эхо.
	written []byte
}

func newDocument[T any](kv storage.KV, key string) *document[T] {
	return &document[T]{kv: kv, key: key}
}

// read загружает документ из KV. Повреждённый JSON даёт пустую коллекцию.
func (d *document[T]) read(ctx context.Context) ([]T, error) {
	raw, err := d.kv.Get(ctx, d.key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", d.key, err)
	}
	return d.decode(raw), nil
}

func (d *document[T]) decode(raw []byte) []T {
	if len(raw) == 0 {
		return nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Warnf("storage: %s is corrupt, starting empty: %v", d.key, err)
		return nil
	}
	return items
}

// load заменяет копию в памяти содержимым KV.
func (d *document[T]) load(ctx context.Context) error {
	items, err := d.read(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.items = items
	d.mu.Unlock()
	return nil
}

// update применяет fn к свежей копии документа и записывает результат, если fn вернул true.
func (d *document[T]) update(ctx context.Context, fn func(items []T) ([]T, bool)) error {
	defer logger.DeferLogDuration("doc.update "+d.key, time.Now())()
	d.mu.Lock()
	defer d.mu.Unlock()
	items, err := d.read(ctx)
	if err != nil {
		return err
	}
	items, changed := fn(items)
	if !changed {
		d.items = items
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.key, err)
	}
	if err := d.kv.Set(ctx, d.key, raw); err != nil {
		return fmt.Errorf("save %s: %w", d.key, err)
	}
	d.items = items
	d.written = raw
	return nil
}

// snapshot возвращает копию текущего среза (элементы копируются по значению).
func (d *document[T]) snapshot() []T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.items)
}

// reset физически удаляет все элементы.
func (d *document[T]) reset(ctx context.Context) error {
	return d.update(ctx, func([]T) ([]T, bool) { return []T{}, true })
}

// watch перечитывает документ при изменении ключа другим экземпляром и вызывает onChange.
// Уведомления о собственных записях пропускаются: копия в памяти уже актуальна.
// Блокирует до отмены ctx.
func (d *document[T]) watch(ctx context.Context, onChange func()) error {
	ch, err := d.kv.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", d.key, err)
	}
	for key := range ch {
		if key != d.key {
			continue
		}
		changed, err := d.reload(ctx)
		if err != nil {
			logger.Errorf("storage: reload %s: %v", d.key, err)
			continue
		}
		if changed && onChange != nil {
			onChange()
		}
	}
	return ctx.Err()
}

// reload подтягивает чужие изменения; false — в KV лежит то, что записал этот процесс.
func (d *document[T]) reload(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.kv.Get(ctx, d.key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", d.key, err)
	}
	if d.written != nil && bytes.Equal(raw, d.written) {
		return false, nil
	}
	d.items = d.decode(raw)
	d.written = nil
	return true, nil
}
