package storage

import (
	"context"
	"errors"
)

// Ключи документов: каждый хранит полный JSON-массив и перезаписывается целиком при каждом изменении.
const (
	KeyMessages      = "agri_messages"
	KeyNotifications = "agri_notifs"
	KeyFeedbacks     = "agri_feedbacks"
)

// ErrClosed возвращается при обращении к закрытому хранилищу.
var ErrClosed = errors.New("storage closed")

// KV — хранилище «ключ → документ» с уведомлениями об изменениях.
// Реализации: memory.Client (-dev, тесты), redis.Client (несколько процессов),
// pebble.Client (локальный диск), postgres.Client (LISTEN/NOTIFY).
type KV interface {
	// Get возвращает значение ключа; nil, nil — если ключа нет.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set перезаписывает значение и оповещает подписчиков Watch.
	Set(ctx context.Context, key string, value []byte) error
	// Watch отдаёт имена изменённых ключей до отмены ctx. Канал закрывается при выходе.
	Watch(ctx context.Context) (<-chan string, error)
	Close() error
}
