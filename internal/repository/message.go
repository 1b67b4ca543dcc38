package repository

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/storage"
)

// MessageRepository — упорядоченный журнал сообщений (ключ agri_messages).
// Отсутствующий id — не ошибка: операции возвращают found=false.
type MessageRepository struct {
	doc *document[model.Message]
	now func() time.Time

	entropyMu sync.Mutex
	entropy   io.Reader
}

func NewMessageRepository(kv storage.KV) *MessageRepository {
	return &MessageRepository{
		doc:     newDocument[model.Message](kv, storage.KeyMessages),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// WithClock подменяет часы (тесты).
func (r *MessageRepository) WithClock(now func() time.Time) *MessageRepository {
	r.now = now
	return r
}

// Load читает документ из хранилища (при старте и при внешнем изменении).
func (r *MessageRepository) Load(ctx context.Context) error {
	return r.doc.load(ctx)
}

// Watch перечитывает сообщения при изменениях другим процессом; блокирует до отмены ctx.
func (r *MessageRepository) Watch(ctx context.Context, onChange func()) error {
	return r.doc.watch(ctx, onChange)
}

// newID — ULID: лексикографический порядок совпадает с порядком генерации.
func (r *MessageRepository) newID(t time.Time) string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}

// Append добавляет сообщение; ID и Timestamp назначаются, если пусты.
func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	now := r.now()
	if m.Timestamp == 0 {
		m.Timestamp = now.UnixMilli()
	}
	if m.ID == "" {
		m.ID = r.newID(now)
	}
	stored := m.Clone()
	return r.doc.update(ctx, func(items []model.Message) ([]model.Message, bool) {
		return append(items, stored), true
	})
}

// GetByID возвращает копию сообщения или ErrNotFound.
func (r *MessageRepository) GetByID(id string) (model.Message, error) {
	r.doc.mu.RLock()
	defer r.doc.mu.RUnlock()
	for i := range r.doc.items {
		if r.doc.items[i].ID == id {
			return r.doc.items[i].Clone(), nil
		}
	}
	return model.Message{}, ErrNotFound
}

// All возвращает глубокую копию всех сообщений в порядке добавления.
func (r *MessageRepository) All() []model.Message {
	items := r.doc.snapshot()
	for i := range items {
		items[i] = items[i].Clone()
	}
	return items
}

// mutate применяет fn к сообщению с данным id. found=false, если его нет.
func (r *MessageRepository) mutate(ctx context.Context, id string, fn func(m *model.Message) bool) (bool, error) {
	found := false
	err := r.doc.update(ctx, func(items []model.Message) ([]model.Message, bool) {
		for i := range items {
			if items[i].ID == id {
				found = true
				return items, fn(&items[i])
			}
		}
		return items, false
	})
	return found, err
}

// MarkRead идемпотентно помечает сообщение прочитанным.
func (r *MessageRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	return r.mutate(ctx, id, func(m *model.Message) bool {
		if m.IsRead {
			return false
		}
		m.IsRead = true
		return true
	})
}

// MarkThreadRead помечает прочитанными все сообщения от partner к viewer. Возвращает их число.
func (r *MessageRepository) MarkThreadRead(ctx context.Context, viewerID, partnerID string) (int, error) {
	n := 0
	err := r.doc.update(ctx, func(items []model.Message) ([]model.Message, bool) {
		for i := range items {
			m := &items[i]
			if m.ReceiverID == viewerID && m.SenderID == partnerID && !m.IsRead {
				m.IsRead = true
				n++
			}
		}
		return items, n > 0
	})
	return n, err
}

// SoftDelete скрывает сообщение только для viewerID.
func (r *MessageRepository) SoftDelete(ctx context.Context, id, viewerID string) (bool, error) {
	return r.mutate(ctx, id, func(m *model.Message) bool {
		if m.HiddenFor(viewerID) {
			return false
		}
		m.DeletedFor = append(m.DeletedFor, viewerID)
		return true
	})
}

// HardDelete необратимо заменяет содержимое плейсхолдером для всех участников.
// Проверка, что удаляет отправитель, — на вызывающей стороне.
func (r *MessageRepository) HardDelete(ctx context.Context, id string) (bool, error) {
	return r.mutate(ctx, id, func(m *model.Message) bool {
		if m.IsDeletedForEveryone {
			return false
		}
		m.IsDeletedForEveryone = true
		m.Text = model.DeletedPlaceholder
		m.Attachment = nil
		m.Payload = nil
		return true
	})
}

// Reset удаляет все сообщения.
func (r *MessageRepository) Reset(ctx context.Context) error {
	return r.doc.reset(ctx)
}
