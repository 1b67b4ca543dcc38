package repository

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/storage"
)

// NotificationRepository хранит уведомления всех пользователей (ключ agri_notifs).
type NotificationRepository struct {
	doc *document[model.Notification]
	now func() time.Time
}

func NewNotificationRepository(kv storage.KV) *NotificationRepository {
	return &NotificationRepository{doc: newDocument[model.Notification](kv, storage.KeyNotifications), now: time.Now}
}

func (r *NotificationRepository) Load(ctx context.Context) error {
	return r.doc.load(ctx)
}

func (r *NotificationRepository) Watch(ctx context.Context, onChange func()) error {
	return r.doc.watch(ctx, onChange)
}

// Create добавляет уведомление; новые идут первыми, как в ленте.
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timestamp == 0 {
		n.Timestamp = r.now().UnixMilli()
	}
	stored := *n
	return r.doc.update(ctx, func(items []model.Notification) ([]model.Notification, bool) {
		return append([]model.Notification{stored}, items...), true
	})
}

// MarkRead возвращает found=false для неизвестного id.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	found := false
	err := r.doc.update(ctx, func(items []model.Notification) ([]model.Notification, bool) {
		for i := range items {
			if items[i].ID == id {
				found = true
				if items[i].IsRead {
					return items, false
				}
				items[i].IsRead = true
				return items, true
			}
		}
		return items, false
	})
	return found, err
}

// MarkAllRead возвращает число помеченных уведомлений.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int, error) {
	n := 0
	err := r.doc.update(ctx, func(items []model.Notification) ([]model.Notification, bool) {
		for i := range items {
			if items[i].UserID == userID && !items[i].IsRead {
				items[i].IsRead = true
				n++
			}
		}
		return items, n > 0
	})
	return n, err
}

// ForUser — уведомления пользователя, новые первыми.
func (r *NotificationRepository) ForUser(userID string) []model.Notification {
	items := r.doc.snapshot()
	return slices.DeleteFunc(items, func(n model.Notification) bool { return n.UserID != userID })
}

func (r *NotificationRepository) Reset(ctx context.Context) error {
	return r.doc.reset(ctx)
}
