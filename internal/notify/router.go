// Package notify превращает доменные события (пропущенный звонок, отзыв, заказ)
// в записи уведомлений конкретных пользователей и доставляет их онлайн-клиентам и в Web Push.
package notify

import (
	"context"
	"fmt"

	"github.com/agrilink/internal/logger"
	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/repository"
)

// Publisher доставляет уведомление подключённым клиентам пользователя (ws.Hub).
type Publisher interface {
	PublishNotification(userID string, n model.Notification)
}

// Pusher отправляет уведомление офлайн-устройствам (push.Client).
type Pusher interface {
	NotifyNotification(ctx context.Context, n model.Notification)
}

// Counter считает созданные уведомления по типу (metrics).
type Counter interface {
	NotificationCreated(t model.NotificationType)
}

type Router struct {
	repo    *repository.NotificationRepository
	pub     Publisher
	pusher  Pusher
	counter Counter
}

func NewRouter(repo *repository.NotificationRepository) *Router {
	return &Router{repo: repo}
}

func (r *Router) WithPublisher(p Publisher) *Router { r.pub = p; return r }
func (r *Router) WithPusher(p Pusher) *Router       { r.pusher = p; return r }
func (r *Router) WithCounter(c Counter) *Router     { r.counter = c; return r }

// Notify сохраняет уведомление (без дедупликации) и рассылает его.
func (r *Router) Notify(ctx context.Context, userID string, typ model.NotificationType, text, referenceID string) (model.Notification, error) {
	if userID == "" {
		return model.Notification{}, fmt.Errorf("notify: empty user id")
	}
	if !typ.Valid() {
		return model.Notification{}, fmt.Errorf("notify: unknown type %q", typ)
	}
	n := model.Notification{UserID: userID, Type: typ, Text: text, ReferenceID: referenceID}
	if err := r.repo.Create(ctx, &n); err != nil {
		return model.Notification{}, fmt.Errorf("notify: %w", err)
	}
	logger.Debugf("notify: %s → %s", typ, userID)
	if r.counter != nil {
		r.counter.NotificationCreated(typ)
	}
	if r.pub != nil {
		r.pub.PublishNotification(userID, n)
	}
	if r.pusher != nil {
		go r.pusher.NotifyNotification(context.WithoutCancel(ctx), n)
	}
	return n, nil
}

// MarkRead — found=false для неизвестного id.
func (r *Router) MarkRead(ctx context.Context, id string) (bool, error) {
	return r.repo.MarkRead(ctx, id)
}

func (r *Router) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return r.repo.MarkAllRead(ctx, userID)
}

// ForUser — все уведомления пользователя, новые первыми.
func (r *Router) ForUser(userID string) []model.Notification {
	return r.repo.ForUser(userID)
}

// Unread — непрочитанные уведомления пользователя.
func (r *Router) Unread(userID string) []model.Notification {
	all := r.repo.ForUser(userID)
	out := all[:0]
	for _, n := range all {
		if !n.IsRead {
			out = append(out, n)
		}
	}
	return out
}

// Owns сообщает, принадлежит ли уведомление пользователю.
func (r *Router) Owns(userID, id string) bool {
	for _, n := range r.repo.ForUser(userID) {
		if n.ID == id {
			return true
		}
	}
	return false
}
