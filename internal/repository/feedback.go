package repository

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/agrilink/internal/model"
	"github.com/agrilink/internal/storage"
)

// FeedbackRepository — отзывы покупателей о фермерах (ключ agri_feedbacks).
type FeedbackRepository struct {
	doc *document[model.Feedback]
	now func() time.Time
}

func NewFeedbackRepository(kv storage.KV) *FeedbackRepository {
	return &FeedbackRepository{doc: newDocument[model.Feedback](kv, storage.KeyFeedbacks), now: time.Now}
}

func (r *FeedbackRepository) Load(ctx context.Context) error {
	return r.doc.load(ctx)
}

func (r *FeedbackRepository) Watch(ctx context.Context, onChange func()) error {
	return r.doc.watch(ctx, onChange)
}

func (r *FeedbackRepository) Create(ctx context.Context, f *model.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Timestamp == 0 {
		f.Timestamp = r.now().UnixMilli()
	}
	stored := *f
	return r.doc.update(ctx, func(items []model.Feedback) ([]model.Feedback, bool) {
		return append(items, stored), true
	})
}

// ForFarmer — отзывы о фермере в порядке поступления.
func (r *FeedbackRepository) ForFarmer(farmerID string) []model.Feedback {
	items := r.doc.snapshot()
	return slices.DeleteFunc(items, func(f model.Feedback) bool { return f.FarmerID != farmerID })
}

// AverageRating — средняя оценка фермера; 0, если отзывов нет.
func (r *FeedbackRepository) AverageRating(farmerID string) float64 {
	list := r.ForFarmer(farmerID)
	if len(list) == 0 {
		return 0
	}
	sum := 0
	for _, f := range list {
		sum += f.Rating
	}
	return float64(sum) / float64(len(list))
}
