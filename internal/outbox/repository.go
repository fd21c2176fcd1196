package outbox

import (
	"context"
	"time"

	"github.com/fabrica-platform/esb-relay/internal/model"
	"gorm.io/gorm"
)

// Repository owns the outbox table of one domain database.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create stages a record on the given transaction. Used by services that
// emit events by hand; the interceptor stages its own records.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, rec *model.OutboxRecord) error {
	return tx.WithContext(ctx).Create(rec).Error
}

// PollPending pulls unprocessed records in creation order.
func (r *Repository) PollPending(ctx context.Context, limit int) ([]model.OutboxRecord, error) {
	var recs []model.OutboxRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// MarkProcessed flips a record after the bus acknowledged it.
func (r *Repository) MarkProcessed(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.OutboxStatusProcessed,
			"processed_at": &now,
			"last_error":   "",
		}).Error
}

// MarkFailed records the last publish error; the record stays eligible for
// retry only when status is reset, so failed is terminal and operator-driven.
func (r *Repository) MarkFailed(ctx context.Context, id, errMsg string) error {
	if len(errMsg) > 512 {
		errMsg = errMsg[:512]
	}
	return r.db.WithContext(ctx).Model(&model.OutboxRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.OutboxStatusFailed,
			"last_error": errMsg,
		}).Error
}

// CountPending reports the publish backlog.
func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.OutboxRecord{}).
		Where("status = ?", model.OutboxStatusPending).
		Count(&n).Error
	return n, err
}
