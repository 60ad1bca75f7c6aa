package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
)

const (
	DefaultDLQPage = 50
	MaxDLQPage     = 200
)

var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DLQRepository owns outbox_dlq, the resting place of events the publisher
// gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// List returns the newest dead letters first.
func (r *DLQRepository) List(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	switch {
	case limit <= 0:
		limit = DefaultDLQPage
	case limit > MaxDLQPage:
		limit = MaxDLQPage
	}
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Replay puts a dead-lettered event back in the pending set with a fresh
// attempt budget and removes it from the DLQ. If retention already pruned
// the outbox row, it is recreated from the DLQ copy under the same id so
// consumer idempotency still recognizes it.
func (r *DLQRepository) Replay(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", eventID).Order("failed_at DESC").First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDeadLetterNotFound
			}
			return err
		}

		res := tx.Model(&models.OutboxEvent{}).Where("id = ?", eventID).Updates(map[string]any{
			"published_at":  nil,
			"attempt_count": 0,
			"last_error":    nil,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			restored := models.OutboxEvent{
				ID:            entry.EventID,
				EventType:     entry.EventType,
				AggregateType: entry.AggregateType,
				AggregateID:   entry.AggregateID,
				Payload:       entry.Payload,
			}
			if err := tx.Create(&restored).Error; err != nil {
				return err
			}
		}
		return tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{}).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteBefore prunes dead letters that failed before cutoff.
func (r *DLQRepository) DeleteBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
