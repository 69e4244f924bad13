package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// DefaultDrainBatchSize caps one drain pass; remaining items wait for the
// next trigger.
const DefaultDrainBatchSize = 50

// Queue provides the durable outbox operations. Enqueue and Ack run on a
// caller-supplied transaction so they can share an atomic unit of work with
// the entity mutation they describe.
type Queue struct {
	db             *gorm.DB
	backoffBase    time.Duration
	backoffCeiling time.Duration
}

// Config tunes queue retry pacing.
type Config struct {
	Database       *gorm.DB
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
}

// NewQueue wraps a database handle with the configured backoff bounds.
func NewQueue(cfg Config) *Queue {
	base := cfg.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	ceiling := cfg.BackoffCeiling
	if ceiling <= 0 {
		ceiling = DefaultBackoffCeiling
	}
	return &Queue{db: cfg.Database, backoffBase: base, backoffCeiling: ceiling}
}

// EnqueueTx inserts a new item inside the given transaction. Fresh items are
// immediately eligible for delivery.
func (q *Queue) EnqueueTx(tx *gorm.DB, item Item) error {
	if err := item.validate(); err != nil {
		return err
	}
	item.Attempts = 0
	item.DeadLetter = false
	if item.NextRetryAtMillis == 0 {
		item.NextRetryAtMillis = item.CreatedAtMillis
	}
	return tx.Create(&item).Error
}

// DrainReady returns the user's items eligible for delivery at the given
// instant, FIFO by creation time, capped at batch. Dead-lettered items never
// surface here.
func (q *Queue) DrainReady(ctx context.Context, userID string, nowMillis int64, batch int) ([]Item, error) {
	if batch <= 0 {
		batch = DefaultDrainBatchSize
	}
	var items []Item
	err := q.db.WithContext(ctx).
		Where("user_id = ? AND dead_letter = ? AND next_retry_at_ms <= ?", userID, false, nowMillis).
		Order("created_at_ms ASC").
		Limit(batch).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// AckTx deletes a delivered item inside the given transaction. Called only
// after the remote authority confirmed receipt.
func (q *Queue) AckTx(tx *gorm.DB, id string) error {
	result := tx.Delete(&Item{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Fail records a transient delivery failure: attempts is incremented and the
// item is rescheduled with exponential backoff. The item stays queued.
func (q *Queue) Fail(ctx context.Context, id string, nowMillis int64, cause string) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item Item
		err := tx.Where("id = ?", id).Take(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		if err != nil {
			return err
		}
		item.Attempts++
		delay := Backoff(item.Attempts, q.backoffBase, q.backoffCeiling)
		item.NextRetryAtMillis = nowMillis + delay.Milliseconds()
		item.LastError = truncateCause(cause)
		return tx.Save(&item).Error
	})
}

// MarkDeadLetter removes an item from the retry-eligible pool after the
// remote authority permanently rejected its payload. The row is kept for
// operator visibility and is never deleted automatically.
func (q *Queue) MarkDeadLetter(ctx context.Context, id string, cause string) error {
	result := q.db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"dead_letter": true,
			"last_error":  truncateCause(cause),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Users lists every user with retryable queued work.
func (q *Queue) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := q.db.WithContext(ctx).Model(&Item{}).
		Where("dead_letter = ?", false).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// PendingCount reports how many retryable items the user still has queued.
func (q *Queue) PendingCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&Item{}).
		Where("user_id = ? AND dead_letter = ?", userID, false).
		Count(&count).Error
	return count, err
}

// DeadLetterCount reports how many items were permanently rejected.
func (q *Queue) DeadLetterCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&Item{}).
		Where("user_id = ? AND dead_letter = ?", userID, true).
		Count(&count).Error
	return count, err
}

// DeadLetters lists the user's permanently rejected items, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, userID string) ([]Item, error) {
	var items []Item
	err := q.db.WithContext(ctx).
		Where("user_id = ? AND dead_letter = ?", userID, true).
		Order("created_at_ms ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func truncateCause(cause string) string {
	const limit = 512
	if len(cause) > limit {
		return cause[:limit]
	}
	return cause
}
