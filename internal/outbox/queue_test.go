package outbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestQueue(t *testing.T) (*Queue, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:outbox_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Item{}))

	queue := NewQueue(Config{
		Database:       db,
		BackoffBase:    30 * time.Second,
		BackoffCeiling: time.Hour,
	})
	return queue, db
}

func testItem(id, userID string, createdAt int64) Item {
	return Item{
		ID:                id,
		UserID:            userID,
		EntityType:        EntityAttendance,
		EntityID:          fmt.Sprintf("%d", createdAt),
		Operation:         OperationCreate,
		CreatedAtMillis:   createdAt,
		NextRetryAtMillis: createdAt,
	}
}

func TestEnqueueAndDrainFIFO(t *testing.T) {
	queue, db := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueTx(db, testItem("item-2", "worker@example.com", 2000)))
	require.NoError(t, queue.EnqueueTx(db, testItem("item-1", "worker@example.com", 1000)))
	require.NoError(t, queue.EnqueueTx(db, testItem("other", "someone@example.com", 500)))

	items, err := queue.DrainReady(ctx, "worker@example.com", 5000, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "item-1", items[0].ID)
	assert.Equal(t, "item-2", items[1].ID)
}

func TestDrainRespectsRetrySchedule(t *testing.T) {
	queue, db := newTestQueue(t)
	ctx := context.Background()

	future := testItem("future", "worker@example.com", 1000)
	future.NextRetryAtMillis = 9000
	require.NoError(t, queue.EnqueueTx(db, future))
	require.NoError(t, queue.EnqueueTx(db, testItem("ready", "worker@example.com", 2000)))

	items, err := queue.DrainReady(ctx, "worker@example.com", 5000, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ready", items[0].ID)

	items, err = queue.DrainReady(ctx, "worker@example.com", 9000, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestDrainHonorsBatchSize(t *testing.T) {
	queue, db := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, queue.EnqueueTx(db, testItem(fmt.Sprintf("item-%d", i), "worker@example.com", int64(1000+i))))
	}

	items, err := queue.DrainReady(ctx, "worker@example.com", 9000, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestFailReschedulesWithBackoff(t *testing.T) {
	queue, db := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueTx(db, testItem("item-1", "worker@example.com", 1000)))

	now := int64(10_000)
	previousRetry := int64(0)
	for attempt := 1; attempt <= 10; attempt++ {
		require.NoError(t, queue.Fail(ctx, "item-1", now, "connection refused"))

		var item Item
		require.NoError(t, db.Take(&item, "id = ?", "item-1").Error)
		assert.Equal(t, attempt, item.Attempts)
		assert.GreaterOrEqual(t, item.NextRetryAtMillis, previousRetry, "retry schedule must be non-decreasing")
		assert.LessOrEqual(t, item.NextRetryAtMillis, now+time.Hour.Milliseconds(), "retry schedule must respect the ceiling")
		assert.Equal(t, "connection refused", item.LastError)
		previousRetry = item.NextRetryAtMillis
	}
}

func TestAckDeletesItem(t *testing.T) {
	queue, db := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueTx(db, testItem("item-1", "worker@example.com", 1000)))
	require.NoError(t, queue.AckTx(db, "item-1"))

	items, err := queue.DrainReady(ctx, "worker@example.com", 9000, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.ErrorIs(t, queue.AckTx(db, "item-1"), ErrItemNotFound)
}

func TestDeadLetterLeavesDurableRow(t *testing.T) {
	queue, db := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.EnqueueTx(db, testItem("item-1", "worker@example.com", 1000)))
	require.NoError(t, queue.MarkDeadLetter(ctx, "item-1", "payload rejected: 422"))

	// never surfaced as retryable again
	items, err := queue.DrainReady(ctx, "worker@example.com", time.Now().UnixMilli(), 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	pending, err := queue.PendingCount(ctx, "worker@example.com")
	require.NoError(t, err)
	assert.Zero(t, pending)

	dead, err := queue.DeadLetterCount(ctx, "worker@example.com")
	require.NoError(t, err)
	assert.EqualValues(t, 1, dead)

	letters, err := queue.DeadLetters(ctx, "worker@example.com")
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "payload rejected: 422", letters[0].LastError)
}

func TestEnqueueRejectsInvalidItems(t *testing.T) {
	queue, db := newTestQueue(t)

	item := testItem("item-1", "worker@example.com", 1000)
	item.EntityType = "MYSTERY"
	assert.ErrorIs(t, queue.EnqueueTx(db, item), ErrInvalidItem)

	item = testItem("", "worker@example.com", 1000)
	assert.ErrorIs(t, queue.EnqueueTx(db, item), ErrInvalidItem)

	item = testItem("item-1", "", 1000)
	assert.ErrorIs(t, queue.EnqueueTx(db, item), ErrInvalidItem)
}

func TestFailUnknownItem(t *testing.T) {
	queue, _ := newTestQueue(t)
	assert.ErrorIs(t, queue.Fail(context.Background(), "ghost", 1000, "x"), ErrItemNotFound)
	assert.ErrorIs(t, queue.MarkDeadLetter(context.Background(), "ghost", "x"), ErrItemNotFound)
}
