package profile

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shiftpunch/attendance/engine/internal/attendance"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:profile_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Field{}))
	return NewStore(db), db
}

func TestSetTxReportsCreateVersusUpdate(t *testing.T) {
	store, db := newTestStore(t)

	existed, err := store.SetTx(db, "worker@example.com", FieldShiftStartTime, "17:00", 1000)
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = store.SetTx(db, "worker@example.com", FieldShiftStartTime, "18:00", 2000)
	require.NoError(t, err)
	assert.True(t, existed)

	field, err := store.Get(context.Background(), "worker@example.com", FieldShiftStartTime)
	require.NoError(t, err)
	assert.Equal(t, "18:00", field.Value)
	assert.Equal(t, attendance.SyncStatePending, field.SyncState)
	assert.EqualValues(t, 2000, field.UpdatedAtMillis)
}

func TestMarkSyncedTx(t *testing.T) {
	store, db := newTestStore(t)

	_, err := store.SetTx(db, "worker@example.com", FieldShiftEndTime, "06:00", 1000)
	require.NoError(t, err)
	require.NoError(t, store.MarkSyncedTx(db, "worker@example.com", FieldShiftEndTime, 5000))

	field, err := store.Get(context.Background(), "worker@example.com", FieldShiftEndTime)
	require.NoError(t, err)
	assert.Equal(t, attendance.SyncStateSynced, field.SyncState)
	require.NotNil(t, field.LastSyncedAtMillis)
	assert.EqualValues(t, 5000, *field.LastSyncedAtMillis)

	assert.ErrorIs(t, store.MarkSyncedTx(db, "worker@example.com", "missing", 5000), ErrFieldNotFound)
}

func TestGetMissingField(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "worker@example.com", FieldShiftStartTime)
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestShiftConfigForSubstitutesDefaults(t *testing.T) {
	store, _ := newTestStore(t)

	cfg, err := store.ShiftConfigFor(context.Background(), "worker@example.com")
	require.NoError(t, err)
	assert.Equal(t, attendance.DefaultShiftStartTime, cfg.ShiftStartTime)
	assert.Equal(t, attendance.DefaultShiftEndTime, cfg.ShiftEndTime)
	assert.Equal(t, attendance.DefaultMinimumWorkingHours, cfg.MinimumWorkingHours)
	assert.Equal(t, attendance.DefaultAutoCheckoutAfter, cfg.AutoCheckoutAfter)
}

func TestShiftConfigForReadsStoredFields(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	for name, value := range map[string]string{
		FieldShiftStartTime:      "17:00",
		FieldShiftEndTime:        "06:00",
		FieldMinimumWorkingHours: "8",
		FieldAutoCheckoutHours:   "2.5",
	} {
		_, err := store.SetTx(db, "worker@example.com", name, value, 1000)
		require.NoError(t, err)
	}

	cfg, err := store.ShiftConfigFor(ctx, "worker@example.com")
	require.NoError(t, err)
	assert.Equal(t, "17:00", cfg.ShiftStartTime)
	assert.Equal(t, "06:00", cfg.ShiftEndTime)
	assert.Equal(t, 8.0, cfg.MinimumWorkingHours)
	assert.Equal(t, 150*time.Minute, cfg.AutoCheckoutAfter)

	window, err := cfg.Window()
	require.NoError(t, err)
	assert.True(t, window.SpansTwoDays)
}

func TestShiftConfigForIgnoresGarbageNumbers(t *testing.T) {
	store, db := newTestStore(t)

	_, err := store.SetTx(db, "worker@example.com", FieldMinimumWorkingHours, "lots", 1000)
	require.NoError(t, err)

	cfg, err := store.ShiftConfigFor(context.Background(), "worker@example.com")
	require.NoError(t, err)
	assert.Equal(t, attendance.DefaultMinimumWorkingHours, cfg.MinimumWorkingHours)
}
