package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftpunch/attendance/engine/internal/attendance"
)

func TestAutoCheckoutSweepRecordsSyntheticPunch(t *testing.T) {
	fixture := newTestFixture(t)
	ctx := context.Background()

	fixture.appendPunch(t, fixture.now, attendance.DirectionIn)

	checkedOut, err := fixture.service.AutoCheckoutSweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, checkedOut, "threshold not reached yet")

	fixture.advance(3*time.Hour + time.Minute)
	checkedOut, err = fixture.service.AutoCheckoutSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testUser}, checkedOut)

	history, err := fixture.service.QueryHistory(ctx, testUser, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, attendance.DirectionOut, history[1].Direction)
	assert.Equal(t, attendance.StatusAutoCheckout, history[1].AttendanceStatus)

	// sweeping again finds nobody checked in
	checkedOut, err = fixture.service.AutoCheckoutSweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, checkedOut)
}

func TestSyncAllUsersDrainsEveryQueue(t *testing.T) {
	fixture := newTestFixture(t)
	ctx := context.Background()

	fixture.appendPunch(t, fixture.now, attendance.DirectionIn)
	_, err := fixture.service.AppendPunch(ctx, attendance.PunchRecord{
		UserID:          "other@example.com",
		TimestampMillis: fixture.now.UnixMilli(),
		Direction:       attendance.DirectionIn,
	})
	require.NoError(t, err)

	reports := fixture.service.SyncAllUsers(ctx)
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[testUser].Pushed)
	assert.Equal(t, 1, reports["other@example.com"].Pushed)
	assert.Len(t, fixture.remote.pushed, 2)

	// nothing queued leaves nothing to do
	reports = fixture.service.SyncAllUsers(ctx)
	assert.Empty(t, reports)
}
