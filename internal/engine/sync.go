package engine

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shiftpunch/attendance/engine/internal/attendance"
	"github.com/shiftpunch/attendance/engine/internal/outbox"
	"github.com/shiftpunch/attendance/engine/internal/remote"
	"github.com/shiftpunch/attendance/engine/internal/timeutil"
)

// SyncReport summarizes one sync pass. Delivery failures are not errors:
// they show up as a pending count the UI may surface.
type SyncReport struct {
	Pushed              int   `json:"pushed"`
	PushFailures        int   `json:"pushFailures"`
	Pulled              int   `json:"pulled"`
	SkippedPendingLocal int   `json:"skippedPendingLocal"`
	PendingCount        int64 `json:"pendingCount"`
	DeadLetterCount     int64 `json:"deadLetterCount"`
}

// RunSync drains the user's outbox against the remote authority and then
// pulls and merges server state. The phases are independent: push failures
// never block the pull, and the pull never clears the outbox. Both phases
// are idempotent under re-entry, so a crash mid-pass just leaves work for
// the next trigger.
func (s *Service) RunSync(ctx context.Context, rawUserID string) (SyncReport, error) {
	userID, err := attendance.NewUserID(rawUserID)
	if err != nil {
		return SyncReport{}, newServiceError(opRunSync, "invalid_user_id", err)
	}

	report := SyncReport{}
	s.pushPhase(ctx, userID.String(), &report)
	s.pullPhase(ctx, userID.String(), &report)

	if pending, err := s.queue.PendingCount(ctx, userID.String()); err == nil {
		report.PendingCount = pending
	}
	if dead, err := s.queue.DeadLetterCount(ctx, userID.String()); err == nil {
		report.DeadLetterCount = dead
	}
	return report, nil
}

func (s *Service) pushPhase(ctx context.Context, userID string, report *SyncReport) {
	nowMillis := timeutil.NowMillis(s.clock)
	items, err := s.queue.DrainReady(ctx, userID, nowMillis, s.drainBatchSize)
	if err != nil {
		s.logError(opRunSync, "drain_failed", err, zap.String("user_id", userID))
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		if s.deliver(ctx, item) {
			report.Pushed++
		} else {
			report.PushFailures++
		}
	}
}

// deliver pushes one outbox item, re-reading the referenced entity at
// delivery time so the latest local edit is always what goes out.
func (s *Service) deliver(ctx context.Context, item outbox.Item) bool {
	switch item.EntityType {
	case outbox.EntityAttendance:
		return s.deliverAttendance(ctx, item)
	case outbox.EntityProfileField, outbox.EntitySetting:
		return s.deliverProfileField(ctx, item)
	default:
		// Unknown kind cannot be delivered by this build; park it visibly.
		s.deadLetter(ctx, item, "unknown entity type "+string(item.EntityType))
		return false
	}
}

func (s *Service) deliverAttendance(ctx context.Context, item outbox.Item) bool {
	timestampMillis, err := strconv.ParseInt(item.EntityID, 10, 64)
	if err != nil {
		s.deadLetter(ctx, item, "malformed entity id "+item.EntityID)
		return false
	}

	record, err := s.punches.Get(ctx, item.UserID, timestampMillis)
	if errors.Is(err, attendance.ErrNotFound) {
		// The punch vanished locally; nothing deliverable remains but the
		// item stays visible rather than disappearing silently.
		s.logError(opRunSync, "punch_missing_for_item", err,
			zap.String("user_id", item.UserID), zap.String("item_id", item.ID))
		s.deadLetter(ctx, item, "punch record missing locally")
		return false
	}
	if err != nil {
		s.failItem(ctx, item, err)
		return false
	}

	ack, err := s.remote.PushAttendance(ctx, punchPayload(record))
	if err != nil {
		s.classifyDeliveryError(ctx, item, err)
		return false
	}

	nowMillis := timeutil.NowMillis(s.clock)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.punches.MarkSyncedTx(tx, item.UserID, timestampMillis, ack.ServerTimestamp, nowMillis); err != nil {
			return err
		}
		return s.queue.AckTx(tx, item.ID)
	})
	if txErr != nil {
		// Remote accepted but the local bookkeeping failed; the item stays
		// queued and the next delivery is an idempotent re-push.
		s.logError(opRunSync, "ack_transaction_failed", txErr, zap.String("item_id", item.ID))
		return false
	}
	return true
}

func (s *Service) deliverProfileField(ctx context.Context, item outbox.Item) bool {
	field, err := s.profiles.Get(ctx, item.UserID, item.Property)
	if err != nil {
		s.logError(opRunSync, "field_missing_for_item", err,
			zap.String("user_id", item.UserID), zap.String("item_id", item.ID))
		s.deadLetter(ctx, item, "profile field missing locally")
		return false
	}

	_, err = s.remote.PushProfileField(ctx, remote.FieldPayload{
		UserID:    field.UserID,
		Name:      field.Name,
		Value:     field.Value,
		UpdatedAt: field.UpdatedAtMillis,
	})
	if err != nil {
		s.classifyDeliveryError(ctx, item, err)
		return false
	}

	nowMillis := timeutil.NowMillis(s.clock)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.profiles.MarkSyncedTx(tx, field.UserID, field.Name, nowMillis); err != nil {
			return err
		}
		return s.queue.AckTx(tx, item.ID)
	})
	if txErr != nil {
		s.logError(opRunSync, "ack_transaction_failed", txErr, zap.String("item_id", item.ID))
		return false
	}
	return true
}

func (s *Service) classifyDeliveryError(ctx context.Context, item outbox.Item, err error) {
	var rejected *remote.ServerRejectedError
	var authErr *remote.AuthError

	switch {
	case errors.As(err, &rejected):
		s.logError(opRunSync, "payload_rejected", err, zap.String("item_id", item.ID))
		s.deadLetter(ctx, item, rejected.Error())
	case errors.As(err, &authErr):
		if s.credentials != nil {
			s.credentials.Invalidate(item.UserID)
		}
		s.failItem(ctx, item, err)
	default:
		s.failItem(ctx, item, err)
	}
}

func (s *Service) failItem(ctx context.Context, item outbox.Item, cause error) {
	nowMillis := timeutil.NowMillis(s.clock)
	if err := s.queue.Fail(ctx, item.ID, nowMillis, cause.Error()); err != nil {
		s.logError(opRunSync, "reschedule_failed", err, zap.String("item_id", item.ID))
	}
}

func (s *Service) deadLetter(ctx context.Context, item outbox.Item, cause string) {
	if err := s.queue.MarkDeadLetter(ctx, item.ID, cause); err != nil {
		s.logError(opRunSync, "dead_letter_failed", err, zap.String("item_id", item.ID))
	}
}

func (s *Service) pullPhase(ctx context.Context, userID string, report *SyncReport) {
	nowMillis := timeutil.NowMillis(s.clock)
	today := timeutil.BusinessDate(nowMillis)
	from := timeutil.BusinessDate(nowMillis - int64(s.pullWindowDays)*24*60*60*1000)
	// Punches on a midnight-spanning shift may be dated to tomorrow.
	to, err := timeutil.NextBusinessDate(today)
	if err != nil {
		to = today
	}

	payloads, err := s.remote.PullAttendance(ctx, userID, from, to)
	if err != nil {
		s.logError(opRunSync, "pull_failed", err, zap.String("user_id", userID))
		return
	}

	incoming := make([]attendance.PunchRecord, 0, len(payloads))
	for _, payload := range payloads {
		incoming = append(incoming, punchFromPayload(userID, payload))
	}

	mergeReport, err := s.punches.MergeFromServer(ctx, incoming, nowMillis)
	if err != nil {
		s.logError(opRunSync, "merge_failed", err, zap.String("user_id", userID))
		return
	}
	report.Pulled += mergeReport.Inserted + mergeReport.Overwritten
	report.SkippedPendingLocal += mergeReport.SkippedDueToPendingLocal
}

func punchPayload(record attendance.PunchRecord) remote.PunchPayload {
	return remote.PunchPayload{
		Timestamp:        record.TimestampMillis,
		UserID:           record.UserID,
		Direction:        string(record.Direction),
		DateOfPunch:      record.DateOfPunch,
		LatLon:           record.LatLon,
		Address:          record.Address,
		AttendanceStatus: record.AttendanceStatus,
		CreatedOn:        record.CreatedOnMillis,
		ServerTimestamp:  record.ServerTimestamp,
	}
}

func punchFromPayload(userID string, payload remote.PunchPayload) attendance.PunchRecord {
	owner := payload.UserID
	if owner == "" {
		owner = userID
	}
	return attendance.PunchRecord{
		UserID:           owner,
		TimestampMillis:  payload.Timestamp,
		Direction:        attendance.Direction(payload.Direction),
		DateOfPunch:      payload.DateOfPunch,
		LatLon:           payload.LatLon,
		Address:          payload.Address,
		AttendanceStatus: payload.AttendanceStatus,
		CreatedOnMillis:  payload.CreatedOn,
		SyncState:        attendance.SyncStateSynced,
		ServerTimestamp:  payload.ServerTimestamp,
	}
}
