package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/shiftpunch/attendance/engine/internal/attendance"
	"github.com/shiftpunch/attendance/engine/internal/timeutil"
)

// SyncAllUsers runs one sync pass for every user with queued work. Meant for
// the periodic trigger; manual triggers call RunSync for one user directly.
func (s *Service) SyncAllUsers(ctx context.Context) map[string]SyncReport {
	reports := make(map[string]SyncReport)
	users, err := s.queue.Users(ctx)
	if err != nil {
		s.logError(opRunSync, "user_listing_failed", err)
		return reports
	}
	for _, userID := range users {
		if ctx.Err() != nil {
			return reports
		}
		report, err := s.RunSync(ctx, userID)
		if err != nil {
			s.logError(opRunSync, "pass_failed", err, zap.String("user_id", userID))
			continue
		}
		reports[userID] = report
	}
	return reports
}

// AutoCheckoutSweep records a synthetic OUT punch for every user whose
// check-in exceeded the auto-checkout threshold, and returns the users it
// checked out. The punch goes through the ordinary append path, so it is
// durable and queued for delivery like any other.
func (s *Service) AutoCheckoutSweep(ctx context.Context) ([]string, error) {
	users, err := s.punches.Users(ctx)
	if err != nil {
		s.logError(opAutoCheckout, "user_listing_failed", err)
		return nil, err
	}

	var checkedOut []string
	for _, userID := range users {
		if ctx.Err() != nil {
			return checkedOut, ctx.Err()
		}
		due, err := s.AutoCheckoutDue(ctx, userID)
		if err != nil {
			s.logError(opAutoCheckout, "due_check_failed", err, zap.String("user_id", userID))
			continue
		}
		if !due {
			continue
		}
		_, err = s.AppendPunch(ctx, attendance.PunchRecord{
			UserID:           userID,
			TimestampMillis:  timeutil.NowMillis(s.clock),
			Direction:        attendance.DirectionOut,
			AttendanceStatus: attendance.StatusAutoCheckout,
		})
		if err != nil {
			s.logError(opAutoCheckout, "append_failed", err, zap.String("user_id", userID))
			continue
		}
		checkedOut = append(checkedOut, userID)
	}
	return checkedOut, nil
}
