package profile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/shiftpunch/attendance/engine/internal/attendance"
)

// Store is the durable profile field table.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SetTx writes a field value inside the given transaction and returns whether
// the field existed before (an UPDATE rather than a CREATE for the outbox
// entry). The field flips back to PENDING until the remote authority
// acknowledges it.
func (s *Store) SetTx(tx *gorm.DB, userID, name, value string, nowMillis int64) (existed bool, err error) {
	var current Field
	err = tx.Where("user_id = ? AND name = ?", userID, name).Take(&current).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		existed = false
	case err != nil:
		return false, err
	default:
		existed = true
	}

	field := Field{
		UserID:          userID,
		Name:            name,
		Value:           value,
		UpdatedAtMillis: nowMillis,
		SyncState:       attendance.SyncStatePending,
	}
	if err := tx.Save(&field).Error; err != nil {
		return existed, err
	}
	return existed, nil
}

// Get loads one field value.
func (s *Store) Get(ctx context.Context, userID, name string) (Field, error) {
	var field Field
	err := s.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).Take(&field).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Field{}, fmt.Errorf("%w: %s/%s", ErrFieldNotFound, userID, name)
	}
	if err != nil {
		return Field{}, err
	}
	return field, nil
}

// MarkSyncedTx transitions a field PENDING -> SYNCED inside the given
// transaction.
func (s *Store) MarkSyncedTx(tx *gorm.DB, userID, name string, nowMillis int64) error {
	result := tx.Model(&Field{}).
		Where("user_id = ? AND name = ?", userID, name).
		Updates(map[string]any{
			"sync_state":        attendance.SyncStateSynced,
			"last_synced_at_ms": nowMillis,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrFieldNotFound, userID, name)
	}
	return nil
}

// ShiftConfigFor assembles the user's shift configuration from stored fields.
// Absent or unparseable values silently fall back to the engine defaults,
// preserving the app's historical default-substitution behavior.
func (s *Store) ShiftConfigFor(ctx context.Context, userID string) (attendance.ShiftConfig, error) {
	var fields []Field
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND name IN ?", userID, []string{
			FieldShiftStartTime,
			FieldShiftEndTime,
			FieldMinimumWorkingHours,
			FieldAutoCheckoutHours,
		}).
		Find(&fields).Error
	if err != nil {
		return attendance.ShiftConfig{}, err
	}

	cfg := attendance.ShiftConfig{}
	for _, field := range fields {
		switch field.Name {
		case FieldShiftStartTime:
			cfg.ShiftStartTime = field.Value
		case FieldShiftEndTime:
			cfg.ShiftEndTime = field.Value
		case FieldMinimumWorkingHours:
			if hours, err := strconv.ParseFloat(field.Value, 64); err == nil && hours > 0 {
				cfg.MinimumWorkingHours = hours
			}
		case FieldAutoCheckoutHours:
			if hours, err := strconv.ParseFloat(field.Value, 64); err == nil && hours > 0 {
				cfg.AutoCheckoutAfter = time.Duration(hours * float64(time.Hour))
			}
		}
	}
	return cfg.WithDefaults(), nil
}
