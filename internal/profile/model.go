// Package profile stores the user-editable profile and settings fields the
// engine reads its shift configuration from. Field edits ride the same
// outbox delivery path as attendance punches.
package profile

import (
	"errors"

	"github.com/shiftpunch/attendance/engine/internal/attendance"
)

// Field names the engine understands. Unknown fields are stored and synced
// untouched; only these influence the shift window math.
const (
	FieldShiftStartTime      = "shiftStartTime"
	FieldShiftEndTime        = "shiftEndTime"
	FieldMinimumWorkingHours = "minimumWorkingHours"
	FieldAutoCheckoutHours   = "autoCheckoutHours"
)

// ErrFieldNotFound is returned when a referenced field does not exist.
var ErrFieldNotFound = errors.New("profile: field not found")

// Field is one profile or settings value for a user.
type Field struct {
	UserID             string               `gorm:"column:user_id;primaryKey;size:320;not null"`
	Name               string               `gorm:"column:name;primaryKey;size:190;not null"`
	Value              string               `gorm:"column:value;size:512"`
	UpdatedAtMillis    int64                `gorm:"column:updated_at_ms;not null"`
	SyncState          attendance.SyncState `gorm:"column:sync_state;size:16;not null"`
	LastSyncedAtMillis *int64               `gorm:"column:last_synced_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (Field) TableName() string {
	return "profile_fields"
}
