package attendance

import (
	"errors"
	"fmt"
	"strings"
)

// Direction marks a punch as entering or leaving a shift.
type Direction string

const (
	// DirectionIn is a check-in punch.
	DirectionIn Direction = "IN"
	// DirectionOut is a check-out punch.
	DirectionOut Direction = "OUT"
)

// SyncState tracks whether the remote authority has acknowledged a record.
type SyncState string

const (
	// SyncStatePending marks a record created locally and not yet delivered.
	SyncStatePending SyncState = "PENDING"
	// SyncStateSynced marks a record acknowledged by the remote authority.
	SyncStateSynced SyncState = "SYNCED"
)

// Attendance status tags carried by a punch. Orthogonal to Direction; an
// empty tag is a normal punch.
const (
	StatusLunch         = "LUNCH"
	StatusShortBreak    = "SHORTBREAK"
	StatusAutoCheckout  = "AUTOCHECKOUT"
	StatusEarlyCheckout = "EARLY_CHECKOUT"
)

const maxUserIDLength = 320

var (
	// ErrInvalidUserID indicates an empty or oversized user identifier.
	ErrInvalidUserID = errors.New("attendance: invalid user id")
	// ErrInvalidDirection indicates a direction outside IN/OUT.
	ErrInvalidDirection = errors.New("attendance: invalid direction")
	// ErrInvalidTimestamp indicates a non-positive punch timestamp.
	ErrInvalidTimestamp = errors.New("attendance: invalid timestamp")

	// ErrDuplicateKey is returned when a punch timestamp already exists for
	// the user. Clock went backwards or the caller re-submitted; never
	// silently merged.
	ErrDuplicateKey = errors.New("attendance: duplicate punch timestamp")
	// ErrNotFound is returned when a referenced punch no longer exists
	// locally. A consistency violation: logged by callers, non-fatal.
	ErrNotFound = errors.New("attendance: punch not found")
)

// UserID is a validated account identifier (normally the account email).
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxUserIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxUserIDLength)
	}
	return UserID(strings.ToLower(trimmed)), nil
}

// String returns the underlying identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseDirection validates a raw direction string.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(raw))) {
	case DirectionIn:
		return DirectionIn, nil
	case DirectionOut:
		return DirectionOut, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// PunchRecord is one physical check-in or check-out event. The punch
// timestamp is its identity within a user's history.
type PunchRecord struct {
	UserID             string    `gorm:"column:user_id;primaryKey;size:320;not null;index:idx_attendance_user_date,priority:1"`
	TimestampMillis    int64     `gorm:"column:timestamp_ms;primaryKey;autoIncrement:false;not null"`
	Direction          Direction `gorm:"column:direction;size:8;not null"`
	DateOfPunch        string    `gorm:"column:date_of_punch;size:10;not null;index:idx_attendance_user_date,priority:2"`
	LatLon             string    `gorm:"column:lat_lon;size:64"`
	Address            string    `gorm:"column:address;size:512"`
	AttendanceStatus   string    `gorm:"column:attendance_status;size:32"`
	CreatedOnMillis    int64     `gorm:"column:created_on_ms;not null"`
	SyncState          SyncState `gorm:"column:sync_state;size:16;not null;index:idx_attendance_sync_state"`
	LastSyncedAtMillis *int64    `gorm:"column:last_synced_at_ms"`
	ServerTimestamp    *int64    `gorm:"column:server_timestamp"`
}

// TableName provides the explicit table binding for GORM.
func (PunchRecord) TableName() string {
	return "attendance"
}

// Validate checks the fields a caller must supply before appending.
func (r PunchRecord) Validate() error {
	if _, err := NewUserID(r.UserID); err != nil {
		return err
	}
	if r.TimestampMillis <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTimestamp, r.TimestampMillis)
	}
	if _, err := ParseDirection(string(r.Direction)); err != nil {
		return err
	}
	return nil
}

// DateRange bounds a history query by business date, inclusive on both ends.
type DateRange struct {
	From string
	To   string
}
