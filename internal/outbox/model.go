// Package outbox is the durable queue of pending mutations awaiting delivery
// to the remote authority. Punch records, profile fields and settings all
// share this delivery mechanism.
package outbox

import (
	"errors"
	"fmt"
	"strings"
)

// EntityType names the kind of entity a queue item references.
type EntityType string

const (
	// EntityAttendance references a punch record; the entity id is its
	// timestamp in milliseconds.
	EntityAttendance EntityType = "ATTENDANCE"
	// EntityProfileField references a single profile field; the entity id is
	// the user id and the property carries the field name.
	EntityProfileField EntityType = "PROFILE_FIELD"
	// EntitySetting references a device setting, delivered like a profile
	// field.
	EntitySetting EntityType = "SETTING"
)

// Operation is the mutation kind being delivered.
type Operation string

const (
	// OperationCreate delivers a newly created entity.
	OperationCreate Operation = "CREATE"
	// OperationUpdate delivers a changed entity.
	OperationUpdate Operation = "UPDATE"
)

var (
	// ErrItemNotFound is returned when an ack/fail references an id that is
	// no longer queued.
	ErrItemNotFound = errors.New("outbox: item not found")
	// ErrInvalidItem indicates an enqueue attempt with missing fields.
	ErrInvalidItem = errors.New("outbox: invalid item")
)

// Item is one pending mutation. Created atomically alongside the entity
// mutation it describes and deleted only after the remote authority
// acknowledges that exact item. Dead-lettered items stay in the table for
// visibility but are excluded from draining.
type Item struct {
	ID                string     `gorm:"column:id;primaryKey;size:190;not null"`
	UserID            string     `gorm:"column:user_id;size:320;not null;index:idx_sync_queue_user_ready,priority:1"`
	EntityType        EntityType `gorm:"column:entity_type;size:32;not null"`
	EntityID          string     `gorm:"column:entity_id;size:190;not null"`
	Property          string     `gorm:"column:property;size:190"`
	Operation         Operation  `gorm:"column:operation;size:16;not null"`
	Attempts          int        `gorm:"column:attempts;not null;default:0"`
	NextRetryAtMillis int64      `gorm:"column:next_retry_at_ms;not null;index:idx_sync_queue_user_ready,priority:3"`
	CreatedAtMillis   int64      `gorm:"column:created_at_ms;not null"`
	DeadLetter        bool       `gorm:"column:dead_letter;not null;default:false;index:idx_sync_queue_user_ready,priority:2"`
	LastError         string     `gorm:"column:last_error;size:512"`
}

// TableName provides the explicit table binding for GORM.
func (Item) TableName() string {
	return "sync_queue"
}

func (i Item) validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	if strings.TrimSpace(i.UserID) == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidItem)
	}
	switch i.EntityType {
	case EntityAttendance, EntityProfileField, EntitySetting:
	default:
		return fmt.Errorf("%w: entity type %q", ErrInvalidItem, i.EntityType)
	}
	if strings.TrimSpace(i.EntityID) == "" {
		return fmt.Errorf("%w: missing entity id", ErrInvalidItem)
	}
	switch i.Operation {
	case OperationCreate, OperationUpdate:
	default:
		return fmt.Errorf("%w: operation %q", ErrInvalidItem, i.Operation)
	}
	return nil
}
