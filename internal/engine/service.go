// Package engine is the offline-first attendance consistency core: it records
// punches durably, queues their delivery through the outbox, reconciles
// server pulls under the no-clobber rule and derives check-in state from the
// punch history. It never schedules itself; triggers come from outside.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shiftpunch/attendance/engine/internal/attendance"
	"github.com/shiftpunch/attendance/engine/internal/outbox"
	"github.com/shiftpunch/attendance/engine/internal/profile"
	"github.com/shiftpunch/attendance/engine/internal/remote"
	"github.com/shiftpunch/attendance/engine/internal/timeutil"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRemote     = errors.New("remote client is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "engine.service.new"
	opAppendPunch     = "engine.append_punch"
	opSetProfileField = "engine.set_profile_field"
	opIsCheckedIn     = "engine.is_checked_in"
	opNextPunchDate   = "engine.next_punch_date"
	opAutoCheckout    = "engine.auto_checkout_due"
	opQueryHistory    = "engine.query_history"
	opRunSync         = "engine.run_sync"
	opDeadLetters     = "engine.dead_letters"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues outbox item identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// CredentialInvalidator drops a cached bearer token so the next delivery
// attempt fetches a fresh one.
type CredentialInvalidator interface {
	Invalidate(userID string)
}

// How much punch history the state machine reads. It only ever needs the
// tail of today and the adjacent day.
const recentHistoryDepth = 32

// ServiceConfig wires the engine's collaborators. Database, IDProvider and
// Remote are required; the rest default sensibly.
type ServiceConfig struct {
	Database       *gorm.DB
	Clock          func() time.Time
	IDProvider     IDProvider
	Logger         *zap.Logger
	Remote         remote.Client
	Credentials    CredentialInvalidator
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
	DrainBatchSize int
	PullWindowDays int
}

// Service is the engine facade handed to the UI/collaborator layer.
type Service struct {
	db             *gorm.DB
	clock          func() time.Time
	idProvider     IDProvider
	logger         *zap.Logger
	remote         remote.Client
	credentials    CredentialInvalidator
	punches        *attendance.Store
	profiles       *profile.Store
	queue          *outbox.Queue
	drainBatchSize int
	pullWindowDays int
}

// NewService constructs the engine over an opened database handle.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opServiceNew, "missing_remote", errMissingRemote)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	batch := cfg.DrainBatchSize
	if batch <= 0 {
		batch = outbox.DefaultDrainBatchSize
	}
	pullWindow := cfg.PullWindowDays
	if pullWindow <= 0 {
		pullWindow = 30
	}

	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		remote:      cfg.Remote,
		credentials: cfg.Credentials,
		punches:     attendance.NewStore(cfg.Database),
		profiles:    profile.NewStore(cfg.Database),
		queue: outbox.NewQueue(outbox.Config{
			Database:       cfg.Database,
			BackoffBase:    cfg.BackoffBase,
			BackoffCeiling: cfg.BackoffCeiling,
		}),
		drainBatchSize: batch,
		pullWindowDays: pullWindow,
	}, nil
}

// AppendPunch records one punch and returns it as stored. The punch row and
// its outbox entry are written in a single transaction: neither is ever
// observable without the other. An empty DateOfPunch is derived from the
// shift state machine.
func (s *Service) AppendPunch(ctx context.Context, record attendance.PunchRecord) (attendance.PunchRecord, error) {
	userID, err := attendance.NewUserID(record.UserID)
	if err != nil {
		return attendance.PunchRecord{}, newServiceError(opAppendPunch, "invalid_user_id", err)
	}
	record.UserID = userID.String()

	if record.DateOfPunch == "" {
		date, err := s.NextPunchBusinessDate(ctx, record.UserID, record.Direction)
		if err != nil {
			return attendance.PunchRecord{}, err
		}
		record.DateOfPunch = date
	}

	nowMillis := timeutil.NowMillis(s.clock)
	itemID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppendPunch, "id_generation_failed", err, zap.String("user_id", record.UserID))
		return attendance.PunchRecord{}, newServiceError(opAppendPunch, "id_generation_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.punches.AppendTx(tx, &record); err != nil {
			return err
		}
		return s.queue.EnqueueTx(tx, outbox.Item{
			ID:              itemID,
			UserID:          record.UserID,
			EntityType:      outbox.EntityAttendance,
			EntityID:        strconv.FormatInt(record.TimestampMillis, 10),
			Operation:       outbox.OperationCreate,
			CreatedAtMillis: nowMillis,
		})
	})
	if txErr != nil {
		if errors.Is(txErr, attendance.ErrDuplicateKey) {
			return attendance.PunchRecord{}, txErr
		}
		s.logError(opAppendPunch, "transaction_failed", txErr,
			zap.String("user_id", record.UserID),
			zap.Int64("timestamp_ms", record.TimestampMillis))
		return attendance.PunchRecord{}, txErr
	}
	return record, nil
}

// SetProfileField stores a profile/settings value and queues its delivery,
// atomically, the same way punches are recorded.
func (s *Service) SetProfileField(ctx context.Context, rawUserID, name, value string) error {
	userID, err := attendance.NewUserID(rawUserID)
	if err != nil {
		return newServiceError(opSetProfileField, "invalid_user_id", err)
	}
	if name == "" {
		return newServiceError(opSetProfileField, "missing_field_name", nil)
	}

	nowMillis := timeutil.NowMillis(s.clock)
	itemID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(opSetProfileField, "id_generation_failed", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existed, err := s.profiles.SetTx(tx, userID.String(), name, value, nowMillis)
		if err != nil {
			return err
		}
		operation := outbox.OperationCreate
		if existed {
			operation = outbox.OperationUpdate
		}
		return s.queue.EnqueueTx(tx, outbox.Item{
			ID:              itemID,
			UserID:          userID.String(),
			EntityType:      outbox.EntityProfileField,
			EntityID:        userID.String(),
			Property:        name,
			Operation:       operation,
			CreatedAtMillis: nowMillis,
		})
	})
}

// IsCheckedIn answers whether the user is currently checked in, derived
// fresh from the punch history and the configured shift window.
func (s *Service) IsCheckedIn(ctx context.Context, rawUserID string) (bool, error) {
	history, cfg, err := s.historyAndShift(ctx, opIsCheckedIn, rawUserID)
	if err != nil {
		return false, err
	}
	checkedIn, err := attendance.IsCheckedIn(history, cfg, timeutil.NowMillis(s.clock))
	if err != nil {
		return false, newServiceError(opIsCheckedIn, "shift_window_invalid", err)
	}
	return checkedIn, nil
}

// NextPunchBusinessDate decides the business date the next punch in the
// given direction would be attributed to.
func (s *Service) NextPunchBusinessDate(ctx context.Context, rawUserID string, direction attendance.Direction) (string, error) {
	history, cfg, err := s.historyAndShift(ctx, opNextPunchDate, rawUserID)
	if err != nil {
		return "", err
	}
	date, err := attendance.NextPunchBusinessDate(history, cfg, timeutil.NowMillis(s.clock), direction)
	if err != nil {
		return "", newServiceError(opNextPunchDate, "shift_window_invalid", err)
	}
	return date, nil
}

// AutoCheckoutDue reports whether the auto-checkout trigger should record a
// synthetic OUT punch now. The trigger itself lives outside the engine.
func (s *Service) AutoCheckoutDue(ctx context.Context, rawUserID string) (bool, error) {
	history, cfg, err := s.historyAndShift(ctx, opAutoCheckout, rawUserID)
	if err != nil {
		return false, err
	}
	due, err := attendance.AutoCheckoutDue(history, cfg, timeutil.NowMillis(s.clock))
	if err != nil {
		return false, newServiceError(opAutoCheckout, "shift_window_invalid", err)
	}
	return due, nil
}

// QueryHistory returns the user's punches ascending by timestamp, optionally
// bounded by an inclusive business date range.
func (s *Service) QueryHistory(ctx context.Context, rawUserID string, dateRange *attendance.DateRange) ([]attendance.PunchRecord, error) {
	userID, err := attendance.NewUserID(rawUserID)
	if err != nil {
		return nil, newServiceError(opQueryHistory, "invalid_user_id", err)
	}
	records, err := s.punches.Query(ctx, userID.String(), dateRange)
	if err != nil {
		s.logError(opQueryHistory, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, err
	}
	return records, nil
}

// DeadLetters lists the user's permanently rejected sync items for
// operator/UI visibility.
func (s *Service) DeadLetters(ctx context.Context, rawUserID string) ([]outbox.Item, error) {
	userID, err := attendance.NewUserID(rawUserID)
	if err != nil {
		return nil, newServiceError(opDeadLetters, "invalid_user_id", err)
	}
	return s.queue.DeadLetters(ctx, userID.String())
}

// Status bundles the read-side answers the UI polls for.
type Status struct {
	UserID          string `json:"userId"`
	CheckedIn       bool   `json:"checkedIn"`
	NextPunchDate   string `json:"nextPunchDate"`
	PendingCount    int64  `json:"pendingCount"`
	DeadLetterCount int64  `json:"deadLetterCount"`
}

// Status reports the user's current check-in state, the business date the
// next punch would land on and the sync queue counts.
func (s *Service) Status(ctx context.Context, rawUserID string) (Status, error) {
	userID, err := attendance.NewUserID(rawUserID)
	if err != nil {
		return Status{}, newServiceError(opIsCheckedIn, "invalid_user_id", err)
	}

	checkedIn, err := s.IsCheckedIn(ctx, userID.String())
	if err != nil {
		return Status{}, err
	}
	nextDirection := attendance.DirectionIn
	if checkedIn {
		nextDirection = attendance.DirectionOut
	}
	nextDate, err := s.NextPunchBusinessDate(ctx, userID.String(), nextDirection)
	if err != nil {
		return Status{}, err
	}
	pending, err := s.queue.PendingCount(ctx, userID.String())
	if err != nil {
		return Status{}, err
	}
	dead, err := s.queue.DeadLetterCount(ctx, userID.String())
	if err != nil {
		return Status{}, err
	}

	return Status{
		UserID:          userID.String(),
		CheckedIn:       checkedIn,
		NextPunchDate:   nextDate,
		PendingCount:    pending,
		DeadLetterCount: dead,
	}, nil
}

func (s *Service) historyAndShift(ctx context.Context, operation, rawUserID string) ([]attendance.PunchRecord, attendance.ShiftConfig, error) {
	userID, err := attendance.NewUserID(rawUserID)
	if err != nil {
		return nil, attendance.ShiftConfig{}, newServiceError(operation, "invalid_user_id", err)
	}
	history, err := s.punches.Recent(ctx, userID.String(), recentHistoryDepth)
	if err != nil {
		s.logError(operation, "history_read_failed", err, zap.String("user_id", userID.String()))
		return nil, attendance.ShiftConfig{}, err
	}
	cfg, err := s.profiles.ShiftConfigFor(ctx, userID.String())
	if err != nil {
		s.logError(operation, "shift_config_read_failed", err, zap.String("user_id", userID.String()))
		return nil, attendance.ShiftConfig{}, err
	}
	return history, cfg, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("engine error", attrs...)
}
