package attendance

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrStore wraps durable-storage I/O failures. The operation is considered
// not-applied and the caller must retry the whole user action.
var ErrStore = errors.New("attendance: store failure")

func storeError(err error) error {
	return fmt.Errorf("%w: %v", ErrStore, err)
}

// Store is the durable punch record table. Mutations that must pair with an
// outbox entry run on a caller-supplied transaction handle so the engine can
// make both halves one atomic unit.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AppendTx inserts a new punch inside the given transaction. The record
// always lands as PENDING; timestamps must be distinct per user and a clash
// fails fast with ErrDuplicateKey.
func (s *Store) AppendTx(tx *gorm.DB, record *PunchRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	record.SyncState = SyncStatePending
	record.LastSyncedAtMillis = nil
	record.ServerTimestamp = nil
	if record.CreatedOnMillis == 0 {
		record.CreatedOnMillis = record.TimestampMillis
	}

	var existing PunchRecord
	err := tx.Where("user_id = ? AND timestamp_ms = ?", record.UserID, record.TimestampMillis).
		Take(&existing).Error
	if err == nil {
		return fmt.Errorf("%w: user %s timestamp %d", ErrDuplicateKey, record.UserID, record.TimestampMillis)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return storeError(err)
	}

	if err := tx.Create(record).Error; err != nil {
		return storeError(err)
	}
	return nil
}

// Get loads one punch by its identity key.
func (s *Store) Get(ctx context.Context, userID string, timestampMillis int64) (PunchRecord, error) {
	var record PunchRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND timestamp_ms = ?", userID, timestampMillis).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PunchRecord{}, fmt.Errorf("%w: user %s timestamp %d", ErrNotFound, userID, timestampMillis)
	}
	if err != nil {
		return PunchRecord{}, storeError(err)
	}
	return record, nil
}

// Recent returns up to limit punches for the user, ascending by timestamp.
// The shift state machine only ever needs the tail of the history.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]PunchRecord, error) {
	var records []PunchRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp_ms DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, storeError(err)
	}
	for left, right := 0, len(records)-1; left < right; left, right = left+1, right-1 {
		records[left], records[right] = records[right], records[left]
	}
	return records, nil
}

// Users lists every user with recorded punches.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).Model(&PunchRecord{}).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, storeError(err)
	}
	return users, nil
}

// Query returns the user's punches ascending by timestamp, optionally bounded
// by an inclusive business date range.
func (s *Store) Query(ctx context.Context, userID string, dateRange *DateRange) ([]PunchRecord, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if dateRange != nil {
		if dateRange.From != "" {
			query = query.Where("date_of_punch >= ?", dateRange.From)
		}
		if dateRange.To != "" {
			query = query.Where("date_of_punch <= ?", dateRange.To)
		}
	}
	var records []PunchRecord
	if err := query.Order("timestamp_ms ASC").Find(&records).Error; err != nil {
		return nil, storeError(err)
	}
	return records, nil
}

// MarkSyncedTx transitions a punch PENDING -> SYNCED inside the given
// transaction, recording the acknowledgement instant and the remote
// authority's own identity for the record.
func (s *Store) MarkSyncedTx(tx *gorm.DB, userID string, timestampMillis, serverTimestamp, nowMillis int64) error {
	updates := map[string]any{
		"sync_state":        SyncStateSynced,
		"last_synced_at_ms": nowMillis,
		"server_timestamp":  serverTimestamp,
	}
	result := tx.Model(&PunchRecord{}).
		Where("user_id = ? AND timestamp_ms = ?", userID, timestampMillis).
		Updates(updates)
	if result.Error != nil {
		return storeError(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s timestamp %d", ErrNotFound, userID, timestampMillis)
	}
	return nil
}

// MergeFromServer applies a server pull to the local table under the
// no-clobber rule. The whole pass runs in one transaction, so a crash leaves
// the store in a valid pre-merge or post-merge state; re-applying the same
// input is a no-op beyond identical overwrites.
func (s *Store) MergeFromServer(ctx context.Context, incoming []PunchRecord, nowMillis int64) (MergeReport, error) {
	report := MergeReport{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, raw := range incoming {
			record := normalizeServerRecord(raw, nowMillis)
			if err := record.Validate(); err != nil {
				return err
			}

			var existing PunchRecord
			var existingPtr *PunchRecord
			err := tx.Where("user_id = ? AND timestamp_ms = ?", record.UserID, record.TimestampMillis).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existingPtr = nil
			} else if err != nil {
				return storeError(err)
			} else {
				existingPtr = &existing
			}

			switch resolveMerge(existingPtr, record) {
			case mergeInsert:
				if err := tx.Create(&record).Error; err != nil {
					return storeError(err)
				}
				report.Inserted++
			case mergeOverwrite:
				if err := tx.Save(&record).Error; err != nil {
					return storeError(err)
				}
				report.Overwritten++
			case mergeSkipPending:
				report.SkippedDueToPendingLocal++
				report.SkippedKeys = append(report.SkippedKeys, record.TimestampMillis)
			}
		}
		return nil
	})
	if txErr != nil {
		return MergeReport{}, txErr
	}
	return report, nil
}
