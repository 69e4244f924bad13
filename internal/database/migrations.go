package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shiftpunch/attendance/engine/internal/outbox"
)

const (
	migrationNormalizeUserIDCase   = "2026-07-29_normalize_user_id_case"
	migrationBackfillRetrySchedule = "2026-08-14_backfill_retry_schedule"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeUserIDCase, apply: normalizeUserIDCase},
		{name: migrationBackfillRetrySchedule, apply: backfillRetrySchedule},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before user ids were normalized at the boundary may carry
// mixed case and would split one user's history in two.
func normalizeUserIDCase(db *gorm.DB) error {
	for _, table := range []string{"attendance", "sync_queue", "profile_fields"} {
		statement := "UPDATE " + table + " SET user_id = lower(trim(user_id)) WHERE user_id <> lower(trim(user_id));"
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}

// Queue rows from before retry scheduling existed have a zero horizon and
// must become immediately eligible rather than never eligible.
func backfillRetrySchedule(db *gorm.DB) error {
	return db.Model(&outbox.Item{}).
		Where("next_retry_at_ms = 0 AND created_at_ms <> 0").
		Update("next_retry_at_ms", gorm.Expr("created_at_ms")).Error
}
