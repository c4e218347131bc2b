package syncer

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// SyncState is the persisted sync metadata, one row per key, so a restart
// resumes without reprocessing already-completed work.
type SyncState struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (SyncState) TableName() string {
	return "sync_state"
}

const (
	StateKeyLastFullSync     = "last_full_sync"
	StateKeyLastProcessedDay = "last_processed_day"
)

func getState(ctx context.Context, db *gorm.DB, key string) (string, error) {
	var row SyncState
	err := db.WithContext(ctx).Raw(
		`SELECT key, value, updated_at FROM sync_state WHERE key = ?`,
		key,
	).Scan(&row).Error
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func setState(ctx context.Context, db *gorm.DB, key, value string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO sync_state (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key,
		value,
		now,
	).Error
}
