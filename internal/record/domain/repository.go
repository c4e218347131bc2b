package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrInvalidIdentity = errors.New("invalid_identity")
	ErrNotFound        = errors.New("not_found")
)

// Repository is the transactional local-store surface for records and day
// aggregates. All writes are put/upsert so a retried batch converges instead
// of duplicating.
type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, rec *TrendRecord) error
	UpsertBatch(ctx context.Context, db *gorm.DB, recs []*TrendRecord) error
	FindByIdentity(ctx context.Context, db *gorm.DB, videoID, dayKey string) (*TrendRecord, error)
	ListByDay(ctx context.Context, db *gorm.DB, dayKey string) ([]*TrendRecord, error)
	ListDayRange(ctx context.Context, db *gorm.DB, fromDay, toDay string) ([]*TrendRecord, error)
	ListPending(ctx context.Context, db *gorm.DB) ([]*TrendRecord, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]*TrendRecord, error)
	Delete(ctx context.Context, db *gorm.DB, videoID, dayKey string) error
	DeleteOlderThan(ctx context.Context, db *gorm.DB, dayKey string) (int64, error)
	ReplaceAll(ctx context.Context, db *gorm.DB, recs []*TrendRecord) error

	ComputeDayAggregates(ctx context.Context, db *gorm.DB) ([]*DayAggregate, error)
	UpsertDayAggregates(ctx context.Context, db *gorm.DB, aggs []*DayAggregate) error
	ListDayAggregates(ctx context.Context, db *gorm.DB) ([]*DayAggregate, error)
}
