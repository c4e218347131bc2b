package repository

import (
	"context"
	"strings"

	"github.com/vidlens/trendsync/internal/record/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, rec *domain.TrendRecord) error {
	if rec == nil || strings.TrimSpace(rec.VideoID) == "" || strings.TrimSpace(rec.DayKey) == "" {
		return domain.ErrInvalidIdentity
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO trend_records (video_id, day_key, view_count, like_count, category, sub_category, status, pending_local_ops, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (video_id, day_key)
		 DO UPDATE SET view_count = EXCLUDED.view_count,
		               like_count = EXCLUDED.like_count,
		               category = EXCLUDED.category,
		               sub_category = EXCLUDED.sub_category,
		               status = EXCLUDED.status,
		               pending_local_ops = EXCLUDED.pending_local_ops,
		               updated_at = EXCLUDED.updated_at`,
		rec.VideoID,
		rec.DayKey,
		rec.ViewCount,
		rec.LikeCount,
		rec.Category,
		rec.SubCategory,
		string(rec.Status),
		rec.PendingLocalOps,
		rec.CreatedAt,
		rec.UpdatedAt,
	).Error
}

// UpsertBatch applies each record as an independent put inside one
// transaction, so a crash mid-batch leaves only fully-written records.
func (r *repo) UpsertBatch(ctx context.Context, db *gorm.DB, recs []*domain.TrendRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range recs {
			if rec == nil {
				continue
			}
			if err := r.Upsert(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) FindByIdentity(ctx context.Context, db *gorm.DB, videoID, dayKey string) (*domain.TrendRecord, error) {
	var rec domain.TrendRecord
	err := db.WithContext(ctx).Raw(
		`SELECT video_id, day_key, view_count, like_count, category, sub_category, status, pending_local_ops, created_at, updated_at
		 FROM trend_records WHERE video_id = ? AND day_key = ?`,
		videoID,
		dayKey,
	).Scan(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.VideoID == "" {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *repo) ListByDay(ctx context.Context, db *gorm.DB, dayKey string) ([]*domain.TrendRecord, error) {
	var recs []*domain.TrendRecord
	err := db.WithContext(ctx).
		Model(&domain.TrendRecord{}).
		Where("day_key = ?", dayKey).
		Order("video_id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *repo) ListDayRange(ctx context.Context, db *gorm.DB, fromDay, toDay string) ([]*domain.TrendRecord, error) {
	var recs []*domain.TrendRecord
	stmt := db.WithContext(ctx).Model(&domain.TrendRecord{})
	if fromDay != "" {
		stmt = stmt.Where("day_key >= ?", fromDay)
	}
	if toDay != "" {
		stmt = stmt.Where("day_key <= ?", toDay)
	}
	err := stmt.
		Order("day_key desc, video_id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB) ([]*domain.TrendRecord, error) {
	var recs []*domain.TrendRecord
	err := db.WithContext(ctx).
		Model(&domain.TrendRecord{}).
		Where("pending_local_ops > 0").
		Order("day_key desc, video_id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]*domain.TrendRecord, error) {
	var recs []*domain.TrendRecord
	err := db.WithContext(ctx).
		Model(&domain.TrendRecord{}).
		Order("day_key desc, video_id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, videoID, dayKey string) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM trend_records WHERE video_id = ? AND day_key = ?`,
		videoID,
		dayKey,
	).Error
}

func (r *repo) DeleteOlderThan(ctx context.Context, db *gorm.DB, dayKey string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM trend_records WHERE day_key < ?`,
		dayKey,
	)
	return res.RowsAffected, res.Error
}

// ReplaceAll swaps the full record set inside one transaction. Readers never
// observe the store half-repopulated.
func (r *repo) ReplaceAll(ctx context.Context, db *gorm.DB, recs []*domain.TrendRecord) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM trend_records`).Error; err != nil {
			return err
		}
		for _, rec := range recs {
			if rec == nil {
				continue
			}
			if err := r.Upsert(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// ComputeDayAggregates rolls the record table up into one aggregate per day.
// The rollup happens in Go: SQLite drops the declared column type on
// MAX(updated_at), so an SQL aggregate cannot scan the timestamp back.
func (r *repo) ComputeDayAggregates(ctx context.Context, db *gorm.DB) ([]*domain.DayAggregate, error) {
	var recs []*domain.TrendRecord
	err := db.WithContext(ctx).
		Model(&domain.TrendRecord{}).
		Order("day_key desc, video_id asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*domain.DayAggregate, len(recs))
	aggs := make([]*domain.DayAggregate, 0, len(recs))
	for _, rec := range recs {
		agg, ok := byDay[rec.DayKey]
		if !ok {
			agg = &domain.DayAggregate{DayKey: rec.DayKey, Source: domain.SourceLocal}
			byDay[rec.DayKey] = agg
			aggs = append(aggs, agg)
		}
		agg.Total++
		if rec.Status.IsClassified() {
			agg.Done++
		}
		agg.PendingLocalOps += rec.PendingLocalOps
		if rec.UpdatedAt.After(agg.UpdatedAt) {
			agg.UpdatedAt = rec.UpdatedAt
		}
	}
	return aggs, nil
}

func (r *repo) UpsertDayAggregates(ctx context.Context, db *gorm.DB, aggs []*domain.DayAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, agg := range aggs {
			if agg == nil || strings.TrimSpace(agg.DayKey) == "" {
				continue
			}
			err := tx.Exec(
				`INSERT INTO day_aggregates (day_key, total, done, updated_at, source, pending_local_ops, items_hash)
				 VALUES (?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (day_key)
				 DO UPDATE SET total = EXCLUDED.total,
				               done = EXCLUDED.done,
				               updated_at = EXCLUDED.updated_at,
				               source = EXCLUDED.source,
				               pending_local_ops = EXCLUDED.pending_local_ops,
				               items_hash = EXCLUDED.items_hash`,
				agg.DayKey,
				agg.Total,
				agg.Done,
				agg.UpdatedAt,
				string(agg.Source),
				agg.PendingLocalOps,
				agg.ItemsHash,
			).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) ListDayAggregates(ctx context.Context, db *gorm.DB) ([]*domain.DayAggregate, error) {
	var aggs []*domain.DayAggregate
	err := db.WithContext(ctx).
		Model(&domain.DayAggregate{}).
		Order("day_key desc").
		Find(&aggs).Error
	if err != nil {
		return nil, err
	}
	return aggs, nil
}
