package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vidlens/trendsync/internal/outbox/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO outbox_entries (id, operation, target_id, payload, created_at, updated_at, retry_count, last_error, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		string(entry.Operation),
		entry.TargetID,
		entry.Payload,
		entry.CreatedAt,
		entry.UpdatedAt,
		entry.RetryCount,
		entry.LastError,
		string(entry.Status),
	).Error
}

func (r *repo) ListByStatus(ctx context.Context, db *gorm.DB, status domain.Status, limit int) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("status = ?", string(status)).
		Order("created_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListReplayable(ctx context.Context, db *gorm.DB, maxRetries int) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	err := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("status = ? AND retry_count < ?", string(domain.StatusPending), maxRetries).
		Order("created_at asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) RequeueStaleProcessing(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE outbox_entries
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE status = ? AND updated_at < ?`,
		string(domain.StatusPending),
		string(domain.StatusProcessing),
		before,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, retryCount int, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_entries
		 SET status = ?, retry_count = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(status),
		retryCount,
		lastError,
		id,
	).Error
}

func (r *repo) DeleteByStatus(ctx context.Context, db *gorm.DB, status domain.Status) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM outbox_entries WHERE status = ?`,
		string(status),
	)
	return res.RowsAffected, res.Error
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.Status]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count FROM outbox_entries GROUP BY status`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		out[domain.Status(row.Status)] = row.Count
	}
	return out, nil
}
