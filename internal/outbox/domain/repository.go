package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	ListByStatus(ctx context.Context, db *gorm.DB, status Status, limit int) ([]*Entry, error)
	// ListReplayable returns pending entries below the retry ceiling in FIFO
	// creation order, so mutations against one target replay causally.
	ListReplayable(ctx context.Context, db *gorm.DB, maxRetries int) ([]*Entry, error)
	// RequeueStaleProcessing returns processing entries last touched before
	// the cutoff to pending. A crash between dispatch and the terminal status
	// write would otherwise strand them invisible to every future replay.
	RequeueStaleProcessing(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, retryCount int, lastError string) error
	DeleteByStatus(ctx context.Context, db *gorm.DB, status Status) (int64, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[Status]int64, error)
}
