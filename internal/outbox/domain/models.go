package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	recorddomain "github.com/vidlens/trendsync/internal/record/domain"
	"gorm.io/datatypes"
)

// Operation is the kind of mutation held by an outbox entry.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Status is the outbox entry state machine:
// pending -> processing -> completed | failed; a nack returns processing to
// pending with retry_count incremented until the ceiling, then failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is one pending mutation that could not reach the remote store.
type Entry struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	Operation  Operation      `gorm:"not null" json:"operation"`
	TargetID   string         `gorm:"not null;index" json:"target_id"`
	Payload    datatypes.JSON `json:"payload,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
	RetryCount int            `gorm:"not null;default:0" json:"retry_count"`
	LastError  string         `json:"last_error,omitempty"`
	Status     Status         `gorm:"not null;default:pending;index" json:"status"`
}

func (Entry) TableName() string {
	return "outbox_entries"
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

var (
	ErrInvalidOperation = errors.New("invalid_operation")
	ErrInvalidTarget    = errors.New("invalid_target")
	ErrReplayInFlight   = errors.New("replay_in_flight")
)

// RemoteStore is the slice of the remote API the outbox needs to replay
// mutations. Dispatch must be idempotent so replaying an entry twice has the
// same remote effect as replaying it once.
type RemoteStore interface {
	PutRecord(ctx context.Context, rec *recorddomain.TrendRecord) (*recorddomain.TrendRecord, error)
	DeleteRecord(ctx context.Context, videoID, dayKey string) error
}

// Service is the durable queue of not-yet-confirmed remote mutations.
type Service interface {
	Enqueue(ctx context.Context, op Operation, targetID string, payload any) (snowflake.ID, error)
	// DeadLetter parks an item as a failed entry, visible to operators but
	// excluded from automatic replay.
	DeadLetter(ctx context.Context, op Operation, targetID string, payload any, reason string) error
	Replay(ctx context.Context) (ReplayResult, error)
	Prune(ctx context.Context) (int64, error)
	ClearFailed(ctx context.Context) (int64, error)
	List(ctx context.Context, status Status) ([]*Entry, error)
	Depth(ctx context.Context) (map[Status]int64, error)
}
