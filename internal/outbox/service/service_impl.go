package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vidlens/trendsync/internal/clock"
	"github.com/vidlens/trendsync/internal/config"
	obsmetrics "github.com/vidlens/trendsync/internal/observability/metrics"
	"github.com/vidlens/trendsync/internal/outbox/domain"
	recorddomain "github.com/vidlens/trendsync/internal/record/domain"
	"github.com/vidlens/trendsync/internal/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// staleProcessingAfter bounds how long an entry may sit in processing before
// it is treated as abandoned by a crashed dispatch.
const staleProcessingAfter = 5 * time.Minute

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	RecordRepo recorddomain.Repository
	Remote     domain.RemoteStore
	Holder     *config.SyncConfigHolder
	Clock      clock.Clock
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	recordRepo recorddomain.Repository
	remote     domain.RemoteStore
	holder     *config.SyncConfigHolder
	clock      clock.Clock

	replaying atomic.Bool
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("outbox.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		recordRepo: p.RecordRepo,
		remote:     p.Remote,
		holder:     p.Holder,
		clock:      p.Clock,
	}
}

func (s *Service) Enqueue(ctx context.Context, op domain.Operation, targetID string, payload any) (snowflake.ID, error) {
	switch op {
	case domain.OpCreate, domain.OpUpdate, domain.OpDelete:
	default:
		return 0, domain.ErrInvalidOperation
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return 0, domain.ErrInvalidTarget
	}

	var raw datatypes.JSON
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal outbox payload: %w", err)
		}
		raw = datatypes.JSON(data)
	}

	now := s.clock.Now()
	entry := domain.Entry{
		ID:        s.genID.Generate(),
		Operation: op,
		TargetID:  targetID,
		Payload:   raw,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    domain.StatusPending,
	}
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		return 0, err
	}

	obsmetrics.Sync().IncOutboxEnqueued(string(op))
	s.log.Info("mutation enqueued",
		zap.String("entry_id", entry.ID.String()),
		zap.String("operation", string(op)),
		zap.String("target_id", targetID),
	)
	s.refreshDepthGauges(ctx)
	return entry.ID, nil
}

func (s *Service) DeadLetter(ctx context.Context, op domain.Operation, targetID string, payload any, reason string) error {
	var raw datatypes.JSON
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal dead letter payload: %w", err)
		}
		raw = datatypes.JSON(data)
	}

	now := s.clock.Now()
	entry := domain.Entry{
		ID:        s.genID.Generate(),
		Operation: op,
		TargetID:  targetID,
		Payload:   raw,
		CreatedAt: now,
		UpdatedAt: now,
		LastError: reason,
		Status:    domain.StatusFailed,
	}
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		return err
	}
	s.refreshDepthGauges(ctx)
	return nil
}

// Replay dispatches pending entries in FIFO creation order. A target whose
// entry fails is blocked for the remainder of the pass, so an older mutation
// can never be overtaken by a newer one against the same identity.
func (s *Service) Replay(ctx context.Context) (domain.ReplayResult, error) {
	if !s.replaying.CompareAndSwap(false, true) {
		s.log.Info("replay already in flight, skipping trigger")
		return domain.ReplayResult{}, domain.ErrReplayInFlight
	}
	defer s.replaying.Store(false)

	requeued, err := s.repo.RequeueStaleProcessing(ctx, s.db, s.clock.Now().Add(-staleProcessingAfter))
	if err != nil {
		return domain.ReplayResult{}, err
	}
	if requeued > 0 {
		s.log.Warn("requeued entries abandoned mid-dispatch", zap.Int64("count", requeued))
	}

	cfg := s.holder.Get()
	entries, err := s.repo.ListReplayable(ctx, s.db, cfg.OutboxMaxRetries)
	if err != nil {
		return domain.ReplayResult{}, err
	}

	var result domain.ReplayResult
	blocked := make(map[string]struct{})
	m := obsmetrics.Sync()

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if _, isBlocked := blocked[entry.TargetID]; isBlocked {
			result.Skipped++
			continue
		}

		if err := s.repo.UpdateStatus(ctx, s.db, entry.ID, domain.StatusProcessing, entry.RetryCount, entry.LastError); err != nil {
			return result, err
		}

		dispatchErr := s.dispatch(ctx, entry)
		if dispatchErr == nil {
			if err := s.repo.UpdateStatus(ctx, s.db, entry.ID, domain.StatusCompleted, entry.RetryCount, ""); err != nil {
				return result, err
			}
			result.Success++
			m.IncOutboxReplayed(obsmetrics.ReplayResultSuccess)
			continue
		}

		blocked[entry.TargetID] = struct{}{}
		result.Failed++
		m.IncOutboxReplayed(obsmetrics.ReplayResultFailed)

		retryCount := entry.RetryCount + 1
		status := domain.StatusPending
		if !remote.IsRetryable(dispatchErr) || retryCount >= cfg.OutboxMaxRetries {
			status = domain.StatusFailed
		}
		s.log.Warn("outbox entry dispatch failed",
			zap.String("entry_id", entry.ID.String()),
			zap.String("target_id", entry.TargetID),
			zap.Int("retry_count", retryCount),
			zap.String("next_status", string(status)),
			zap.Error(dispatchErr),
		)
		if err := s.repo.UpdateStatus(ctx, s.db, entry.ID, status, retryCount, dispatchErr.Error()); err != nil {
			return result, err
		}
	}

	s.refreshDepthGauges(ctx)
	if result.Success > 0 || result.Failed > 0 {
		s.log.Info("outbox replay finished",
			zap.Int("success", result.Success),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, entry *domain.Entry) error {
	switch entry.Operation {
	case domain.OpCreate, domain.OpUpdate:
		var rec recorddomain.TrendRecord
		if err := json.Unmarshal(entry.Payload, &rec); err != nil {
			return fmt.Errorf("%w: %v", remote.ErrValidation, err)
		}
		confirmed, err := s.remote.PutRecord(ctx, &rec)
		if err != nil {
			return err
		}
		// server response wins over the optimistic local value
		confirmed.PendingLocalOps = 0
		return s.recordRepo.Upsert(ctx, s.db, confirmed)
	case domain.OpDelete:
		videoID, dayKey, err := splitTarget(entry.TargetID)
		if err != nil {
			return fmt.Errorf("%w: %v", remote.ErrValidation, err)
		}
		return s.remote.DeleteRecord(ctx, videoID, dayKey)
	default:
		return fmt.Errorf("%w: %s", remote.ErrValidation, entry.Operation)
	}
}

func (s *Service) Prune(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteByStatus(ctx, s.db, domain.StatusCompleted)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("pruned completed outbox entries", zap.Int64("removed", removed))
	}
	s.refreshDepthGauges(ctx)
	return removed, nil
}

func (s *Service) ClearFailed(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteByStatus(ctx, s.db, domain.StatusFailed)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("cleared failed outbox entries", zap.Int64("removed", removed))
	}
	s.refreshDepthGauges(ctx)
	return removed, nil
}

func (s *Service) List(ctx context.Context, status domain.Status) ([]*domain.Entry, error) {
	return s.repo.ListByStatus(ctx, s.db, status, 0)
}

func (s *Service) Depth(ctx context.Context) (map[domain.Status]int64, error) {
	return s.repo.CountByStatus(ctx, s.db)
}

func (s *Service) refreshDepthGauges(ctx context.Context) {
	counts, err := s.repo.CountByStatus(ctx, s.db)
	if err != nil {
		return
	}
	m := obsmetrics.Sync()
	for _, status := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed} {
		m.SetOutboxDepth(string(status), counts[status])
	}
}

func splitTarget(targetID string) (string, string, error) {
	parts := strings.SplitN(targetID, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed target id %q", targetID)
	}
	return parts[0], parts[1], nil
}
