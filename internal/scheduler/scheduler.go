// Package scheduler drives the periodic background work: outbox replay,
// incremental reconciliation, record retention and outbox pruning. One
// instance owns each job at a time; with the redis lock enabled that holds
// across replicas too.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vidlens/trendsync/internal/clock"
	"github.com/vidlens/trendsync/internal/config"
	"github.com/vidlens/trendsync/internal/daykey"
	obsmetrics "github.com/vidlens/trendsync/internal/observability/metrics"
	outboxdomain "github.com/vidlens/trendsync/internal/outbox/domain"
	"github.com/vidlens/trendsync/internal/ratelimit"
	recorddomain "github.com/vidlens/trendsync/internal/record/domain"
	"github.com/vidlens/trendsync/internal/syncer"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

const lockKeyPrefix = "trendsync:scheduler:"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Holder  *config.SyncConfigHolder
	Records recorddomain.Repository
	Outbox  outboxdomain.Service
	Syncer  *syncer.Orchestrator
	Locker  *ratelimit.Locker `optional:"true"`
	Loc     *time.Location
	Config  Config `optional:"true"`
}

type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	holder  *config.SyncConfigHolder
	records recorddomain.Repository
	outbox  outboxdomain.Service
	syncer  *syncer.Orchestrator
	locker  *ratelimit.Locker
	loc     *time.Location

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Holder == nil || p.Records == nil || p.Outbox == nil || p.Syncer == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		holder:  p.Holder,
		records: p.Records,
		outbox:  p.Outbox,
		syncer:  p.Syncer,
		locker:  p.Locker,
		loc:     p.Loc,
	}, nil
}

// RunOnce evaluates every job and runs the ones whose interval elapsed.
func (s *Scheduler) RunOnce(parent context.Context) error {
	syncCfg := s.holder.Get()

	jobs := []struct {
		Name     string
		Interval time.Duration
		Run      func(context.Context) error
	}{
		{"outbox_replay", syncCfg.OutboxReplayInterval(), s.OutboxReplayJob},
		{"reconcile", syncCfg.ReconcileInterval(), s.ReconcileJob},
		{"retention_cleanup", s.cfg.RetentionSweep, s.RetentionCleanupJob},
		{"outbox_prune", s.cfg.RetentionSweep, s.OutboxPruneJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		if !s.due(job.Name, job.Interval) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

// RunForever ticks RunOnce until the context ends.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.TickInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.TickInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, lockKeyPrefix+name, s.cfg.JobTimeout)
		if err != nil {
			s.log.Warn("scheduler lock unavailable, skipping job",
				zap.String("job", name),
				zap.Error(err),
			)
			return nil
		}
		if !ok {
			// another replica owns the job this round
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lockKeyPrefix+name, token); err != nil {
				s.log.Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	start := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	s.markRun(name)
	if err == nil {
		return nil
	}

	schedMetrics.IncJobError(name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
		)
		return nil
	}
	s.log.Error("job failed", zap.String("job", name), zap.Error(err))
	return err
}

func (s *Scheduler) due(name string, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[name]
	if !ok {
		return true
	}
	return s.clock.Now().Sub(last) >= interval
}

func (s *Scheduler) markRun(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		s.lastRun = make(map[string]time.Time)
	}
	s.lastRun[name] = s.clock.Now()
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty EnabledJobs means all jobs run (single-process mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// OutboxReplayJob drains replayable outbox entries.
func (s *Scheduler) OutboxReplayJob(ctx context.Context) error {
	result, err := s.outbox.Replay(ctx)
	if errors.Is(err, outboxdomain.ErrReplayInFlight) {
		return nil
	}
	if err != nil {
		return err
	}
	if result.Success+result.Failed+result.Skipped > 0 {
		s.log.Info("outbox replayed",
			zap.Int("success", result.Success),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
		)
	}
	return nil
}

// ReconcileJob runs an incremental sync pass. A pass already in flight is
// not an error; the next tick picks the work up.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	_, err := s.syncer.IncrementalSync(ctx)
	if errors.Is(err, syncer.ErrSyncInFlight) {
		return nil
	}
	return err
}

// RetentionCleanupJob drops records older than the retention window.
func (s *Scheduler) RetentionCleanupJob(ctx context.Context) error {
	retentionDays := s.holder.Get().RetentionDays
	if retentionDays <= 0 {
		return nil
	}
	cutoff := daykey.FromTime(s.clock.Now().AddDate(0, 0, -retentionDays), s.loc)
	deleted, err := s.records.DeleteOlderThan(ctx, s.db, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info("retention cleanup removed records",
			zap.String("cutoff_day", cutoff),
			zap.Int64("deleted", deleted),
		)
	}
	return nil
}

// OutboxPruneJob removes completed outbox entries.
func (s *Scheduler) OutboxPruneJob(ctx context.Context) error {
	pruned, err := s.outbox.Prune(ctx)
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.log.Info("pruned completed outbox entries", zap.Int64("pruned", pruned))
	}
	return nil
}
