package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/vidlens/trendsync/internal/clock"
	"github.com/vidlens/trendsync/internal/config"
	"github.com/vidlens/trendsync/internal/connectivity"
	"github.com/vidlens/trendsync/internal/daymerge"
	"github.com/vidlens/trendsync/internal/dedup"
	obsmetrics "github.com/vidlens/trendsync/internal/observability/metrics"
	outboxdomain "github.com/vidlens/trendsync/internal/outbox/domain"
	outboxrepo "github.com/vidlens/trendsync/internal/outbox/repository"
	outboxservice "github.com/vidlens/trendsync/internal/outbox/service"
	recorddomain "github.com/vidlens/trendsync/internal/record/domain"
	recordrepo "github.com/vidlens/trendsync/internal/record/repository"
	"github.com/vidlens/trendsync/internal/syncer"
	"github.com/vidlens/trendsync/internal/uploader"
	"github.com/vidlens/trendsync/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type remoteStub struct{}

func (remoteStub) FetchRecords(ctx context.Context) ([]*recorddomain.TrendRecord, error) {
	return nil, nil
}

func (remoteStub) FetchDayAggregates(ctx context.Context) ([]*recorddomain.DayAggregate, error) {
	return nil, nil
}

func (remoteStub) UploadBatch(ctx context.Context, records []*recorddomain.TrendRecord) error {
	return nil
}

func (remoteStub) PutRecord(ctx context.Context, rec *recorddomain.TrendRecord) (*recorddomain.TrendRecord, error) {
	confirmed := *rec
	return &confirmed, nil
}

func (remoteStub) DeleteRecord(ctx context.Context, videoID, dayKey string) error {
	return nil
}

func (remoteStub) Probe(ctx context.Context, timeout time.Duration) error {
	return nil
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *gorm.DB, *clock.FakeClock, outboxdomain.Service) {
	t.Helper()
	obsmetrics.ResetSyncMetricsForTest()
	obsmetrics.ResetSchedulerMetricsForTest()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	err = conn.AutoMigrate(
		&recorddomain.TrendRecord{},
		&recorddomain.DayAggregate{},
		&outboxdomain.Entry{},
		&syncer.SyncState{},
	)
	if err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	holder := config.NewStaticSyncConfigHolder(config.DefaultSyncConfig())
	stub := remoteStub{}
	records := recordrepo.Provide()

	monitor := connectivity.NewMonitor(connectivity.Params{
		Log:    log,
		Holder: holder,
		Prober: stub,
		Clock:  fake,
	})

	outboxSvc := outboxservice.New(outboxservice.Params{
		DB:         conn,
		Log:        log,
		GenID:      node,
		Repo:       outboxrepo.Provide(),
		RecordRepo: records,
		Remote:     stub,
		Holder:     holder,
		Clock:      fake,
	})

	orch := syncer.New(syncer.Params{
		DB:       conn,
		Log:      log,
		Clock:    fake,
		Records:  records,
		Remote:   stub,
		Dedup:    dedup.NewEngine(log, time.UTC),
		DayMerge: daymerge.NewService(log, time.UTC),
		Uploader: uploader.New(log, holder),
		Outbox:   outboxSvc,
		Monitor:  monitor,
		Loc:      time.UTC,
	})

	sched, err := New(Params{
		DB:      conn,
		Log:     log,
		Clock:   fake,
		Holder:  holder,
		Records: records,
		Outbox:  outboxSvc,
		Syncer:  orch,
		Loc:     time.UTC,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched, conn, fake, outboxSvc
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDueTracksIntervalOnTheClock(t *testing.T) {
	s, _, fake, _ := newTestScheduler(t, Config{})

	assert.True(t, s.due("reconcile", time.Minute), "a job that never ran is due")
	s.markRun("reconcile")
	assert.False(t, s.due("reconcile", time.Minute))

	fake.Advance(59 * time.Second)
	assert.False(t, s.due("reconcile", time.Minute))
	fake.Advance(time.Second)
	assert.True(t, s.due("reconcile", time.Minute))

	assert.False(t, s.due("reconcile", 0), "a zero interval disables the job")
}

func TestIsJobEnabled(t *testing.T) {
	s, _, _, _ := newTestScheduler(t, Config{})
	assert.True(t, s.isJobEnabled("reconcile"), "empty list enables everything")

	s.cfg.EnabledJobs = []string{"Outbox_Replay"}
	assert.True(t, s.isJobEnabled("outbox_replay"))
	assert.False(t, s.isJobEnabled("reconcile"))
}

func TestRunOnceRunsDueJobsOnly(t *testing.T) {
	s, _, fake, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	assert.NoError(t, s.RunOnce(ctx))
	for _, name := range []string{"outbox_replay", "reconcile", "retention_cleanup", "outbox_prune"} {
		if _, ok := s.lastRun[name]; !ok {
			t.Fatalf("job %s did not run on the first pass", name)
		}
	}

	firstReplay := s.lastRun["outbox_replay"]
	firstReconcile := s.lastRun["reconcile"]

	// one replay interval later only the replay job is due again
	fake.Advance(config.DefaultSyncConfig().OutboxReplayInterval())
	assert.NoError(t, s.RunOnce(ctx))
	assert.True(t, s.lastRun["outbox_replay"].After(firstReplay))
	assert.Equal(t, firstReconcile, s.lastRun["reconcile"])
}

func TestRetentionCleanupJob(t *testing.T) {
	s, conn, _, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	repo := recordrepo.Provide()
	stale := &recorddomain.TrendRecord{
		VideoID: "old", DayKey: "2025-01-01",
		Status:    recorddomain.StatusUnclassified,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	fresh := &recorddomain.TrendRecord{
		VideoID: "new", DayKey: "2026-03-05",
		Status:    recorddomain.StatusUnclassified,
		CreatedAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	assert.NoError(t, repo.Upsert(ctx, conn, stale))
	assert.NoError(t, repo.Upsert(ctx, conn, fresh))

	assert.NoError(t, s.RetentionCleanupJob(ctx))

	remaining, err := repo.ListAll(ctx, conn)
	assert.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].VideoID)
}

func TestOutboxPruneJob(t *testing.T) {
	s, _, _, outboxSvc := newTestScheduler(t, Config{})
	ctx := context.Background()

	rec := &recorddomain.TrendRecord{
		VideoID: "v1", DayKey: "2026-03-05",
		Status:    recorddomain.StatusClassified,
		CreatedAt: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
	}
	_, err := outboxSvc.Enqueue(ctx, outboxdomain.OpUpdate, rec.Identity(), rec)
	assert.NoError(t, err)
	_, err = outboxSvc.Replay(ctx)
	assert.NoError(t, err)

	assert.NoError(t, s.OutboxPruneJob(ctx))

	depth, err := outboxSvc.Depth(ctx)
	assert.NoError(t, err)
	assert.Zero(t, depth[outboxdomain.StatusCompleted])
}

func TestReconcileJobRunsIncrementalPass(t *testing.T) {
	s, conn, _, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	rec := &recorddomain.TrendRecord{
		VideoID: "v1", DayKey: "2026-03-05",
		Status:    recorddomain.StatusUnclassified,
		CreatedAt: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
	}
	assert.NoError(t, recordrepo.Provide().Upsert(ctx, conn, rec))

	assert.NoError(t, s.ReconcileJob(ctx))

	days, err := recordrepo.Provide().ListDayAggregates(ctx, conn)
	assert.NoError(t, err)
	assert.Len(t, days, 1)
	assert.Equal(t, "2026-03-05", days[0].DayKey)
}
