// Package syncer coordinates the local store, the remote store, the outbox
// and the uploader into one sync surface: server-first reads with local
// fallback, optimistic writes backed by the outbox, and full/incremental sync
// passes guarded by a single in-flight marker.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vidlens/trendsync/internal/clock"
	"github.com/vidlens/trendsync/internal/connectivity"
	"github.com/vidlens/trendsync/internal/daykey"
	"github.com/vidlens/trendsync/internal/daymerge"
	"github.com/vidlens/trendsync/internal/dedup"
	obsmetrics "github.com/vidlens/trendsync/internal/observability/metrics"
	outboxdomain "github.com/vidlens/trendsync/internal/outbox/domain"
	recorddomain "github.com/vidlens/trendsync/internal/record/domain"
	"github.com/vidlens/trendsync/internal/remote"
	"github.com/vidlens/trendsync/internal/uploader"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrSyncInFlight is returned when a sync pass is requested while another one
// is still running. Callers drop the request instead of queueing it.
var ErrSyncInFlight = errors.New("sync_in_flight")

// RemoteAPI is the slice of the remote client the orchestrator depends on.
type RemoteAPI interface {
	FetchRecords(ctx context.Context) ([]*recorddomain.TrendRecord, error)
	FetchDayAggregates(ctx context.Context) ([]*recorddomain.DayAggregate, error)
	UploadBatch(ctx context.Context, records []*recorddomain.TrendRecord) error
	PutRecord(ctx context.Context, rec *recorddomain.TrendRecord) (*recorddomain.TrendRecord, error)
	DeleteRecord(ctx context.Context, videoID, dayKey string) error
}

// RecordsView is a read response annotated with where the data came from.
type RecordsView struct {
	Records []*recorddomain.TrendRecord `json:"records"`
	Source  string                      `json:"source"`
	Stale   bool                        `json:"stale"`
}

// DaysView is the per-day rollup read response.
type DaysView struct {
	Days   []*recorddomain.DayAggregate `json:"days"`
	Source string                       `json:"source"`
	Stale  bool                         `json:"stale"`
}

// WriteResult reports one mutation: either confirmed by the server or queued
// in the outbox for replay.
type WriteResult struct {
	Record *recorddomain.TrendRecord `json:"record,omitempty"`
	Queued bool                      `json:"queued"`
}

// RunStats summarizes the most recent sync pass.
type RunStats struct {
	Kind         string                   `json:"kind"`
	StartedAt    time.Time                `json:"started_at"`
	Duration     time.Duration            `json:"duration"`
	Uploaded     int                      `json:"uploaded"`
	Failed       int                      `json:"failed"`
	DeadLettered int                      `json:"dead_lettered"`
	Replayed     outboxdomain.ReplayResult `json:"replayed"`
	MergedDays   int                      `json:"merged_days"`
	Conflicts    int                      `json:"conflicts"`
	Error        string                   `json:"error,omitempty"`
}

// Status is the sync state exposed on the control API.
type Status struct {
	Connectivity connectivity.Snapshot          `json:"connectivity"`
	InFlight     bool                           `json:"in_flight"`
	LastFullSync string                         `json:"last_full_sync,omitempty"`
	OutboxDepth  map[outboxdomain.Status]int64  `json:"outbox_depth,omitempty"`
	LastRun      *RunStats                      `json:"last_run,omitempty"`
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Records  recorddomain.Repository
	Remote   RemoteAPI
	Dedup    *dedup.Engine
	DayMerge *daymerge.Service
	Uploader *uploader.Uploader
	Outbox   outboxdomain.Service
	Monitor  *connectivity.Monitor
	Loc      *time.Location
}

// Orchestrator is the hybrid sync engine. All sync passes share one in-flight
// marker so a bootstrap and an incremental pass can never overlap.
type Orchestrator struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	records  recorddomain.Repository
	remote   RemoteAPI
	dedup    *dedup.Engine
	daymerge *daymerge.Service
	uploader *uploader.Uploader
	outbox   outboxdomain.Service
	monitor  *connectivity.Monitor
	loc      *time.Location

	inFlight atomic.Bool

	mu      sync.Mutex
	lastRun *RunStats
}

func New(p Params) *Orchestrator {
	return &Orchestrator{
		db:       p.DB,
		log:      p.Log.Named("syncer"),
		clock:    p.Clock,
		records:  p.Records,
		remote:   p.Remote,
		dedup:    p.Dedup,
		daymerge: p.DayMerge,
		uploader: p.Uploader,
		outbox:   p.Outbox,
		monitor:  p.Monitor,
		loc:      p.Loc,
	}
}

// ReadRecords serves the record set server-first. A successful remote fetch
// refreshes the local store in the background; when the remote is offline or
// the fetch fails the local store answers, marked stale.
func (o *Orchestrator) ReadRecords(ctx context.Context) (RecordsView, error) {
	if o.monitor.Online() {
		records, err := o.remote.FetchRecords(ctx)
		if err == nil {
			go o.refreshLocalRecords(context.WithoutCancel(ctx), records)
			return RecordsView{Records: records, Source: "server", Stale: false}, nil
		}
		o.log.Warn("record snapshot fetch failed, serving local store", zap.Error(err))
	}

	obsmetrics.Sync().IncReadFallback("records")
	records, err := o.records.ListAll(ctx, o.db)
	if err != nil {
		return RecordsView{}, err
	}
	if len(records) == 0 {
		o.scheduleReconcile(ctx)
	}
	return RecordsView{Records: records, Source: "local", Stale: true}, nil
}

// ReadDays serves the day rollups server-first with local fallback.
func (o *Orchestrator) ReadDays(ctx context.Context) (DaysView, error) {
	if o.monitor.Online() {
		days, err := o.remote.FetchDayAggregates(ctx)
		if err == nil {
			go o.refreshLocalDays(context.WithoutCancel(ctx), days)
			return DaysView{Days: days, Source: "server", Stale: false}, nil
		}
		o.log.Warn("day snapshot fetch failed, serving local store", zap.Error(err))
	}

	obsmetrics.Sync().IncReadFallback("days")
	days, err := o.records.ListDayAggregates(ctx, o.db)
	if err != nil {
		return DaysView{}, err
	}
	if len(days) == 0 {
		o.scheduleReconcile(ctx)
	}
	return DaysView{Days: days, Source: "local", Stale: true}, nil
}

// refreshLocalRecords folds a server snapshot into the local store without
// disturbing records that still carry pending local work. Fire-and-forget:
// failures are logged, the next sync pass repairs any gap.
func (o *Orchestrator) refreshLocalRecords(ctx context.Context, serverRecords []*recorddomain.TrendRecord) {
	if len(serverRecords) == 0 {
		return
	}
	merged := make([]*recorddomain.TrendRecord, 0, len(serverRecords))
	for _, rec := range serverRecords {
		if rec == nil || rec.VideoID == "" || rec.DayKey == "" {
			continue
		}
		existing, err := o.records.FindByIdentity(ctx, o.db, rec.VideoID, rec.DayKey)
		if err != nil && !errors.Is(err, recorddomain.ErrNotFound) {
			o.log.Warn("local record refresh aborted", zap.Error(err))
			return
		}
		candidate := *rec
		if existing != nil {
			candidate = dedup.Merge(*existing, *rec)
		}
		merged = append(merged, &candidate)
	}
	if err := o.records.UpsertBatch(ctx, o.db, merged); err != nil {
		o.log.Warn("local record refresh failed", zap.Error(err))
	}
}

func (o *Orchestrator) refreshLocalDays(ctx context.Context, serverDays []*recorddomain.DayAggregate) {
	if len(serverDays) == 0 {
		return
	}
	if err := o.records.UpsertDayAggregates(ctx, o.db, serverDays); err != nil {
		o.log.Warn("local day refresh failed", zap.Error(err))
	}
}

// scheduleReconcile kicks an incremental pass in the background when a read
// found the local store empty. An in-flight pass already covers the gap.
func (o *Orchestrator) scheduleReconcile(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := o.IncrementalSync(bg); err != nil && !errors.Is(err, ErrSyncInFlight) {
			o.log.Warn("background reconciliation failed", zap.Error(err))
		}
	}()
}

// ReadDay returns all records of one day from the local store.
func (o *Orchestrator) ReadDay(ctx context.Context, rawDayKey string) ([]*recorddomain.TrendRecord, error) {
	key := o.daymerge.NormalizeDayKey(rawDayKey)
	return o.records.ListByDay(ctx, o.db, key)
}

// WriteClassification applies an operator classification. The local store is
// updated optimistically first, then the server is asked to confirm; when it
// cannot be reached the mutation is parked in the outbox and replayed later.
func (o *Orchestrator) WriteClassification(ctx context.Context, videoID, rawDayKey, category, subCategory string) (WriteResult, error) {
	if videoID == "" {
		return WriteResult{}, recorddomain.ErrInvalidIdentity
	}
	dayKey, ok := daykey.Normalize(rawDayKey, o.loc)
	if !ok {
		return WriteResult{}, fmt.Errorf("%w: bad day key %q", recorddomain.ErrInvalidIdentity, rawDayKey)
	}

	now := o.clock.Now()
	rec, err := o.records.FindByIdentity(ctx, o.db, videoID, dayKey)
	switch {
	case errors.Is(err, recorddomain.ErrNotFound):
		rec = &recorddomain.TrendRecord{VideoID: videoID, DayKey: dayKey, CreatedAt: now}
	case err != nil:
		return WriteResult{}, err
	}

	prevPending := rec.PendingLocalOps
	rec.Category = category
	rec.SubCategory = subCategory
	rec.Status = recorddomain.StatusClassified
	rec.PendingLocalOps = prevPending + 1
	rec.UpdatedAt = now

	if err := o.records.Upsert(ctx, o.db, rec); err != nil {
		return WriteResult{}, err
	}

	if !o.monitor.Online() {
		return o.parkWrite(ctx, rec)
	}

	confirmed, err := o.remote.PutRecord(ctx, rec)
	if err != nil {
		if remote.IsValidation(err) {
			// the server refused the value outright, so roll the pending
			// marker back instead of replaying a doomed mutation forever
			rec.PendingLocalOps = prevPending
			if uerr := o.records.Upsert(ctx, o.db, rec); uerr != nil {
				o.log.Error("failed to roll back pending marker", zap.Error(uerr))
			}
			return WriteResult{}, err
		}
		return o.parkWrite(ctx, rec)
	}

	confirmed.PendingLocalOps = 0
	if err := o.records.Upsert(ctx, o.db, confirmed); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Record: confirmed, Queued: false}, nil
}

func (o *Orchestrator) parkWrite(ctx context.Context, rec *recorddomain.TrendRecord) (WriteResult, error) {
	if _, err := o.outbox.Enqueue(ctx, outboxdomain.OpUpdate, rec.Identity(), rec); err != nil {
		return WriteResult{}, err
	}
	o.log.Info("classification queued for replay",
		zap.String("video_id", rec.VideoID),
		zap.String("day_key", rec.DayKey),
	)
	return WriteResult{Record: rec, Queued: true}, nil
}

// DeleteRecord removes a record locally and on the server. An unreachable
// server turns the remote half into an outbox entry.
func (o *Orchestrator) DeleteRecord(ctx context.Context, videoID, rawDayKey string) (WriteResult, error) {
	dayKey, ok := daykey.Normalize(rawDayKey, o.loc)
	if !ok {
		return WriteResult{}, fmt.Errorf("%w: bad day key %q", recorddomain.ErrInvalidIdentity, rawDayKey)
	}
	if err := o.records.Delete(ctx, o.db, videoID, dayKey); err != nil {
		return WriteResult{}, err
	}

	targetID := videoID + "|" + dayKey
	if !o.monitor.Online() {
		_, err := o.outbox.Enqueue(ctx, outboxdomain.OpDelete, targetID, nil)
		return WriteResult{Queued: true}, err
	}
	if err := o.remote.DeleteRecord(ctx, videoID, dayKey); err != nil {
		if remote.IsValidation(err) {
			return WriteResult{}, err
		}
		_, qerr := o.outbox.Enqueue(ctx, outboxdomain.OpDelete, targetID, nil)
		return WriteResult{Queued: true}, qerr
	}
	return WriteResult{Queued: false}, nil
}

// Ingest deduplicates a raw record set, merges it with what the local store
// already holds and persists the result marked as pending upload.
func (o *Orchestrator) Ingest(ctx context.Context, records []*recorddomain.TrendRecord) (int, error) {
	accepted := make([]*recorddomain.TrendRecord, 0, len(records))
	for _, rec := range records {
		if rec == nil || rec.VideoID == "" {
			o.log.Warn("dropping ingested record without video id")
			continue
		}
		accepted = append(accepted, rec)
	}

	clean := o.dedup.Dedupe(accepted)
	if len(clean) == 0 {
		return 0, nil
	}

	now := o.clock.Now()
	for i, rec := range clean {
		existing, err := o.records.FindByIdentity(ctx, o.db, rec.VideoID, rec.DayKey)
		if err != nil && !errors.Is(err, recorddomain.ErrNotFound) {
			return 0, err
		}
		merged := *rec
		if existing != nil {
			merged = dedup.Merge(*existing, *rec)
		}
		if merged.PendingLocalOps == 0 {
			merged.PendingLocalOps = 1
		}
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = now
		}
		merged.UpdatedAt = now
		clean[i] = &merged
	}

	if err := o.records.UpsertBatch(ctx, o.db, clean); err != nil {
		return 0, err
	}
	o.log.Info("ingested records", zap.Int("count", len(clean)))
	return len(clean), nil
}

// BootstrapSync runs the full first-connect pass: pull the server snapshot,
// merge it with the local store, push everything still pending, then reconcile
// the day rollups in union mode.
func (o *Orchestrator) BootstrapSync(ctx context.Context) (RunStats, error) {
	return o.run(ctx, obsmetrics.SyncKindBootstrap, func(ctx context.Context, stats *RunStats) error {
		serverRecords, err := o.remote.FetchRecords(ctx)
		if err != nil {
			return fmt.Errorf("fetch record snapshot: %w", err)
		}
		localRecords, err := o.records.ListAll(ctx, o.db)
		if err != nil {
			return err
		}

		combined := make([]*recorddomain.TrendRecord, 0, len(serverRecords)+len(localRecords))
		combined = append(combined, serverRecords...)
		combined = append(combined, localRecords...)
		merged := o.dedup.Dedupe(combined)

		if err := o.records.ReplaceAll(ctx, o.db, merged); err != nil {
			return err
		}
		o.log.Info("bootstrap snapshot merged",
			zap.Int("server_records", len(serverRecords)),
			zap.Int("local_records", len(localRecords)),
			zap.Int("merged_records", len(merged)),
		)

		if err := o.uploadPending(ctx, stats); err != nil {
			return err
		}
		if err := o.reconcileDays(ctx, daymerge.ModeUnion, stats); err != nil {
			return err
		}

		now := o.clock.Now()
		return setState(ctx, o.db, StateKeyLastFullSync, now.Format(time.RFC3339), now)
	})
}

// IncrementalSync runs the steady-state pass: replay the outbox, push pending
// records and reconcile the day rollups in overwrite mode. Remote failures
// inside the pass degrade to local-only work instead of failing the run.
func (o *Orchestrator) IncrementalSync(ctx context.Context) (RunStats, error) {
	return o.run(ctx, obsmetrics.SyncKindIncremental, func(ctx context.Context, stats *RunStats) error {
		replayed, err := o.outbox.Replay(ctx)
		if err != nil && !errors.Is(err, outboxdomain.ErrReplayInFlight) {
			o.log.Warn("outbox replay failed", zap.Error(err))
		}
		stats.Replayed = replayed

		if err := o.uploadPending(ctx, stats); err != nil {
			return err
		}
		return o.reconcileDays(ctx, daymerge.ModeOverwrite, stats)
	})
}

// run executes one sync pass under the shared in-flight marker. A pass
// requested while another is running is dropped, not queued.
func (o *Orchestrator) run(ctx context.Context, kind string, fn func(context.Context, *RunStats) error) (RunStats, error) {
	m := obsmetrics.Sync()
	if !o.inFlight.CompareAndSwap(false, true) {
		m.IncSyncSkipped(kind)
		o.log.Info("sync already in flight, dropping request", zap.String("kind", kind))
		return RunStats{Kind: kind}, ErrSyncInFlight
	}
	defer o.inFlight.Store(false)

	m.IncSyncRun(kind)
	stats := RunStats{Kind: kind, StartedAt: o.clock.Now()}
	err := fn(ctx, &stats)
	stats.Duration = o.clock.Now().Sub(stats.StartedAt)
	if err != nil {
		stats.Error = err.Error()
		o.log.Error("sync pass failed",
			zap.String("kind", kind),
			zap.Duration("duration", stats.Duration),
			zap.Error(err),
		)
	} else {
		o.log.Info("sync pass finished",
			zap.String("kind", kind),
			zap.Duration("duration", stats.Duration),
			zap.Int("uploaded", stats.Uploaded),
			zap.Int("dead_lettered", stats.DeadLettered),
			zap.Int("merged_days", stats.MergedDays),
		)
	}
	m.ObserveSyncDuration(kind, stats.Duration)

	o.mu.Lock()
	o.lastRun = &stats
	o.mu.Unlock()
	return stats, err
}

// uploadPending pushes every record still marked pending through the adaptive
// uploader, parks dead-lettered items in the outbox and clears the pending
// marker on everything the server acknowledged.
func (o *Orchestrator) uploadPending(ctx context.Context, stats *RunStats) error {
	pending, err := o.records.ListPending(ctx, o.db)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	result := o.uploader.Upload(ctx, pending, o.remote.UploadBatch)
	stats.Uploaded += result.SuccessCount
	stats.Failed += result.FailedCount
	stats.DeadLettered += len(result.DeadLetterItems)

	deadSet := make(map[string]struct{}, len(result.DeadLetterItems))
	for _, rec := range result.DeadLetterItems {
		deadSet[rec.Identity()] = struct{}{}
		if err := o.outbox.DeadLetter(ctx, outboxdomain.OpUpdate, rec.Identity(), rec, "upload exhausted retries"); err != nil {
			o.log.Error("failed to park dead-lettered record",
				zap.String("target_id", rec.Identity()),
				zap.Error(err),
			)
			continue
		}
		// the failed entry carries the payload now; a pending marker left in
		// place would put the record back on every later upload pass
		rec.PendingLocalOps = 0
		rec.UpdatedAt = o.clock.Now()
		if err := o.records.Upsert(ctx, o.db, rec); err != nil {
			o.log.Error("failed to settle dead-lettered record",
				zap.String("target_id", rec.Identity()),
				zap.Error(err),
			)
		}
	}

	// the uploader works front to back, so the first SuccessCount records not
	// dead-lettered are the acknowledged ones
	cleared := 0
	for _, rec := range pending {
		if cleared >= result.SuccessCount {
			break
		}
		if _, dead := deadSet[rec.Identity()]; dead {
			continue
		}
		rec.PendingLocalOps = 0
		rec.UpdatedAt = o.clock.Now()
		if err := o.records.Upsert(ctx, o.db, rec); err != nil {
			return err
		}
		cleared++
	}
	return nil
}

// reconcileDays merges the server day rollups with the locally computed ones
// and persists the canonical set. An unreachable server degrades to a
// local-only recompute.
func (o *Orchestrator) reconcileDays(ctx context.Context, mode daymerge.MergeMode, stats *RunStats) error {
	localDays, err := o.records.ComputeDayAggregates(ctx, o.db)
	if err != nil {
		return err
	}

	var serverDays []*recorddomain.DayAggregate
	if o.monitor.Online() {
		serverDays, err = o.remote.FetchDayAggregates(ctx)
		if err != nil {
			o.log.Warn("day snapshot fetch failed, reconciling local only", zap.Error(err))
			serverDays = nil
		}
	}

	merged := o.daymerge.MergeDays(serverDays, localDays, mode)
	stats.MergedDays += merged.Stats.MergedDays
	stats.Conflicts += merged.Stats.Conflicts
	for _, conflict := range merged.Conflicts {
		o.log.Debug("day aggregate conflict resolved",
			zap.String("day_key", conflict.DayKey),
			zap.String("resolution", conflict.Resolution),
		)
	}

	if err := o.records.UpsertDayAggregates(ctx, o.db, merged.MergedDays); err != nil {
		return err
	}
	if len(merged.MergedDays) > 0 {
		now := o.clock.Now()
		if err := setState(ctx, o.db, StateKeyLastProcessedDay, merged.MergedDays[0].DayKey, now); err != nil {
			return err
		}
	}
	return nil
}

// Status reports connectivity, outbox depth and the last sync pass.
func (o *Orchestrator) Status(ctx context.Context) Status {
	status := Status{
		Connectivity: o.monitor.Snapshot(),
		InFlight:     o.inFlight.Load(),
	}

	if lastFull, err := getState(ctx, o.db, StateKeyLastFullSync); err == nil {
		status.LastFullSync = lastFull
	}
	if depth, err := o.outbox.Depth(ctx); err == nil {
		status.OutboxDepth = depth
	}

	o.mu.Lock()
	status.LastRun = o.lastRun
	o.mu.Unlock()
	return status
}
