// Package uploader pushes large record sets to the remote store in adaptive
// batches: it grows the batch size while the remote keeps up, halves it under
// overload, and routes batches that exhaust their retries to a dead-letter
// set so one poisoned batch never blocks the rest of an upload.
package uploader

import (
	"context"
	"time"

	"github.com/vidlens/trendsync/internal/config"
	obsmetrics "github.com/vidlens/trendsync/internal/observability/metrics"
	recorddomain "github.com/vidlens/trendsync/internal/record/domain"
	"github.com/vidlens/trendsync/internal/remote"
	"go.uber.org/zap"
)

// Sink receives one batch. The uploader assumes the sink is idempotent
// (upsert semantics) so retrying after a timeout cannot duplicate records.
type Sink func(ctx context.Context, batch []*recorddomain.TrendRecord) error

// Result reports one upload pass.
type Result struct {
	SuccessCount    int
	FailedCount     int
	DeadLetterItems []*recorddomain.TrendRecord
}

// Uploader chunks write sets against a Sink with adaptive sizing and
// exponential backoff.
type Uploader struct {
	log    *zap.Logger
	holder *config.SyncConfigHolder
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(log *zap.Logger, holder *config.SyncConfigHolder) *Uploader {
	return &Uploader{
		log:    log.Named("uploader"),
		holder: holder,
		sleep:  sleepCtx,
	}
}

// Upload pushes items through sink. It always runs to completion: failures
// are contained in the result (dead-letter set), never returned as an error,
// except that a canceled context stops the pass with the remainder counted
// as failed.
func (u *Uploader) Upload(ctx context.Context, items []*recorddomain.TrendRecord, sink Sink) Result {
	cfg := u.holder.Get()
	m := obsmetrics.Sync()

	result := Result{DeadLetterItems: []*recorddomain.TrendRecord{}}
	if len(items) == 0 {
		return result
	}

	batchSize := cfg.UploadInitialBatchSize
	m.SetUploadBatchSize(batchSize)

	cursor := 0
	for cursor < len(items) {
		if ctx.Err() != nil {
			result.FailedCount += len(items) - cursor
			u.log.Warn("upload canceled", zap.Int("remaining", len(items)-cursor))
			return result
		}

		end := cursor + batchSize
		if end > len(items) {
			end = len(items)
		}
		logical := items[cursor:end]
		cursor = end

		attempt := 0
		for {
			sent, err := u.flush(ctx, logical, batchSize, sink)
			result.SuccessCount += sent
			logical = logical[sent:]

			if err == nil {
				m.IncUploadBatch(obsmetrics.BatchResultSuccess)
				if attempt == 0 {
					batchSize = grow(batchSize, cfg)
					m.SetUploadBatchSize(batchSize)
				}
				if cursor < len(items) {
					_ = u.sleep(ctx, cfg.UploadInterBatchDelay())
				}
				break
			}

			if remote.IsValidation(err) {
				u.log.Warn("batch rejected as invalid, routing to dead letter",
					zap.Int("items", len(logical)),
					zap.Error(err),
				)
				result.DeadLetterItems = append(result.DeadLetterItems, logical...)
				result.FailedCount += len(logical)
				m.IncUploadBatch(obsmetrics.BatchResultDeadLetter)
				m.AddDeadLetterItems(len(logical))
				break
			}

			attempt++
			if attempt >= cfg.UploadMaxRetries {
				u.log.Error("batch exhausted retries, routing to dead letter",
					zap.Int("items", len(logical)),
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
				result.DeadLetterItems = append(result.DeadLetterItems, logical...)
				result.FailedCount += len(logical)
				m.IncUploadBatch(obsmetrics.BatchResultDeadLetter)
				m.AddDeadLetterItems(len(logical))
				break
			}

			batchSize = shrink(batchSize, cfg)
			m.SetUploadBatchSize(batchSize)
			m.IncUploadRetry()
			m.IncUploadBatch(obsmetrics.BatchResultRetried)

			delay := cfg.UploadBackoffBase() * time.Duration(1<<uint(attempt))
			u.log.Warn("batch failed, shrinking and retrying",
				zap.Int("items", len(logical)),
				zap.Int("attempt", attempt),
				zap.Int("batch_size", batchSize),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if err := u.sleep(ctx, delay); err != nil {
				result.FailedCount += len(logical) + (len(items) - cursor)
				return result
			}
		}
	}

	return result
}

// flush sends batch in chunks of at most size items and returns how many
// were acknowledged before the first failure.
func (u *Uploader) flush(ctx context.Context, batch []*recorddomain.TrendRecord, size int, sink Sink) (int, error) {
	sent := 0
	for sent < len(batch) {
		end := sent + size
		if end > len(batch) {
			end = len(batch)
		}
		if err := sink(ctx, batch[sent:end]); err != nil {
			return sent, err
		}
		sent = end
	}
	return sent, nil
}

func grow(size int, cfg config.SyncConfig) int {
	size += cfg.UploadBatchGrowth
	if size > cfg.UploadMaxBatchSize {
		size = cfg.UploadMaxBatchSize
	}
	return size
}

func shrink(size int, cfg config.SyncConfig) int {
	size /= 2
	if size < cfg.UploadMinBatchSize {
		size = cfg.UploadMinBatchSize
	}
	return size
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
