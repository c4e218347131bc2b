// Package dedup collapses records sharing an identity into one canonical
// record. The merge is pure and order-independent: numeric fields only move
// up, operator classification is never overwritten by an automated value, and
// the most recent side supplies everything else. That makes the engine safe
// under retries and at-least-once delivery from the ingestion feed.
package dedup

import (
	"sort"
	"time"

	"github.com/vidlens/trendsync/internal/daykey"
	"github.com/vidlens/trendsync/internal/record/domain"
	"go.uber.org/zap"
)

// Engine deduplicates record sets. It performs no I/O; the logger is only
// used to surface records dropped for a missing dayKey.
type Engine struct {
	log *zap.Logger
	loc *time.Location
}

func NewEngine(log *zap.Logger, loc *time.Location) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{log: log.Named("dedup"), loc: loc}
}

// Dedupe groups records by (videoID, dayKey) and folds each group with Merge.
// Records without a derivable dayKey are dropped with a warning rather than
// merged into an arbitrary day. Dedupe(Dedupe(x)) == Dedupe(x).
func (e *Engine) Dedupe(records []*domain.TrendRecord) []*domain.TrendRecord {
	if len(records) == 0 {
		return []*domain.TrendRecord{}
	}

	merged := make(map[string]domain.TrendRecord, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		candidate := *rec
		if !e.ensureDayKey(&candidate) {
			e.log.Warn("dropping record without derivable day key",
				zap.String("video_id", candidate.VideoID),
				zap.String("raw_day_key", rec.DayKey),
			)
			continue
		}
		key := candidate.Identity()
		if existing, ok := merged[key]; ok {
			merged[key] = Merge(existing, candidate)
			continue
		}
		merged[key] = candidate
	}

	out := make([]*domain.TrendRecord, 0, len(merged))
	for key := range merged {
		rec := merged[key]
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayKey != out[j].DayKey {
			return out[i].DayKey > out[j].DayKey
		}
		return out[i].VideoID < out[j].VideoID
	})
	return out
}

func (e *Engine) ensureDayKey(rec *domain.TrendRecord) bool {
	if daykey.IsValid(rec.DayKey) {
		return true
	}
	if normalized, ok := daykey.Normalize(rec.DayKey, e.loc); ok {
		rec.DayKey = normalized
		return true
	}
	if rec.DayKey == "" && !rec.CreatedAt.IsZero() {
		rec.DayKey = daykey.FromTime(rec.CreatedAt, e.loc)
		return true
	}
	return false
}

// Merge folds two versions of one record under the conservation policy:
// counts take the max of both sides, classified status and operator-set
// category fields stick, and on a full tie the later-updated side wins as the
// base. Merge is commutative and associative, so concurrent merges converge.
func Merge(a, b domain.TrendRecord) domain.TrendRecord {
	base, other := orderByRecency(a, b)

	out := base
	out.ViewCount = maxInt64(a.ViewCount, b.ViewCount)
	out.LikeCount = maxInt64(a.LikeCount, b.LikeCount)

	if a.Status.IsClassified() || b.Status.IsClassified() {
		out.Status = domain.StatusClassified
	}

	out.Category = mergeSticky(base.Category, other.Category)
	out.SubCategory = mergeSticky(base.SubCategory, other.SubCategory)

	if a.PendingLocalOps > out.PendingLocalOps {
		out.PendingLocalOps = a.PendingLocalOps
	}
	if b.PendingLocalOps > out.PendingLocalOps {
		out.PendingLocalOps = b.PendingLocalOps
	}

	out.UpdatedAt = maxTime(a.UpdatedAt, b.UpdatedAt)
	out.CreatedAt = minNonZeroTime(a.CreatedAt, b.CreatedAt)
	return out
}

// orderByRecency returns (winner, loser) with the later-updated record first.
// Ties fall to the side that already carries a classification, then to a, so
// the result stays deterministic for any argument order.
func orderByRecency(a, b domain.TrendRecord) (domain.TrendRecord, domain.TrendRecord) {
	ra, rb := recency(a), recency(b)
	if rb.After(ra) {
		return b, a
	}
	if ra.After(rb) {
		return a, b
	}
	if b.Status.IsClassified() && !a.Status.IsClassified() {
		return b, a
	}
	if b.Category != "" && a.Category == "" {
		return b, a
	}
	// content tiebreak so an equal-recency merge gives the same answer in
	// either argument order
	if a.Category != b.Category {
		if b.Category < a.Category {
			return b, a
		}
		return a, b
	}
	if b.SubCategory < a.SubCategory {
		return b, a
	}
	return a, b
}

func recency(r domain.TrendRecord) time.Time {
	if r.UpdatedAt.After(r.CreatedAt) {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

// mergeSticky keeps a non-empty value over an empty one; when both sides are
// set and disagree the base (more recent) side wins.
func mergeSticky(base, other string) string {
	if base != "" {
		return base
	}
	return other
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func minNonZeroTime(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	if b.Before(a) {
		return b
	}
	return a
}
