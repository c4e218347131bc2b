package dedup

import (
	"testing"
	"time"

	"github.com/vidlens/trendsync/internal/record/domain"
	"go.uber.org/zap"
)

func rec(videoID, dayKey string, views int64, status domain.ClassificationStatus, category string, updated time.Time) *domain.TrendRecord {
	return &domain.TrendRecord{
		VideoID:   videoID,
		DayKey:    dayKey,
		ViewCount: views,
		Status:    status,
		Category:  category,
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

func TestMergeConservation(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	a := *rec("v1", "2026-03-05", 100, domain.StatusUnclassified, "", now)
	b := *rec("v1", "2026-03-05", 80, domain.StatusClassified, "Music", now)

	for name, pair := range map[string][2]domain.TrendRecord{
		"a then b": {a, b},
		"b then a": {b, a},
	} {
		got := Merge(pair[0], pair[1])
		if got.ViewCount != 100 {
			t.Fatalf("%s: view count = %d, want max 100", name, got.ViewCount)
		}
		if !got.Status.IsClassified() {
			t.Fatalf("%s: classification must stick", name)
		}
		if got.Category != "Music" {
			t.Fatalf("%s: category = %q, want Music", name, got.Category)
		}
	}
}

func TestMergeMostRecentWinsOnCategoryConflict(t *testing.T) {
	early := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	late := early.Add(2 * time.Hour)

	older := *rec("v1", "2026-03-05", 10, domain.StatusClassified, "Music", early)
	newer := *rec("v1", "2026-03-05", 10, domain.StatusClassified, "Gaming", late)

	if got := Merge(older, newer); got.Category != "Gaming" {
		t.Fatalf("category = %q, want later side Gaming", got.Category)
	}
	if got := Merge(newer, older); got.Category != "Gaming" {
		t.Fatalf("category = %q, want later side Gaming regardless of order", got.Category)
	}
}

func TestMergeCommutativeOnEqualRecency(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	a := *rec("v1", "2026-03-05", 50, domain.StatusClassified, "Music", now)
	b := *rec("v1", "2026-03-05", 50, domain.StatusClassified, "Gaming", now)

	ab := Merge(a, b)
	ba := Merge(b, a)
	if ab.Category != ba.Category {
		t.Fatalf("merge depends on argument order: %q vs %q", ab.Category, ba.Category)
	}
	if ab.Category != "Gaming" {
		t.Fatalf("category = %q, want the lexicographically smaller Gaming", ab.Category)
	}
}

func TestMergeCountsNeverDecrease(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	a := *rec("v1", "2026-03-05", 500, domain.StatusUnclassified, "", now)
	b := *rec("v1", "2026-03-05", 120, domain.StatusUnclassified, "", now.Add(time.Hour))
	b.LikeCount = 40
	a.LikeCount = 7

	got := Merge(a, b)
	if got.ViewCount != 500 || got.LikeCount != 40 {
		t.Fatalf("counts = (%d, %d), want (500, 40)", got.ViewCount, got.LikeCount)
	}
}

func TestDedupeIdempotent(t *testing.T) {
	engine := NewEngine(zap.NewNop(), time.UTC)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	input := []*domain.TrendRecord{
		rec("v1", "2026-03-05", 100, domain.StatusUnclassified, "", now),
		rec("v1", "2026-03-05", 80, domain.StatusClassified, "Music", now),
		rec("v2", "2026-03-05", 15, domain.StatusUnclassified, "", now),
		rec("v1", "2026-03-04", 70, domain.StatusUnclassified, "", now),
	}

	once := engine.Dedupe(input)
	if len(once) != 3 {
		t.Fatalf("expected 3 canonical records, got %d", len(once))
	}

	twice := engine.Dedupe(once)
	if len(twice) != len(once) {
		t.Fatalf("second pass changed cardinality: %d != %d", len(twice), len(once))
	}
	for i := range once {
		if *once[i] != *twice[i] {
			t.Fatalf("second pass changed record %d: %+v != %+v", i, once[i], twice[i])
		}
	}
}

func TestDedupeNormalizesDayKeys(t *testing.T) {
	engine := NewEngine(zap.NewNop(), time.UTC)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	input := []*domain.TrendRecord{
		rec("v1", "2026-03-05", 100, domain.StatusUnclassified, "", now),
		rec("v1", "2026/03/05", 80, domain.StatusClassified, "Music", now),
	}

	out := engine.Dedupe(input)
	if len(out) != 1 {
		t.Fatalf("expected alternate spellings of one day to merge, got %d records", len(out))
	}
	if out[0].DayKey != "2026-03-05" {
		t.Fatalf("day key = %q, want canonical form", out[0].DayKey)
	}
	if out[0].ViewCount != 100 || !out[0].Status.IsClassified() {
		t.Fatalf("merge result wrong: %+v", out[0])
	}
}

func TestDedupeDerivesDayKeyFromCreatedAt(t *testing.T) {
	engine := NewEngine(zap.NewNop(), time.UTC)

	record := &domain.TrendRecord{
		VideoID:   "v1",
		ViewCount: 5,
		CreatedAt: time.Date(2026, 3, 5, 23, 30, 0, 0, time.UTC),
	}

	out := engine.Dedupe([]*domain.TrendRecord{record})
	if len(out) != 1 {
		t.Fatalf("expected record kept, got %d", len(out))
	}
	if out[0].DayKey != "2026-03-05" {
		t.Fatalf("day key = %q, want derived 2026-03-05", out[0].DayKey)
	}
}

func TestDedupeDropsUnderivableRecords(t *testing.T) {
	engine := NewEngine(zap.NewNop(), time.UTC)

	out := engine.Dedupe([]*domain.TrendRecord{
		{VideoID: "v1", DayKey: "garbage"},
		nil,
	})
	if len(out) != 0 {
		t.Fatalf("expected underivable records dropped, got %d", len(out))
	}
}

func TestDedupeEmptyInput(t *testing.T) {
	engine := NewEngine(zap.NewNop(), time.UTC)
	if out := engine.Dedupe(nil); out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}

func TestDedupeSortsMostRecentDayFirst(t *testing.T) {
	engine := NewEngine(zap.NewNop(), time.UTC)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	out := engine.Dedupe([]*domain.TrendRecord{
		rec("b", "2026-03-04", 1, domain.StatusUnclassified, "", now),
		rec("a", "2026-03-05", 1, domain.StatusUnclassified, "", now),
		rec("a", "2026-03-04", 1, domain.StatusUnclassified, "", now),
	})
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if out[0].DayKey != "2026-03-05" {
		t.Fatalf("first record day = %s, want most recent day", out[0].DayKey)
	}
	if out[1].VideoID != "a" || out[2].VideoID != "b" {
		t.Fatalf("same-day records must sort by video id: %s, %s", out[1].VideoID, out[2].VideoID)
	}
}
