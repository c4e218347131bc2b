package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vidlens/trendsync/internal/record/domain"
	"github.com/vidlens/trendsync/pkg/db"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.TrendRecord{}, &domain.DayAggregate{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return conn
}

func seedRecord(t *testing.T, conn *gorm.DB, r domain.TrendRecord) {
	t.Helper()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Status == "" {
		r.Status = domain.StatusUnclassified
	}
	if err := Provide().Upsert(context.Background(), conn, &r); err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func TestUpsertConverges(t *testing.T) {
	conn := setupDB(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	rec := &domain.TrendRecord{
		VideoID: "v1", DayKey: "2026-03-05",
		ViewCount: 100, Status: domain.StatusUnclassified,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.Upsert(ctx, conn, rec); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	rec.ViewCount = 150
	rec.Status = domain.StatusClassified
	rec.Category = "Music"
	if err := repo.Upsert(ctx, conn, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := repo.FindByIdentity(ctx, conn, "v1", "2026-03-05")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ViewCount != 150 || got.Category != "Music" || !got.Status.IsClassified() {
		t.Fatalf("upsert did not converge: %+v", got)
	}

	var count int64
	conn.Model(&domain.TrendRecord{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestUpsertRejectsInvalidIdentity(t *testing.T) {
	conn := setupDB(t)
	repo := Provide()
	ctx := context.Background()

	for _, rec := range []*domain.TrendRecord{
		nil,
		{VideoID: "", DayKey: "2026-03-05"},
		{VideoID: "v1", DayKey: "  "},
	} {
		if err := repo.Upsert(ctx, conn, rec); !errors.Is(err, domain.ErrInvalidIdentity) {
			t.Fatalf("expected ErrInvalidIdentity, got %v", err)
		}
	}
}

func TestFindByIdentityNotFound(t *testing.T) {
	conn := setupDB(t)
	_, err := Provide().FindByIdentity(context.Background(), conn, "missing", "2026-03-05")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListDayRange(t *testing.T) {
	conn := setupDB(t)
	repo := Provide()
	ctx := context.Background()

	for _, day := range []string{"2026-03-01", "2026-03-03", "2026-03-05", "2026-03-07"} {
		seedRecord(t, conn, domain.TrendRecord{VideoID: "v1", DayKey: day})
	}

	got, err := repo.ListDayRange(ctx, conn, "2026-03-02", "2026-03-06")
	if err != nil {
		t.Fatalf("list range: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records in range, got %d", len(got))
	}
	if got[0].DayKey != "2026-03-05" || got[1].DayKey != "2026-03-03" {
		t.Fatalf("range must sort most recent first: %s, %s", got[0].DayKey, got[1].DayKey)
	}

	all, err := repo.ListDayRange(ctx, conn, "", "")
	if err != nil {
		t.Fatalf("open range: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("open range must return everything, got %d", len(all))
	}
}

func TestListPending(t *testing.T) {
	conn := setupDB(t)
	repo := Provide()
	ctx := context.Background()

	seedRecord(t, conn, domain.TrendRecord{VideoID: "v1", DayKey: "2026-03-05", PendingLocalOps: 1})
	seedRecord(t, conn, domain.TrendRecord{VideoID: "v2", DayKey: "2026-03-05"})
	seedRecord(t, conn, domain.TrendRecord{VideoID: "v3", DayKey: "2026-03-04", PendingLocalOps: 2})

	pending, err := repo.ListPending(ctx, conn)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending records, got %d", len(pending))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	conn := setupDB(t)
	repo := Provide()
	ctx := context.Background()

	for _, day := range []string{"2026-01-01", "2026-02-01", "2026-03-01"} {
		seedRecord(t, conn, domain.TrendRecord{VideoID: "v1", DayKey: day})
	}

	deleted, err := repo.DeleteOlderThan(ctx, conn, "2026-02-01")
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	remaining, err := repo.ListAll(ctx, conn)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(remaining))
	}
}

func TestReplaceAll(t *testing.T) {
	conn := setupDB(t)
	repo := Provide()
	ctx := context.Background()

	seedRecord(t, conn, domain.TrendRecord{VideoID: "old", DayKey: "2026-03-01"})

	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	err := repo.ReplaceAll(ctx, conn, []*domain.TrendRecord{
		{VideoID: "new1", DayKey: "2026-03-05", CreatedAt: now, UpdatedAt: now, Status: domain.StatusUnclassified},
		{VideoID: "new2", DayKey: "2026-03-05", CreatedAt: now, UpdatedAt: now, Status: domain.StatusUnclassified},
	})
	if err != nil {
		t.Fatalf("replace all: %v", err)
	}

	all, err := repo.ListAll(ctx, conn)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected old rows replaced, got %d rows", len(all))
	}
	for _, rec := range all {
		if rec.VideoID == "old" {
			t.Fatal("old record must be gone after replace")
		}
	}
}

func TestComputeDayAggregates(t *testing.T) {
	conn := setupDB(t)
	repo := Provide()
	ctx := context.Background()

	touched := time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC)
	seedRecord(t, conn, domain.TrendRecord{VideoID: "v1", DayKey: "2026-03-05", Status: domain.StatusClassified})
	seedRecord(t, conn, domain.TrendRecord{VideoID: "v2", DayKey: "2026-03-05", PendingLocalOps: 1, UpdatedAt: touched})
	seedRecord(t, conn, domain.TrendRecord{VideoID: "v3", DayKey: "2026-03-04", Status: domain.StatusClassified})

	aggs, err := repo.ComputeDayAggregates(ctx, conn)
	if err != nil {
		t.Fatalf("compute aggregates: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("expected 2 days, got %d", len(aggs))
	}

	latest := aggs[0]
	if latest.DayKey != "2026-03-05" {
		t.Fatalf("expected most recent day first, got %s", latest.DayKey)
	}
	if latest.Total != 2 || latest.Done != 1 {
		t.Fatalf("day counts = (%d, %d), want (2, 1)", latest.Total, latest.Done)
	}
	if latest.PendingLocalOps != 1 {
		t.Fatalf("pending ops = %d, want 1", latest.PendingLocalOps)
	}
	if latest.Source != domain.SourceLocal {
		t.Fatalf("source = %s, want local", latest.Source)
	}
	if !latest.UpdatedAt.Equal(touched) {
		t.Fatalf("updated at = %v, want %v", latest.UpdatedAt, touched)
	}
}

func TestUpsertDayAggregatesConverges(t *testing.T) {
	conn := setupDB(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	agg := &domain.DayAggregate{DayKey: "2026-03-05", Total: 5, Done: 2, UpdatedAt: now, Source: domain.SourceLocal}
	if err := repo.UpsertDayAggregates(ctx, conn, []*domain.DayAggregate{agg}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	agg.Total = 7
	agg.Done = 3
	agg.Source = domain.SourceMerged
	if err := repo.UpsertDayAggregates(ctx, conn, []*domain.DayAggregate{agg}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	aggs, err := repo.ListDayAggregates(ctx, conn)
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggs))
	}
	if aggs[0].Total != 7 || aggs[0].Done != 3 || aggs[0].Source != domain.SourceMerged {
		t.Fatalf("aggregate did not converge: %+v", aggs[0])
	}
}
