package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/vidlens/trendsync/internal/clock"
	"github.com/vidlens/trendsync/internal/config"
	"github.com/vidlens/trendsync/internal/connectivity"
	"github.com/vidlens/trendsync/internal/daymerge"
	"github.com/vidlens/trendsync/internal/dedup"
	"github.com/vidlens/trendsync/internal/observability"
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

func newTestServer(t *testing.T) *Server {
	t.Helper()
	obsmetrics.ResetSyncMetricsForTest()

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

	return NewServer(ServerParams{
		Gin:       NewEngine(observability.Config{}, log),
		Cfg:       config.Config{},
		DB:        conn,
		Log:       log,
		SyncerSvc: orch,
		OutboxSvc: outboxSvc,
		Monitor:   monitor,
	})
}

func TestTriggerSyncEmptyBodyDefaultsIncremental(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Data struct {
			Kind    string `json:"kind"`
			Started bool   `json:"started"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "incremental", resp.Data.Kind)
	assert.True(t, resp.Data.Started)
}

func TestTriggerSyncBootstrapKind(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", strings.NewReader(`{"kind":"bootstrap"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"bootstrap"`)
}

func TestTriggerSyncRejectsUnknownKind(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", strings.NewReader(`{"kind":"weekly"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
