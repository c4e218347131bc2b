package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels applied to every instrument.
type Config struct {
	ServiceName string
	Environment string
}

const (
	SyncKindBootstrap   = "bootstrap"
	SyncKindIncremental = "incremental"

	BatchResultSuccess    = "success"
	BatchResultRetried    = "retried"
	BatchResultDeadLetter = "dead_letter"

	ReplayResultSuccess = "success"
	ReplayResultFailed  = "failed"
)

// SyncMetrics captures sync-engine health signals.
type SyncMetrics struct {
	syncRuns     *prometheus.CounterVec
	syncSkipped  *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec

	uploadBatches    *prometheus.CounterVec
	uploadRetries    prometheus.Counter
	uploadDeadLetter prometheus.Counter
	uploadBatchSize  prometheus.Gauge

	outboxEnqueued *prometheus.CounterVec
	outboxReplayed *prometheus.CounterVec
	outboxDepth    *prometheus.GaugeVec

	connectivityState prometheus.Gauge
	probeFailures     prometheus.Counter

	readFallbacks *prometheus.CounterVec
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the sync metrics singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "trendsync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SyncMetrics{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trendsync_sync_runs_total",
			Help:        "Reconciliation runs by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		syncSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trendsync_sync_skipped_total",
			Help:        "Reconciliation triggers dropped because a run was in flight.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "trendsync_sync_run_duration_seconds",
			Help:        "Reconciliation run duration by kind.",
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
			ConstLabels: constLabels,
		}, []string{"kind"}),
		uploadBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trendsync_upload_batches_total",
			Help:        "Upload batches by terminal result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		uploadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trendsync_upload_batch_retries_total",
			Help:        "Upload batch retry attempts.",
			ConstLabels: constLabels,
		}),
		uploadDeadLetter: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trendsync_upload_dead_letter_items_total",
			Help:        "Items routed to the dead-letter set.",
			ConstLabels: constLabels,
		}),
		uploadBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "trendsync_upload_batch_size",
			Help:        "Current adaptive upload batch size.",
			ConstLabels: constLabels,
		}),
		outboxEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trendsync_outbox_enqueued_total",
			Help:        "Outbox entries enqueued by operation.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		outboxReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trendsync_outbox_replayed_total",
			Help:        "Outbox replay outcomes.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		outboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "trendsync_outbox_depth",
			Help:        "Outbox entries by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		connectivityState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "trendsync_connectivity_online",
			Help:        "1 while the remote store is considered reachable.",
			ConstLabels: constLabels,
		}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trendsync_connectivity_probe_failures_total",
			Help:        "Failed remote health probes.",
			ConstLabels: constLabels,
		}),
		readFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trendsync_read_fallback_total",
			Help:        "Reads served from the local store after a remote failure.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
	}

	collectors := []prometheus.Collector{
		m.syncRuns, m.syncSkipped, m.syncDuration,
		m.uploadBatches, m.uploadRetries, m.uploadDeadLetter, m.uploadBatchSize,
		m.outboxEnqueued, m.outboxReplayed, m.outboxDepth,
		m.connectivityState, m.probeFailures, m.readFallbacks,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = already
				continue
			}
		}
	}

	return m
}

func (m *SyncMetrics) IncSyncRun(kind string) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(kind).Inc()
}

func (m *SyncMetrics) IncSyncSkipped(kind string) {
	if m == nil {
		return
	}
	m.syncSkipped.WithLabelValues(kind).Inc()
}

func (m *SyncMetrics) ObserveSyncDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *SyncMetrics) IncUploadBatch(result string) {
	if m == nil {
		return
	}
	m.uploadBatches.WithLabelValues(result).Inc()
}

func (m *SyncMetrics) IncUploadRetry() {
	if m == nil {
		return
	}
	m.uploadRetries.Inc()
}

func (m *SyncMetrics) AddDeadLetterItems(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadDeadLetter.Add(float64(n))
}

func (m *SyncMetrics) SetUploadBatchSize(size int) {
	if m == nil {
		return
	}
	m.uploadBatchSize.Set(float64(size))
}

func (m *SyncMetrics) IncOutboxEnqueued(operation string) {
	if m == nil {
		return
	}
	m.outboxEnqueued.WithLabelValues(operation).Inc()
}

func (m *SyncMetrics) IncOutboxReplayed(result string) {
	if m == nil {
		return
	}
	m.outboxReplayed.WithLabelValues(result).Inc()
}

func (m *SyncMetrics) SetOutboxDepth(status string, depth int64) {
	if m == nil {
		return
	}
	m.outboxDepth.WithLabelValues(status).Set(float64(depth))
}

func (m *SyncMetrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.connectivityState.Set(1)
		return
	}
	m.connectivityState.Set(0)
}

func (m *SyncMetrics) IncProbeFailure() {
	if m == nil {
		return
	}
	m.probeFailures.Inc()
}

func (m *SyncMetrics) IncReadFallback(kind string) {
	if m == nil {
		return
	}
	m.readFallbacks.WithLabelValues(kind).Inc()
}
