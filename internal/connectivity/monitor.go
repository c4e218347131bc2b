// Package connectivity tracks whether the remote store is reachable. Going
// offline requires several consecutive probe failures so a single transient
// error cannot flap the orchestrator; recovery is immediate on the first
// successful probe or an external online signal.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/vidlens/trendsync/internal/clock"
	"github.com/vidlens/trendsync/internal/config"
	obsmetrics "github.com/vidlens/trendsync/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type State string

const (
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Prober checks remote reachability with a bounded deadline.
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration) error
}

// Snapshot is the monitor state exposed on the status API.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastProbeAt         time.Time `json:"last_probe_at"`
	LastChangeAt        time.Time `json:"last_change_at"`
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Holder *config.SyncConfigHolder
	Prober Prober
	Clock  clock.Clock
}

type Monitor struct {
	log    *zap.Logger
	holder *config.SyncConfigHolder
	prober Prober
	clock  clock.Clock

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastProbeAt         time.Time
	lastChangeAt        time.Time
	onRecover           []func(context.Context)
}

func NewMonitor(p Params) *Monitor {
	m := &Monitor{
		log:    p.Log.Named("connectivity"),
		holder: p.Holder,
		prober: p.Prober,
		clock:  p.Clock,
		state:  StateOnline,
	}
	obsmetrics.Sync().SetOnline(true)
	return m
}

// OnRecover registers a callback fired on every offline -> online transition,
// in registration order.
func (m *Monitor) OnRecover(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecover = append(m.onRecover, fn)
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Online() bool {
	return m.State() == StateOnline
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:               m.state,
		ConsecutiveFailures: m.consecutiveFailures,
		LastProbeAt:         m.lastProbeAt,
		LastChangeAt:        m.lastChangeAt,
	}
}

// ProbeOnce runs a single health probe and applies the state transition.
func (m *Monitor) ProbeOnce(ctx context.Context) State {
	cfg := m.holder.Get()
	err := m.prober.Probe(ctx, cfg.ProbeTimeout())
	if err != nil {
		return m.reportFailure(ctx, cfg.ProbeFailureThreshold, err)
	}
	return m.reportSuccess(ctx)
}

// ReportOnline accepts an external platform-level online signal.
func (m *Monitor) ReportOnline(ctx context.Context) {
	m.reportSuccess(ctx)
}

func (m *Monitor) reportSuccess(ctx context.Context) State {
	m.mu.Lock()
	m.lastProbeAt = m.clock.Now()
	m.consecutiveFailures = 0
	recovered := m.state == StateOffline
	if recovered {
		m.state = StateOnline
		m.lastChangeAt = m.clock.Now()
	}
	callbacks := make([]func(context.Context), len(m.onRecover))
	copy(callbacks, m.onRecover)
	m.mu.Unlock()

	if recovered {
		obsmetrics.Sync().SetOnline(true)
		m.log.Info("remote store reachable again")
		for _, fn := range callbacks {
			fn(ctx)
		}
	}
	return StateOnline
}

func (m *Monitor) reportFailure(ctx context.Context, threshold int, err error) State {
	obsmetrics.Sync().IncProbeFailure()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastProbeAt = m.clock.Now()
	m.consecutiveFailures++

	if m.state == StateOnline && m.consecutiveFailures >= threshold {
		m.state = StateOffline
		m.lastChangeAt = m.clock.Now()
		obsmetrics.Sync().SetOnline(false)
		m.log.Warn("remote store declared offline",
			zap.Int("consecutive_failures", m.consecutiveFailures),
			zap.Error(err),
		)
	} else if m.state == StateOnline {
		m.log.Debug("health probe failed",
			zap.Int("consecutive_failures", m.consecutiveFailures),
			zap.Int("threshold", threshold),
			zap.Error(err),
		)
	}
	return m.state
}

// Run probes on the configured interval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	for {
		interval := m.holder.Get().ProbeInterval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.ProbeOnce(ctx)
		}
	}
}
