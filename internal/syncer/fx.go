package syncer

import (
	"context"
	"errors"

	"github.com/vidlens/trendsync/internal/connectivity"
	"github.com/vidlens/trendsync/internal/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("syncer",
	fx.Provide(func(c *remote.Client) RemoteAPI { return c }),
	fx.Provide(New),
	fx.Invoke(registerRecovery),
)

// registerRecovery wires the offline -> online transition: first the outbox is
// drained, then an incremental pass reconciles what accumulated while offline.
// The replay inside IncrementalSync covers both, so one call is enough.
func registerRecovery(m *connectivity.Monitor, o *Orchestrator, log *zap.Logger) {
	log = log.Named("syncer.recovery")
	m.OnRecover(func(ctx context.Context) {
		if _, err := o.IncrementalSync(ctx); err != nil && !errors.Is(err, ErrSyncInFlight) {
			log.Warn("post-recovery sync failed", zap.Error(err))
		}
	})
}
