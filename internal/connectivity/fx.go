package connectivity

import (
	"context"

	"github.com/vidlens/trendsync/internal/remote"
	"go.uber.org/fx"
)

var Module = fx.Module("connectivity",
	fx.Provide(func(c *remote.Client) Prober { return c }),
	fx.Provide(NewMonitor),
	fx.Invoke(runMonitor),
)

func runMonitor(lc fx.Lifecycle, m *Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go m.Run(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
