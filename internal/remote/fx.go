package remote

import "go.uber.org/fx"

var Module = fx.Module("remote.client",
	fx.Provide(NewClient),
)
