package daymerge

import "go.uber.org/fx"

var Module = fx.Module("daymerge",
	fx.Provide(NewService),
)
