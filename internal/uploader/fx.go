package uploader

import "go.uber.org/fx"

var Module = fx.Module("uploader",
	fx.Provide(New),
)
