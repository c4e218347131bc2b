package outbox

import (
	"github.com/vidlens/trendsync/internal/outbox/domain"
	"github.com/vidlens/trendsync/internal/outbox/repository"
	"github.com/vidlens/trendsync/internal/outbox/service"
	"github.com/vidlens/trendsync/internal/remote"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *remote.Client) domain.RemoteStore { return c }),
	fx.Provide(service.New),
)
