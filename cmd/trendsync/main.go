package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/vidlens/trendsync/internal/clock"
	"github.com/vidlens/trendsync/internal/config"
	"github.com/vidlens/trendsync/internal/connectivity"
	"github.com/vidlens/trendsync/internal/daymerge"
	"github.com/vidlens/trendsync/internal/dedup"
	"github.com/vidlens/trendsync/internal/migration"
	"github.com/vidlens/trendsync/internal/observability"
	"github.com/vidlens/trendsync/internal/outbox"
	"github.com/vidlens/trendsync/internal/ratelimit"
	"github.com/vidlens/trendsync/internal/record"
	"github.com/vidlens/trendsync/internal/remote"
	"github.com/vidlens/trendsync/internal/scheduler"
	"github.com/vidlens/trendsync/internal/server"
	"github.com/vidlens/trendsync/internal/syncer"
	"github.com/vidlens/trendsync/internal/uploader"
	"github.com/vidlens/trendsync/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// sync engine
		record.Module,
		dedup.Module,
		daymerge.Module,
		remote.Module,
		uploader.Module,
		outbox.Module,
		connectivity.Module,
		syncer.Module,

		// background work and control surface
		ratelimit.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
