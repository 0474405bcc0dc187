package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/clock"
	"github.com/crowdfield/eventcore/internal/config"
	"github.com/crowdfield/eventcore/internal/migration"
	"github.com/crowdfield/eventcore/internal/observability"
	"github.com/crowdfield/eventcore/internal/server"
	"github.com/crowdfield/eventcore/internal/sweeper"
	"github.com/crowdfield/eventcore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus the domain modules it serves.
		server.Module,

		// Background retry loop.
		sweeper.Module,
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
