package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/crowdfield/eventcore/internal/clock"
	"github.com/crowdfield/eventcore/internal/config"
	"github.com/crowdfield/eventcore/internal/observability"
	"github.com/crowdfield/eventcore/internal/sweeper"
	"github.com/crowdfield/eventcore/internal/webhook"
	"github.com/crowdfield/eventcore/pkg/db"
	"go.uber.org/fx"
)

// Standalone retry sweeper. Run alongside the API when delivery retries
// should not compete with request traffic for a process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Dispatch service the sweeper drives. No HTTP server here.
		webhook.Module,
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
