package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hwlicense/internal/audit"
	"github.com/smallbiznis/hwlicense/internal/auth"
	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"github.com/smallbiznis/hwlicense/internal/download"
	"github.com/smallbiznis/hwlicense/internal/license"
	"github.com/smallbiznis/hwlicense/internal/migration"
	"github.com/smallbiznis/hwlicense/internal/observability"
	"github.com/smallbiznis/hwlicense/internal/proof"
	"github.com/smallbiznis/hwlicense/internal/ratelimit"
	"github.com/smallbiznis/hwlicense/internal/release"
	"github.com/smallbiznis/hwlicense/internal/server"
	"github.com/smallbiznis/hwlicense/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// License domain
		audit.Module,
		license.Module,
		auth.Module,
		proof.Module,
		ratelimit.Module,
		download.Module,
		release.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
