package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerbilling/internal/addon"
	"github.com/smallbiznis/partnerbilling/internal/audit"
	"github.com/smallbiznis/partnerbilling/internal/billingcycle"
	"github.com/smallbiznis/partnerbilling/internal/catalog"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	"github.com/smallbiznis/partnerbilling/internal/config"
	"github.com/smallbiznis/partnerbilling/internal/coupon"
	"github.com/smallbiznis/partnerbilling/internal/dunning"
	"github.com/smallbiznis/partnerbilling/internal/entitlement"
	"github.com/smallbiznis/partnerbilling/internal/invoice"
	"github.com/smallbiznis/partnerbilling/internal/migration"
	"github.com/smallbiznis/partnerbilling/internal/observability"
	"github.com/smallbiznis/partnerbilling/internal/payment"
	"github.com/smallbiznis/partnerbilling/internal/proration"
	"github.com/smallbiznis/partnerbilling/internal/ratelimit"
	"github.com/smallbiznis/partnerbilling/internal/scheduler"
	"github.com/smallbiznis/partnerbilling/internal/server"
	"github.com/smallbiznis/partnerbilling/internal/subscription"
	"github.com/smallbiznis/partnerbilling/internal/tenant"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"go.uber.org/fx"
)

// Single binary: HTTP API and billing cycle scheduler. APP_MODE narrows it
// to one role.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,

		// Functional Domains
		tenant.Module,
		catalog.Module,
		audit.Module,
		entitlement.Module,
		subscription.Module,
		proration.Module,
		coupon.Module,
		addon.Module,
		invoice.Module,
		dunning.Module,
		payment.Module,
		billingcycle.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Scheduler.SnowflakeNode)
}
