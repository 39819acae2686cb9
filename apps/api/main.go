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
	"github.com/smallbiznis/partnerbilling/internal/server"
	"github.com/smallbiznis/partnerbilling/internal/subscription"
	"github.com/smallbiznis/partnerbilling/internal/tenant"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Redis backs the webhook rate limit
		ratelimit.Module,

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

		// Manual runs via POST /v1/billing-cycle/run
		billingcycle.Module,

		// No scheduler module!
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Scheduler.SnowflakeNode)
}
