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
	"github.com/smallbiznis/partnerbilling/internal/observability"
	"github.com/smallbiznis/partnerbilling/internal/proration"
	"github.com/smallbiznis/partnerbilling/internal/ratelimit"
	"github.com/smallbiznis/partnerbilling/internal/scheduler"
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
		clock.Module,

		// Redis run lock shared across replicas
		ratelimit.Module,

		// Domain services required by the billing cycle phases
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
		billingcycle.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Scheduler.SnowflakeNode)
}
