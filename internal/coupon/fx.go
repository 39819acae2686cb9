package coupon

import (
	"github.com/smallbiznis/partnerbilling/internal/coupon/repository"
	"github.com/smallbiznis/partnerbilling/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(
		fx.Annotate(
			service.NewInvoiceAdjustments,
			fx.ResultTags(`group:"invoice_adjustments"`),
		),
	),
)
