package proration

import (
	"github.com/smallbiznis/partnerbilling/internal/proration/repository"
	"github.com/smallbiznis/partnerbilling/internal/proration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("proration.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(
		fx.Annotate(
			service.NewInvoiceAdjustments,
			fx.ResultTags(`group:"invoice_adjustments"`),
		),
	),
)
