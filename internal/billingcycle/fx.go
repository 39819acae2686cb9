package billingcycle

import (
	"github.com/smallbiznis/partnerbilling/internal/billingcycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingcycle.service",
	fx.Provide(service.NewService),
)
