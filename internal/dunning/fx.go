package dunning

import (
	dunningdomain "github.com/smallbiznis/partnerbilling/internal/dunning/domain"
	"github.com/smallbiznis/partnerbilling/internal/dunning/service"
	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("dunning.service",
	fx.Provide(service.NewService),
	fx.Provide(func(svc dunningdomain.Service) paymentdomain.AccessStateInvalidator { return svc }),
)
