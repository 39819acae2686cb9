package invoice

import (
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	"github.com/smallbiznis/partnerbilling/internal/invoice/repository"
	"github.com/smallbiznis/partnerbilling/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc invoicedomain.Service) invoicedomain.Repricer { return svc }),
)
