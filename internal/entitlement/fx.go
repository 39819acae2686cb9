package entitlement

import (
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	"github.com/smallbiznis/partnerbilling/internal/entitlement/repository"
	"github.com/smallbiznis/partnerbilling/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc entdomain.Service) entdomain.Rebuilder { return svc }),
)
