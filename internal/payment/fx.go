package payment

import (
	"github.com/smallbiznis/partnerbilling/internal/payment/adapters"
	"github.com/smallbiznis/partnerbilling/internal/payment/adapters/asaas"
	"github.com/smallbiznis/partnerbilling/internal/payment/adapters/stripe"
	"github.com/smallbiznis/partnerbilling/internal/payment/repository"
	paymentservice "github.com/smallbiznis/partnerbilling/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			asaas.NewFactory(),
			stripe.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewReconciler),
	fx.Provide(paymentservice.NewWebhook),
)
