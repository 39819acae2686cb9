package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	addondomain "github.com/smallbiznis/partnerbilling/internal/addon/domain"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/partnerbilling/internal/billingcycle/domain"
	"github.com/smallbiznis/partnerbilling/internal/config"
	coupondomain "github.com/smallbiznis/partnerbilling/internal/coupon/domain"
	dunningdomain "github.com/smallbiznis/partnerbilling/internal/dunning/domain"
	"github.com/smallbiznis/partnerbilling/internal/dunning/guard"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	"github.com/smallbiznis/partnerbilling/internal/observability"
	obslogger "github.com/smallbiznis/partnerbilling/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	obstracing "github.com/smallbiznis/partnerbilling/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
	prorationdomain "github.com/smallbiznis/partnerbilling/internal/proration/domain"
	"github.com/smallbiznis/partnerbilling/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, conn *gorm.DB) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if conn != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx, conn); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, conn *gorm.DB) *gin.Engine {
	return NewEngine(obsCfg, conn)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger, shutdowner fx.Shutdowner) {
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	db     *gorm.DB
	log    *zap.Logger

	webhook        paymentdomain.Webhook
	webhookLimiter *ratelimit.WebhookLimiter
	obsMetrics     *obsmetrics.Metrics

	billingCycleSvc billingcycledomain.Service
	dunningSvc      dunningdomain.Service
	invoiceSvc      invoicedomain.Service
	prorationSvc    prorationdomain.Service
	entitlementSvc  entdomain.Service
	couponSvc       coupondomain.Service
	addonSvc        addondomain.Service
	subscriptionSvc subscriptiondomain.Service
	auditSvc        auditdomain.Service
	tenantRepo      tenantdomain.Repository
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	DB  *gorm.DB
	Log *zap.Logger

	Webhook        paymentdomain.Webhook
	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`

	BillingCycleSvc billingcycledomain.Service
	DunningSvc      dunningdomain.Service
	InvoiceSvc      invoicedomain.Service
	ProrationSvc    prorationdomain.Service
	EntitlementSvc  entdomain.Service
	CouponSvc       coupondomain.Service
	AddonSvc        addondomain.Service
	SubscriptionSvc subscriptiondomain.Service
	AuditSvc        auditdomain.Service
	TenantRepo      tenantdomain.Repository
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		db:     p.DB,
		log:    p.Log.Named("http.server"),

		webhook:        p.Webhook,
		webhookLimiter: p.WebhookLimiter,
		obsMetrics:     p.ObsMetrics,

		billingCycleSvc: p.BillingCycleSvc,
		dunningSvc:      p.DunningSvc,
		invoiceSvc:      p.InvoiceSvc,
		prorationSvc:    p.ProrationSvc,
		entitlementSvc:  p.EntitlementSvc,
		couponSvc:       p.CouponSvc,
		addonSvc:        p.AddonSvc,
		subscriptionSvc: p.SubscriptionSvc,
		auditSvc:        p.AuditSvc,
		tenantRepo:      p.TenantRepo,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerPartnerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/billing-cycle/run", s.RunBillingCycle)
	v1.GET("/billing-cycle/markers", s.ListBillingCycleMarkers)
	v1.GET("/audit-logs", s.ListAuditLogs)

	invoices := v1.Group("/invoices")
	invoices.POST("/generate", s.GenerateInvoice)
	invoices.GET("/:invoice_id", s.GetInvoice)
	invoices.POST("/:invoice_id/provider-payment", s.AttachProviderPayment)

	tenants := v1.Group("/tenants/:tenant_id")
	tenants.GET("/subscription", s.GetTenantSubscription)
	tenants.GET("/invoices", s.ListTenantInvoices)
	tenants.POST("/dunning/apply", s.ApplyTenantDunning)
	tenants.GET("/plan-change/preview", s.PreviewPlanChange)
	tenants.POST("/plan-change", s.ChangePlan)
	tenants.GET("/entitlements", s.ListEntitlements)
	tenants.GET("/entitlements/:key/check", s.CheckEntitlement)
	tenants.POST("/entitlements/rebuild", s.RebuildEntitlements)
	tenants.POST("/entitlements/overrides", s.CreateEntitlementOverride)
	tenants.POST("/coupons", s.RedeemCoupon)
	tenants.GET("/addons", s.ListAddons)
	tenants.POST("/addons", s.SubscribeAddon)
	tenants.DELETE("/addons/:addon_id", s.CancelAddon)
}

// registerPartnerRoutes mounts the partner-facing surface. Every group runs the
// dunning guard; billing routes stay reachable at any level so a blocked
// partner can still see and settle what it owes.
func (s *Server) registerPartnerRoutes() {
	partners := s.engine.Group("/v1/partners/:partner_id")

	billing := partners.Group("", guard.Middleware(s.dunningSvc, guard.RouteBilling, s.log))
	billing.GET("/access-state", s.GetAccessState)
	billing.PUT("/dunning-policy", s.SetPartnerDunningPolicy)
	billing.DELETE("/dunning-policy", s.ResetPartnerDunningPolicy)
	billing.GET("/tenants/:tenant_id/invoices", s.TenantInPartner(), s.ListTenantInvoices)

	dashboard := partners.Group("/tenants/:tenant_id",
		guard.Middleware(s.dunningSvc, guard.RouteDashboard, s.log),
		s.TenantInPartner(),
	)
	dashboard.GET("/entitlements", s.ListEntitlements)
	dashboard.GET("/subscription", s.GetTenantSubscription)

	general := partners.Group("/tenants/:tenant_id",
		guard.Middleware(s.dunningSvc, guard.RouteGeneral, s.log),
		s.TenantInPartner(),
	)
	general.GET("/entitlements/:key/check", s.CheckEntitlement)
	general.POST("/coupons", s.RedeemCoupon)
	general.POST("/addons", s.SubscribeAddon)
}
