package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	addondomain "github.com/smallbiznis/partnerbilling/internal/addon/domain"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	"github.com/smallbiznis/partnerbilling/internal/config"
	coupondomain "github.com/smallbiznis/partnerbilling/internal/coupon/domain"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	"github.com/smallbiznis/partnerbilling/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Billing          *config.BillingConfigHolder
	Repo             entdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	CatalogRepo      catalogdomain.Repository
	AddonRepo        addondomain.Repository
	CouponRepo       coupondomain.Repository
	AuditSvc         auditdomain.Service
	Metrics          *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	repo     entdomain.Repository
	subRepo  subscriptiondomain.Repository
	catalog  catalogdomain.Repository
	addons   addondomain.Repository
	coupons  coupondomain.Repository
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) entdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("entitlement.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		repo:     p.Repo,
		subRepo:  p.SubscriptionRepo,
		catalog:  p.CatalogRepo,
		addons:   p.AddonRepo,
		coupons:  p.CouponRepo,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Rebuild(ctx context.Context, tenantID snowflake.ID) error {
	if tenantID == 0 {
		return entdomain.ErrInvalidTenant
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.RebuildTx(ctx, tx, tenantID)
	})
}

// RebuildTx replaces every materialised row of the tenant using tx.
func (s *Service) RebuildTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	if tenantID == 0 {
		return entdomain.ErrInvalidTenant
	}
	now := s.clock.Now()

	rows, err := s.collect(ctx, tx, tenantID, now)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteByTenant(ctx, tx, tenantID); err != nil {
		return err
	}
	if err := s.repo.InsertBatch(ctx, tx, rows); err != nil {
		return err
	}

	s.log.Debug("entitlement.rebuild",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("rows", len(rows)),
	)
	return nil
}

func (s *Service) collect(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, now time.Time) ([]entdomain.TenantEntitlement, error) {
	var rows []entdomain.TenantEntitlement
	add := func(spec entdomain.Spec, source entdomain.Source, sourceID snowflake.ID, from time.Time, until *time.Time) {
		for key, value := range spec {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			id := sourceID
			rows = append(rows, entdomain.TenantEntitlement{
				ID:             s.genID.Generate(),
				TenantID:       tenantID,
				EntitlementKey: key,
				Value:          datatypes.NewJSONType(value),
				Source:         source,
				SourceID:       &id,
				EffectiveFrom:  from,
				EffectiveUntil: until,
				CreatedAt:      now,
			})
		}
	}

	sub, err := s.subRepo.FindByTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub != nil && sub.PlanID != nil && sub.Status.Entitled() {
		plan, err := s.catalog.FindPlan(ctx, tx, *sub.PlanID)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			add(plan.Entitlements.Data(), entdomain.SourcePlan, plan.ID, notAfter(sub.CreatedAt, now), nil)
		}
	}

	purchases, err := s.addons.ListActiveByTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(purchases) > 0 {
		addonIDs := lo.Map(purchases, func(p addondomain.TenantAddon, _ int) snowflake.ID { return p.AddonID })
		catalogAddons, err := s.catalog.FindAddons(ctx, tx, lo.Uniq(addonIDs))
		if err != nil {
			return nil, err
		}
		byID := lo.KeyBy(catalogAddons, func(a catalogdomain.Addon) snowflake.ID { return a.ID })
		for _, purchase := range purchases {
			addon, ok := byID[purchase.AddonID]
			if !ok {
				continue
			}
			add(addon.Entitlements.Data(), entdomain.SourceAddon, addon.ID, notAfter(purchase.StartedAt, now), nil)
		}
	}

	queued, err := s.coupons.ListByTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(queued) > 0 {
		couponIDs := lo.Map(queued, func(p coupondomain.PendingCoupon, _ int) snowflake.ID { return p.CouponID })
		coupons, err := s.coupons.FindByIDs(ctx, tx, lo.Uniq(couponIDs))
		if err != nil {
			return nil, err
		}
		byID := lo.KeyBy(coupons, func(c coupondomain.Coupon) snowflake.ID { return c.ID })
		for _, pending := range queued {
			coupon, ok := byID[pending.CouponID]
			if !ok || coupon.PromotionDays <= 0 {
				continue
			}
			until := pending.CreatedAt.AddDate(0, 0, coupon.PromotionDays)
			if !until.After(now) {
				continue
			}
			add(coupon.Entitlements.Data(), entdomain.SourcePromotion, coupon.ID, pending.CreatedAt, &until)
		}
	}

	overrides, err := s.repo.ListOverrides(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		if override.EffectiveUntil != nil && !override.EffectiveUntil.After(now) {
			continue
		}
		add(entdomain.Spec{override.EntitlementKey: override.Value.Data()}, entdomain.SourceManual, override.ID, override.EffectiveFrom, override.EffectiveUntil)
	}

	return rows, nil
}

func (s *Service) Check(ctx context.Context, tenantID snowflake.ID, key string, requested *int64) (entdomain.CheckResult, error) {
	if tenantID == 0 {
		return entdomain.CheckResult{}, entdomain.ErrInvalidTenant
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return entdomain.CheckResult{}, entdomain.ErrInvalidKey
	}
	if requested != nil && *requested < 0 {
		return entdomain.CheckResult{}, entdomain.ErrInvalidRequested
	}

	rows, err := s.repo.ListByTenantKey(ctx, s.db, tenantID, key)
	if err != nil {
		return entdomain.CheckResult{}, err
	}

	var (
		value  entdomain.Value
		source entdomain.Source
	)
	if row, ok := entdomain.Pick(rows, s.clock.Now()); ok {
		value, source = row.Value.Data(), row.Source
	} else if def, ok := s.policyDefault(key); ok {
		value, source = def, entdomain.SourcePolicy
	} else {
		s.metrics.RecordEntitlementCheck(ctx, key, entdomain.ReasonNotEntitled)
		return entdomain.CheckResult{Allowed: false, Reason: entdomain.ReasonNotEntitled}, nil
	}

	allowed, reason := entdomain.Evaluate(value, requested)
	s.metrics.RecordEntitlementCheck(ctx, key, reason)
	return entdomain.CheckResult{
		Allowed:      allowed,
		CurrentValue: &value,
		Source:       source,
		Reason:       reason,
	}, nil
}

func (s *Service) Resolve(ctx context.Context, tenantID snowflake.ID) (map[string]entdomain.Effective, error) {
	if tenantID == 0 {
		return nil, entdomain.ErrInvalidTenant
	}
	rows, err := s.repo.ListByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make(map[string]entdomain.Effective)
	for key, group := range lo.GroupBy(rows, func(r entdomain.TenantEntitlement) string { return r.EntitlementKey }) {
		if row, ok := entdomain.Pick(group, now); ok {
			out[key] = entdomain.Effective{Key: key, Value: row.Value.Data(), Source: row.Source}
		}
	}
	for key, def := range s.billing.Get().DefaultEntitlements {
		if _, ok := out[key]; ok {
			continue
		}
		out[key] = entdomain.Effective{Key: key, Value: toValue(def), Source: entdomain.SourcePolicy}
	}
	return out, nil
}

func (s *Service) SetManualOverride(ctx context.Context, req entdomain.OverrideRequest) (*entdomain.Override, error) {
	if req.TenantID == 0 {
		return nil, entdomain.ErrInvalidTenant
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, entdomain.ErrInvalidKey
	}
	if req.Value.Limit != nil && *req.Value.Limit < entdomain.Unlimited {
		return nil, entdomain.ErrInvalidLimit
	}

	now := s.clock.Now()
	from := now
	if req.EffectiveFrom != nil {
		from = req.EffectiveFrom.UTC()
	}
	if req.EffectiveUntil != nil && !req.EffectiveUntil.After(from) {
		return nil, entdomain.ErrInvalidWindow
	}

	override := entdomain.Override{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		EntitlementKey: key,
		Value:          datatypes.NewJSONType(req.Value),
		EffectiveFrom:  from,
		EffectiveUntil: req.EffectiveUntil,
		Reason:         strings.TrimSpace(req.Reason),
		CreatedBy:      strings.TrimSpace(req.ActorID),
		CreatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertOverride(ctx, tx, &override); err != nil {
			return err
		}
		if err := s.RebuildTx(ctx, tx, req.TenantID); err != nil {
			return err
		}
		tenantID := req.TenantID
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			TenantID:   &tenantID,
			ActorType:  auditdomain.ActorTypeOperator,
			ActorID:    override.CreatedBy,
			Action:     auditdomain.ActionEntitlementOverride,
			TargetType: "entitlement",
			TargetID:   key,
			Metadata: map[string]any{
				"enabled": req.Value.Enabled,
				"limit":   req.Value.Limit,
				"reason":  override.Reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &override, nil
}

func (s *Service) policyDefault(key string) (entdomain.Value, bool) {
	def, ok := s.billing.Get().DefaultEntitlements[key]
	if !ok {
		return entdomain.Value{}, false
	}
	return toValue(def), true
}

func toValue(def config.EntitlementDefault) entdomain.Value {
	if def.Limit == nil {
		return entdomain.Flag(def.Enabled)
	}
	limit := *def.Limit
	return entdomain.Value{Enabled: def.Enabled, Limit: &limit}
}

func notAfter(t, now time.Time) time.Time {
	if t.IsZero() || t.After(now) {
		return now
	}
	return t
}
