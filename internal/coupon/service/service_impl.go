package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	coupondomain "github.com/smallbiznis/partnerbilling/internal/coupon/domain"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         coupondomain.Repository
	TenantRepo   tenantdomain.Repository
	Entitlements entdomain.Rebuilder
	AuditSvc     auditdomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         coupondomain.Repository
	tenants      tenantdomain.Repository
	entitlements entdomain.Rebuilder
	auditSvc     auditdomain.Service
}

func NewService(p Params) coupondomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("coupon.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		tenants:      p.TenantRepo,
		entitlements: p.Entitlements,
		auditSvc:     p.AuditSvc,
	}
}

// Redeem queues a coupon for the tenant's next invoice. Promotion
// entitlements of the coupon start immediately.
func (s *Service) Redeem(ctx context.Context, req coupondomain.RedeemRequest) (*coupondomain.PendingCoupon, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	if req.TenantID == 0 {
		return nil, tenantdomain.ErrTenantNotFound
	}

	var pending *coupondomain.PendingCoupon
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.tenants.FindTenant(ctx, tx, req.TenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}

		coupon, err := s.repo.FindByCode(ctx, db.ForUpdate(tx), code)
		if err != nil {
			return err
		}
		if coupon == nil {
			return coupondomain.ErrCouponNotFound
		}
		now := s.clock.Now()
		if !coupon.RedeemableAt(now) {
			return coupondomain.ErrCouponNotRedeemable
		}
		if coupon.PartnerID != nil && *coupon.PartnerID != tenant.PartnerID {
			return coupondomain.ErrCouponScopeMismatch
		}
		if coupon.MaxRedemptions > 0 {
			if err := s.ensureCapacity(ctx, tx, coupon); err != nil {
				return err
			}
		}

		row := &coupondomain.PendingCoupon{
			ID:        s.genID.Generate(),
			TenantID:  tenant.ID,
			CouponID:  coupon.ID,
			Status:    coupondomain.PendingStatusPending,
			CreatedAt: now,
		}
		inserted, err := s.repo.InsertPending(ctx, tx, row)
		if err != nil {
			return err
		}
		if !inserted {
			return coupondomain.ErrCouponAlreadyQueued
		}

		if coupon.PromotionDays > 0 {
			if err := s.entitlements.RebuildTx(ctx, tx, tenant.ID); err != nil {
				return err
			}
		}

		partnerID := tenant.PartnerID
		tenantID := tenant.ID
		if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			PartnerID:  &partnerID,
			TenantID:   &tenantID,
			Action:     auditdomain.ActionCouponRedeemed,
			TargetType: "coupon",
			TargetID:   coupon.ID.String(),
			Metadata: map[string]any{
				"code":           coupon.Code,
				"promotion_days": coupon.PromotionDays,
			},
		}); err != nil {
			return err
		}
		pending = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("coupon.redeemed",
		zap.String("tenant_id", pending.TenantID.String()),
		zap.String("coupon_id", pending.CouponID.String()),
	)
	return pending, nil
}

func (s *Service) ensureCapacity(ctx context.Context, tx *gorm.DB, coupon *coupondomain.Coupon) error {
	redeemed, err := s.repo.CountRedemptions(ctx, tx, coupon.ID)
	if err != nil {
		return err
	}
	queued, err := s.repo.CountQueued(ctx, tx, coupon.ID)
	if err != nil {
		return err
	}
	if redeemed+queued >= int64(coupon.MaxRedemptions) {
		return coupondomain.ErrCouponExhausted
	}
	return nil
}
