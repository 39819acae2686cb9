package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	coupondomain "github.com/smallbiznis/partnerbilling/internal/coupon/domain"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() coupondomain.Repository {
	return &repo{}
}

func (r *repo) InsertCoupon(ctx context.Context, conn *gorm.DB, coupon *coupondomain.Coupon) error {
	return conn.WithContext(ctx).Create(coupon).Error
}

func (r *repo) FindByCode(ctx context.Context, conn *gorm.DB, code string) (*coupondomain.Coupon, error) {
	var coupon coupondomain.Coupon
	err := conn.WithContext(ctx).Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repo) FindByIDs(ctx context.Context, conn *gorm.DB, ids []snowflake.ID) ([]coupondomain.Coupon, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var coupons []coupondomain.Coupon
	if err := conn.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&coupons).Error; err != nil {
		return nil, err
	}
	return coupons, nil
}

func (r *repo) InsertPending(ctx context.Context, conn *gorm.DB, pending *coupondomain.PendingCoupon) (bool, error) {
	return db.InsertIgnore(conn.WithContext(ctx), pending, "tenant_id", "coupon_id")
}

func (r *repo) ListPendingByTenant(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) ([]coupondomain.PendingCoupon, error) {
	var rows []coupondomain.PendingCoupon
	err := conn.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, coupondomain.PendingStatusPending).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListByTenant(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) ([]coupondomain.PendingCoupon, error) {
	var rows []coupondomain.PendingCoupon
	if err := conn.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkConsumed(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Model(&coupondomain.PendingCoupon{}).
		Where("id = ? AND status = ?", id, coupondomain.PendingStatusPending).
		Updates(map[string]any{
			"status":      coupondomain.PendingStatusConsumed,
			"consumed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertRedemption(ctx context.Context, conn *gorm.DB, redemption *coupondomain.Redemption) (bool, error) {
	return db.InsertIgnore(conn.WithContext(ctx), redemption, "coupon_id", "invoice_id")
}

func (r *repo) CountRedemptions(ctx context.Context, conn *gorm.DB, couponID snowflake.ID) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Model(&coupondomain.Redemption{}).Where("coupon_id = ?", couponID).Count(&count).Error
	return count, err
}

// CountQueued counts pending coupons that have not reached an invoice yet.
func (r *repo) CountQueued(ctx context.Context, conn *gorm.DB, couponID snowflake.ID) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Model(&coupondomain.PendingCoupon{}).
		Where("coupon_id = ? AND status = ?", couponID, coupondomain.PendingStatusPending).
		Count(&count).Error
	return count, err
}
