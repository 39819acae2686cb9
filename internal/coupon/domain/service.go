package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type RedeemRequest struct {
	TenantID snowflake.ID
	Code     string
}

type Service interface {
	Redeem(ctx context.Context, req RedeemRequest) (*PendingCoupon, error)
}

type Repository interface {
	InsertCoupon(ctx context.Context, db *gorm.DB, coupon *Coupon) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Coupon, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Coupon, error)
	InsertPending(ctx context.Context, db *gorm.DB, pending *PendingCoupon) (bool, error)
	ListPendingByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]PendingCoupon, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]PendingCoupon, error)
	MarkConsumed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	InsertRedemption(ctx context.Context, db *gorm.DB, redemption *Redemption) (bool, error)
	CountRedemptions(ctx context.Context, db *gorm.DB, couponID snowflake.ID) (int64, error)
	CountQueued(ctx context.Context, db *gorm.DB, couponID snowflake.ID) (int64, error)
}

var (
	ErrCouponNotFound      = errors.New("coupon_not_found")
	ErrCouponNotRedeemable = errors.New("coupon_not_redeemable")
	ErrCouponScopeMismatch = errors.New("coupon_scope_mismatch")
	ErrCouponExhausted     = errors.New("coupon_exhausted")
	ErrCouponAlreadyQueued = errors.New("coupon_already_queued")
	ErrInvalidCode         = errors.New("invalid_coupon_code")
)
