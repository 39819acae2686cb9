package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, subscription *subscriptiondomain.TenantSubscription) error {
	return conn.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.TenantSubscription, error) {
	return r.first(conn.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByTenant(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.TenantSubscription, error) {
	return r.first(conn.WithContext(ctx).Where("tenant_id = ?", tenantID))
}

func (r *repo) FindByTenantForUpdate(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.TenantSubscription, error) {
	return r.first(db.ForUpdate(conn.WithContext(ctx)).Where("tenant_id = ?", tenantID))
}

func (r *repo) first(query *gorm.DB) (*subscriptiondomain.TenantSubscription, error) {
	var sub subscriptiondomain.TenantSubscription
	err := query.First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repo) ListDueForInvoice(ctx context.Context, conn *gorm.DB, horizon time.Time) ([]subscriptiondomain.TenantSubscription, error) {
	return r.list(conn.WithContext(ctx).
		Where("status IN ?", []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusTrial,
		}).
		Where("current_period_end <= ?", horizon))
}

func (r *repo) ListRollable(ctx context.Context, conn *gorm.DB, targetDate time.Time) ([]subscriptiondomain.TenantSubscription, error) {
	return r.list(conn.WithContext(ctx).
		Where("status IN ?", []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusTrial,
			subscriptiondomain.SubscriptionStatusPastDue,
		}).
		Where("current_period_end <= ?", targetDate))
}

func (r *repo) ListTrialsEnding(ctx context.Context, conn *gorm.DB, targetDate time.Time) ([]subscriptiondomain.TenantSubscription, error) {
	return r.list(conn.WithContext(ctx).
		Where("status = ?", subscriptiondomain.SubscriptionStatusTrial).
		Where("trial_ends_at IS NOT NULL AND trial_ends_at <= ?", targetDate))
}

func (r *repo) list(query *gorm.DB) ([]subscriptiondomain.TenantSubscription, error) {
	var subs []subscriptiondomain.TenantSubscription
	if err := query.Order("id").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) AdvancePeriod(ctx context.Context, conn *gorm.DB, id snowflake.ID, fromEnd, newEnd time.Time, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Model(&subscriptiondomain.TenantSubscription{}).
		Where("id = ? AND current_period_end = ?", id, fromEnd).
		Updates(map[string]any{
			"current_period_start": fromEnd,
			"current_period_end":   newEnd,
			"updated_at":           now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from []subscriptiondomain.SubscriptionStatus, to subscriptiondomain.SubscriptionStatus, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Model(&subscriptiondomain.TenantSubscription{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdatePlan(ctx context.Context, conn *gorm.DB, id snowflake.ID, planID snowflake.ID, amount decimal.Decimal, currency string, now time.Time) error {
	return conn.WithContext(ctx).Model(&subscriptiondomain.TenantSubscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"plan_id":        planID,
			"monthly_amount": amount,
			"currency":       currency,
			"updated_at":     now,
		}).Error
}

func (r *repo) ReactivatePastDueByPartner(ctx context.Context, conn *gorm.DB, partnerID snowflake.ID, now time.Time) (int64, error) {
	res := conn.WithContext(ctx).Model(&subscriptiondomain.TenantSubscription{}).
		Where("partner_id = ? AND status = ?", partnerID, subscriptiondomain.SubscriptionStatusPastDue).
		Updates(map[string]any{
			"status":     subscriptiondomain.SubscriptionStatusActive,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
