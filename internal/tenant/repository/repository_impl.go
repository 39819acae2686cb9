package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) InsertPartner(ctx context.Context, db *gorm.DB, partner *tenantdomain.Partner) error {
	return db.WithContext(ctx).Create(partner).Error
}

func (r *repo) InsertTenant(ctx context.Context, db *gorm.DB, tenant *tenantdomain.Tenant) error {
	return db.WithContext(ctx).Create(tenant).Error
}

func (r *repo) FindPartner(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Partner, error) {
	var partner tenantdomain.Partner
	err := db.WithContext(ctx).Where("id = ?", id).First(&partner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &partner, nil
}

func (r *repo) FindTenant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) ListTenantsByPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) ([]tenantdomain.Tenant, error) {
	var tenants []tenantdomain.Tenant
	if err := db.WithContext(ctx).Where("partner_id = ?", partnerID).Order("id").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *repo) ListPartnersNeedingReactivation(ctx context.Context, db *gorm.DB) ([]tenantdomain.Partner, error) {
	var partners []tenantdomain.Partner
	err := db.WithContext(ctx).
		Where("status = ?", tenantdomain.PartnerStatusSuspended).
		Or("id IN (?)", db.Model(&tenantdomain.Tenant{}).Select("partner_id").Where("dunning_level > 0")).
		Order("id").
		Find(&partners).Error
	if err != nil {
		return nil, err
	}
	return partners, nil
}

func (r *repo) ListFlaggedTenantIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Model(&tenantdomain.Tenant{}).
		Where("dunning_level > 0").
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) UpdateTenantDunning(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, flags tenantdomain.DunningFlags, now time.Time) error {
	return db.WithContext(ctx).Model(&tenantdomain.Tenant{}).
		Where("id = ?", tenantID).
		Updates(map[string]any{
			"dunning_level": flags.Level,
			"read_only":     flags.ReadOnly,
			"blocked":       flags.Blocked,
			"suspended_at":  flags.SuspendedAt,
			"updated_at":    now,
		}).Error
}

func (r *repo) ResetTenantsDunning(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&tenantdomain.Tenant{}).
		Where("partner_id = ?", partnerID).
		Updates(map[string]any{
			"dunning_level": 0,
			"read_only":     false,
			"blocked":       false,
			"suspended_at":  nil,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) SuspendPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Model(&tenantdomain.Partner{}).
		Where("id = ? AND status <> ?", partnerID, tenantdomain.PartnerStatusSuspended).
		Updates(map[string]any{
			"status":       tenantdomain.PartnerStatusSuspended,
			"suspended_at": now,
			"updated_at":   now,
		}).Error
}

func (r *repo) ReactivatePartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Model(&tenantdomain.Partner{}).
		Where("id = ?", partnerID).
		Updates(map[string]any{
			"status":       tenantdomain.PartnerStatusActive,
			"suspended_at": nil,
			"updated_at":   now,
		}).Error
}

func (r *repo) UpdatePartnerPolicy(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, policy *tenantdomain.DunningPolicy, now time.Time) error {
	res := db.WithContext(ctx).Model(&tenantdomain.Partner{}).
		Where("id = ?", partnerID).
		Updates(map[string]any{
			"dunning_policy": datatypes.NewJSONType(policy),
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tenantdomain.ErrPartnerNotFound
	}
	return nil
}
