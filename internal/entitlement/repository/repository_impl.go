package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	"gorm.io/gorm"
)

const insertBatchSize = 200

type repo struct{}

func Provide() entdomain.Repository {
	return &repo{}
}

func (r *repo) DeleteByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) error {
	return db.WithContext(ctx).Where("tenant_id = ?", tenantID).Delete(&entdomain.TenantEntitlement{}).Error
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, rows []entdomain.TenantEntitlement) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error
}

func (r *repo) ListByTenantKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) ([]entdomain.TenantEntitlement, error) {
	var rows []entdomain.TenantEntitlement
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND entitlement_key = ?", tenantID, key).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]entdomain.TenantEntitlement, error) {
	var rows []entdomain.TenantEntitlement
	if err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("entitlement_key, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) InsertOverride(ctx context.Context, db *gorm.DB, override *entdomain.Override) error {
	return db.WithContext(ctx).Create(override).Error
}

func (r *repo) ListOverrides(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]entdomain.Override, error) {
	var rows []entdomain.Override
	if err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
