package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	addondomain "github.com/smallbiznis/partnerbilling/internal/addon/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() addondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, addon *addondomain.TenantAddon) error {
	return db.WithContext(ctx).Create(addon).Error
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, tenantID, addonID snowflake.ID) (*addondomain.TenantAddon, error) {
	var row addondomain.TenantAddon
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND addon_id = ? AND status = ?", tenantID, addonID, addondomain.StatusActive).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repo) ListActiveByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]addondomain.TenantAddon, error) {
	var rows []addondomain.TenantAddon
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, addondomain.StatusActive).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&addondomain.TenantAddon{}).
		Where("id = ? AND status = ?", id, addondomain.StatusActive).
		Updates(map[string]any{
			"status":      addondomain.StatusCanceled,
			"canceled_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
