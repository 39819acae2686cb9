package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/partnerbilling/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{})

	if req.PartnerID != nil {
		stmt = stmt.Where("partner_id = ?", *req.PartnerID)
	}
	if req.TenantID != nil {
		stmt = stmt.Where("tenant_id = ?", *req.TenantID)
	}
	if action := strings.TrimSpace(req.Action); action != "" {
		stmt = stmt.Where("action = ?", action)
	}

	stmt = stmt.Order("id desc")
	if req.Limit > 0 {
		stmt = stmt.Limit(req.Limit)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
