package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	prorationdomain "github.com/smallbiznis/partnerbilling/internal/proration/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() prorationdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *prorationdomain.ProrationRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) ListPendingByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]prorationdomain.ProrationRecord, error) {
	var records []prorationdomain.ProrationRecord
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, prorationdomain.StatusPending).
		Order("created_at, id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) MarkApplied(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Model(&prorationdomain.ProrationRecord{}).
		Where("id IN ? AND status = ?", ids, prorationdomain.StatusPending).
		Updates(map[string]any{
			"status":     prorationdomain.StatusApplied,
			"invoice_id": invoiceID,
			"applied_at": now,
		})
	return res.RowsAffected, res.Error
}
