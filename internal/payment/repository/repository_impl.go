package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerbilling/internal/payment/domain"
	"github.com/smallbiznis/partnerbilling/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := conn.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertEvent reports false when the provider already delivered this event.
func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.EventRecord) (bool, error) {
	return db.InsertIgnore(conn.WithContext(ctx), event, "provider", "provider_event_id")
}

func (r *repo) MarkProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return conn.WithContext(ctx).Model(&domain.EventRecord{}).
		Where("id = ?", id).
		Update("processed_at", processedAt).Error
}
