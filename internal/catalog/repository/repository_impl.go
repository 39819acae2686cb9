package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *catalogdomain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) InsertAddon(ctx context.Context, db *gorm.DB, addon *catalogdomain.Addon) error {
	return db.WithContext(ctx).Create(addon).Error
}

// FindPlan returns nil without error when the plan does not exist.
func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Plan, error) {
	var plan catalogdomain.Plan
	err := db.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repo) FindAddon(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Addon, error) {
	var addon catalogdomain.Addon
	err := db.WithContext(ctx).Where("id = ?", id).First(&addon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addon, nil
}

func (r *repo) FindAddons(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]catalogdomain.Addon, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var addons []catalogdomain.Addon
	if err := db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&addons).Error; err != nil {
		return nil, err
	}
	return addons, nil
}
