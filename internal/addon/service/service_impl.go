package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	addondomain "github.com/smallbiznis/partnerbilling/internal/addon/domain"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	"github.com/smallbiznis/partnerbilling/internal/clock"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         addondomain.Repository
	CatalogRepo  catalogdomain.Repository
	TenantRepo   tenantdomain.Repository
	Entitlements entdomain.Rebuilder
	AuditSvc     auditdomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         addondomain.Repository
	catalog      catalogdomain.Repository
	tenants      tenantdomain.Repository
	entitlements entdomain.Rebuilder
	auditSvc     auditdomain.Service
}

func NewService(p Params) addondomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("addon.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		catalog:      p.CatalogRepo,
		tenants:      p.TenantRepo,
		entitlements: p.Entitlements,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Subscribe(ctx context.Context, tenantID, addonID snowflake.ID) (*addondomain.TenantAddon, error) {
	var out *addondomain.TenantAddon
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.loadTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		addon, err := s.catalog.FindAddon(ctx, tx, addonID)
		if err != nil {
			return err
		}
		if addon == nil {
			return catalogdomain.ErrAddonNotFound
		}
		if !addon.Active {
			return addondomain.ErrAddonInactive
		}
		if addon.PartnerID != tenant.PartnerID {
			return addondomain.ErrScopeMismatch
		}

		existing, err := s.repo.FindActive(ctx, tx, tenant.ID, addon.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return addondomain.ErrAlreadySubscribed
		}

		row := &addondomain.TenantAddon{
			ID:        s.genID.Generate(),
			TenantID:  tenant.ID,
			AddonID:   addon.ID,
			Status:    addondomain.StatusActive,
			StartedAt: s.clock.Now(),
		}
		if err := s.repo.Insert(ctx, tx, row); err != nil {
			return err
		}
		if err := s.entitlements.RebuildTx(ctx, tx, tenant.ID); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, tenant, auditdomain.ActionAddonSubscribed, row); err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Cancel(ctx context.Context, tenantID, addonID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.loadTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		row, err := s.repo.FindActive(ctx, tx, tenant.ID, addonID)
		if err != nil {
			return err
		}
		if row == nil {
			return addondomain.ErrNotSubscribed
		}
		canceled, err := s.repo.Cancel(ctx, tx, row.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if !canceled {
			return addondomain.ErrNotSubscribed
		}
		if err := s.entitlements.RebuildTx(ctx, tx, tenant.ID); err != nil {
			return err
		}
		return s.audit(ctx, tx, tenant, auditdomain.ActionAddonCanceled, row)
	})
}

func (s *Service) ListActive(ctx context.Context, tenantID snowflake.ID) ([]addondomain.TenantAddon, error) {
	return s.repo.ListActiveByTenant(ctx, s.db, tenantID)
}

func (s *Service) loadTenant(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*tenantdomain.Tenant, error) {
	tenant, err := s.tenants.FindTenant(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, tenant *tenantdomain.Tenant, action string, row *addondomain.TenantAddon) error {
	partnerID := tenant.PartnerID
	tenantID := tenant.ID
	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		PartnerID:  &partnerID,
		TenantID:   &tenantID,
		Action:     action,
		TargetType: "tenant_addon",
		TargetID:   row.ID.String(),
		Metadata:   map[string]any{"addon_id": row.AddonID.String()},
	})
}
