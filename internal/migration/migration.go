package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	addondomain "github.com/smallbiznis/partnerbilling/internal/addon/domain"
	auditdomain "github.com/smallbiznis/partnerbilling/internal/audit/domain"
	billingcycledomain "github.com/smallbiznis/partnerbilling/internal/billingcycle/domain"
	catalogdomain "github.com/smallbiznis/partnerbilling/internal/catalog/domain"
	coupondomain "github.com/smallbiznis/partnerbilling/internal/coupon/domain"
	entdomain "github.com/smallbiznis/partnerbilling/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/partnerbilling/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/partnerbilling/internal/payment/domain"
	prorationdomain "github.com/smallbiznis/partnerbilling/internal/proration/domain"
	subscriptiondomain "github.com/smallbiznis/partnerbilling/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/partnerbilling/internal/tenant/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations. Already applied
// versions are left alone.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// Models lists every persisted model. sqlite and mysql deployments are
// migrated from these instead of the postgres SQL files.
func Models() []any {
	return []any{
		&tenantdomain.Partner{},
		&tenantdomain.Tenant{},
		&auditdomain.AuditLog{},
		&catalogdomain.Plan{},
		&catalogdomain.Addon{},
		&subscriptiondomain.TenantSubscription{},
		&addondomain.TenantAddon{},
		&entdomain.TenantEntitlement{},
		&entdomain.Override{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&prorationdomain.ProrationRecord{},
		&coupondomain.Coupon{},
		&coupondomain.PendingCoupon{},
		&coupondomain.Redemption{},
		&paymentdomain.EventRecord{},
		&billingcycledomain.PhaseRun{},
	}
}

// AutoMigrate creates the schema through gorm for non-postgres dialects.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
