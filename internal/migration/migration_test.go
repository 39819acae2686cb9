package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/partnerbilling/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestEmbeddedMigrationsCreateEveryModelTable(t *testing.T) {
	var all strings.Builder
	err := fs.WalkDir(embeddedMigrations, migrationsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return err
		}
		raw, err := fs.ReadFile(embeddedMigrations, path)
		if err != nil {
			return err
		}
		all.Write(raw)
		return nil
	})
	require.NoError(t, err)

	conn := dbtest.Open(t)
	for _, model := range Models() {
		stmt := conn.Model(model).Statement
		require.NoError(t, stmt.Parse(model))
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+stmt.Schema.Table+" (")
	}
}

func TestAutoMigrateCreatesSchema(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, AutoMigrate(conn))

	for _, table := range []string{"partners", "tenants", "invoices", "payment_events", "billing_cycle_phase_runs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}
