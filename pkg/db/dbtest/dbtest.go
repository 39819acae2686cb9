// Package dbtest opens isolated in-memory sqlite databases for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

// Open returns a fresh in-memory database with models auto-migrated.
func Open(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:dbtest_%d?mode=memory&cache=shared", seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	stripRowLocks(conn)

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		if err := conn.AutoMigrate(models...); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}
	}
	return conn
}

// sqlite has no row locks; raw statements carrying FOR UPDATE are rewritten.
func stripRowLocks(conn *gorm.DB) {
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(sql)
	}
	_ = conn.Callback().Query().Before("gorm:query").Register("dbtest:strip_row_locks", strip)
	_ = conn.Callback().Row().Before("gorm:row").Register("dbtest:strip_row_locks_row", strip)
}
