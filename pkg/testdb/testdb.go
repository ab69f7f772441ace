// Package testdb opens throwaway sqlite databases with the service schema for tests.
package testdb

import (
	"fmt"
	"sync/atomic"
	"testing"

	"excursion/pkg/repository"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// Open returns a migrated in-memory database private to the calling test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_foreign_keys=on", seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// one connection keeps the in-memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(repository.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
