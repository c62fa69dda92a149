package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.Product{},
		&domain.Customer{},
		&domain.Transaction{},
		&domain.LineItem{},
		&domain.AuditEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newSessionRepoForTest(t *testing.T) SessionRepository {
	t.Helper()
	return NewSessionRepository(newDBForTest(t))
}
