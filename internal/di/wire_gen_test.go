package di

import (
	"context"
	"errors"
	"testing"

	"github.com/sandeepkv93/pos-trust-core/internal/config"
	"github.com/sandeepkv93/pos-trust-core/internal/database"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
)

func TestInitializeAppReleasesDatabaseOnLaterFailure(t *testing.T) {
	dsn := "file:di_cleanup?mode=memory&cache=shared"
	cfg := &config.Config{
		AppEnv:             "test",
		DatabaseURL:        dsn,
		LogLevel:           "error",
		HMACSecret:         "di-test-hmac-secret-0123456789abcdef",
		FieldEncryptionKey: []byte("too-short"),
	}

	a, cleanup, err := InitializeApp(context.Background(), cfg)
	if !errors.Is(err, security.ErrInvalidKeySize) {
		t.Fatalf("expected vault key error, got %v", err)
	}
	if a != nil || cleanup != nil {
		t.Fatal("failed wiring must not hand back an app or a cleanup")
	}

	// A shared-cache memory database lives only while a connection is open,
	// so the migrated schema survives only if the failed wiring leaked its pool.
	db, err := database.Open(dsn, nil)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if db.Migrator().HasTable(&domain.User{}) {
		t.Fatal("database opened during failed wiring was not closed")
	}
}
