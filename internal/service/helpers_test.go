package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/database"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/repository"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/store"
)

const (
	testTokenSecret     = "token-secret-for-tests-0123456789abcdef"
	testIntegritySecret = "integrity-secret-for-tests-0123456789"
	testPassword        = "Correct-Horse-42!"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
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
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newHasherForTest() *security.PasswordHasher {
	return security.NewPasswordHasher(4, 0)
}

func newVaultForTest(t *testing.T) *security.Vault {
	t.Helper()
	v, err := security.NewVault([]byte("0123456789abcdef0123456789abcdef"), []byte(testIntegritySecret))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v
}

func newRecorderForTest() (*audit.Recorder, *audit.MemorySink) {
	sink := audit.NewMemorySink()
	return audit.NewRecorder(nil, sink), sink
}

func createUserForTest(t *testing.T, users repository.UserRepository, username string, role domain.Role, status domain.UserStatus) *domain.User {
	t.Helper()
	hash, err := newHasherForTest().Hash(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &domain.User{
		ID:           "user-" + username,
		Username:     username,
		DisplayName:  strings.ToUpper(username[:1]) + username[1:],
		PasswordHash: hash.Hash,
		Role:         role,
		StoreID:      "store-1",
		Status:       status,
	}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

type authFixture struct {
	db       *gorm.DB
	clock    *fakeClock
	users    repository.UserRepository
	sessions repository.SessionRepository
	revoked  *store.InMemoryKeyedStore
	guard    *CredentialGuard
	tokens   *TokenService
	auth     *AuthService
	events   *audit.MemorySink
}

func newAuthFixture(t *testing.T, cfg TokenConfig) *authFixture {
	t.Helper()
	clock := newFakeClock(time.Now().UTC().Truncate(time.Second))
	db := newDBForTest(t)
	recorder, sink := newRecorderForTest()
	if cfg.Secret == "" {
		cfg.Secret = testTokenSecret
	}

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	revoked := store.NewInMemoryKeyedStore().WithClock(clock.Now)
	attempts := store.NewInMemoryKeyedStore().WithClock(clock.Now)

	jwtMgr := security.NewJWTManager("pos-trust-core", "pos-terminals", "access-secret-for-tests-0123456789", "refresh-secret-for-tests-012345678").WithClock(clock.Now)
	guard := NewCredentialGuard(newHasherForTest(), attempts, DefaultLockoutPolicy()).WithClock(clock.Now)
	tokens := NewTokenService(jwtMgr, sessions, revoked, recorder, cfg, nil).WithClock(clock.Now)
	auth := NewAuthService(users, guard, tokens, recorder, nil).WithClock(clock.Now)

	return &authFixture{
		db:       db,
		clock:    clock,
		users:    users,
		sessions: sessions,
		revoked:  revoked,
		guard:    guard,
		tokens:   tokens,
		auth:     auth,
		events:   sink,
	}
}
