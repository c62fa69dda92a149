package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/pos-trust-core/internal/app"
	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/config"
	"github.com/sandeepkv93/pos-trust-core/internal/database"
	"github.com/sandeepkv93/pos-trust-core/internal/health"
	"github.com/sandeepkv93/pos-trust-core/internal/http/handler"
	"github.com/sandeepkv93/pos-trust-core/internal/http/router"
	"github.com/sandeepkv93/pos-trust-core/internal/observability"
	"github.com/sandeepkv93/pos-trust-core/internal/repository"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
	"github.com/sandeepkv93/pos-trust-core/internal/store"
)

const (
	sessionCleanupInterval = time.Hour
	cleanupTimeout         = 10 * time.Second
)

var InfraSet = wire.NewSet(
	provideObservability,
	provideLogger,
	provideDB,
	provideRedisClient,
	provideKeyedStore,
	provideKafkaSink,
	provideReadiness,
)

var RepositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewSessionRepository,
	repository.NewProductRepository,
	repository.NewCustomerRepository,
	repository.NewTransactionRepository,
	repository.NewAuditRepository,
	provideUnitOfWork,
)

var SecuritySet = wire.NewSet(
	provideVault,
	providePasswordHasher,
	provideJWTManager,
	provideRecorder,
)

var ServiceSet = wire.NewSet(
	provideCredentialGuard,
	provideTokenService,
	service.NewAuthService,
	provideFraudScorer,
	provideTaxProvider,
	provideLedger,
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
	wire.Bind(new(service.AccessVerifier), new(*service.TokenService)),
	wire.Bind(new(service.LedgerServiceInterface), new(*service.TransactionLedger)),
)

var HTTPSet = wire.NewSet(
	provideCookieConfig,
	handler.NewAuthHandler,
	handler.NewCheckoutHandler,
	provideRouter,
	provideHTTPServer,
	provideBackgroundTasks,
	app.New,
)

func provideObservability(ctx context.Context, cfg *config.Config) (*observability.Runtime, func(), error) {
	base := observability.NewJSONLogger(os.Stdout, cfg.LogLevel)
	rt, err := observability.InitRuntime(ctx, cfg, base)
	if err != nil {
		return nil, nil, fmt.Errorf("init observability: %w", err)
	}
	if rt.Logger == nil {
		rt.Logger = base
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			base.Warn("telemetry flush failed", "error", err)
		}
	}
	return rt, cleanup, nil
}

func provideLogger(cfg *config.Config, rt *observability.Runtime) *slog.Logger {
	logger := rt.Logger
	slog.SetDefault(logger)
	for _, key := range cfg.EphemeralSecrets {
		logger.Warn("secret not configured, using ephemeral value", "key", key)
	}
	return logger
}

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			logger.Warn("database close failed", "error", err)
		}
	}
	return db, cleanup, nil
}

// provideRedisClient returns nil when Redis is not configured.
func provideRedisClient(cfg *config.Config) (redis.UniversalClient, func()) {
	if !cfg.RedisEnabled() {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() { _ = client.Close() }
}

func provideKeyedStore(cfg *config.Config, client redis.UniversalClient, logger *slog.Logger) store.KeyedStore {
	if client == nil {
		logger.Info("keyed store backend", "backend", "memory")
		return store.NewInMemoryKeyedStore()
	}
	logger.Info("keyed store backend", "backend", "redis", "addr", cfg.RedisAddr)
	return store.NewRedisKeyedStore(client, cfg.RedisPrefix)
}

func provideKafkaSink(cfg *config.Config, logger *slog.Logger) (*audit.KafkaSink, func()) {
	if !cfg.KafkaEnabled() {
		return nil, func() {}
	}
	sink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.SecurityEventsTopic, logger)
	return sink, func() {
		if err := sink.Close(); err != nil {
			logger.Warn("event stream close failed", "error", err)
		}
	}
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.DBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.RedisChecker(client))
	}
	return health.NewProbeRunner(2*time.Second, 2*time.Second, checkers...)
}

func provideUnitOfWork(cfg *config.Config, db *gorm.DB) repository.UnitOfWork {
	return repository.NewUnitOfWork(db, database.CommitTxOptions(cfg.DatabaseURL))
}

func provideVault(cfg *config.Config) (*security.Vault, error) {
	return security.NewVault(cfg.FieldEncryptionKey, []byte(cfg.HMACSecret))
}

func providePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.BcryptCost, cfg.PasswordVerifyMinDuration)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
}

func provideRecorder(logger *slog.Logger, events repository.AuditRepository, stream *audit.KafkaSink) *audit.Recorder {
	sinks := []audit.Sink{audit.NewSlogSink(logger), audit.NewRepositorySink(events)}
	if stream != nil {
		sinks = append(sinks, stream)
	}
	return audit.NewRecorder(logger, sinks...)
}

func provideCredentialGuard(cfg *config.Config, hasher *security.PasswordHasher, kv store.KeyedStore) *service.CredentialGuard {
	return service.NewCredentialGuard(hasher, kv, service.LockoutPolicy{
		MaxAttempts: cfg.LockoutMaxAttempts,
		Window:      cfg.LockoutWindow,
		Duration:    cfg.LockoutDuration,
	})
}

func provideTokenService(cfg *config.Config, jwtMgr *security.JWTManager, sessions repository.SessionRepository, kv store.KeyedStore, recorder *audit.Recorder, logger *slog.Logger) *service.TokenService {
	return service.NewTokenService(jwtMgr, sessions, kv, recorder, service.TokenConfig{
		AccessTTL:          cfg.JWTAccessTTL,
		RefreshTTL:         cfg.JWTRefreshTTL,
		RevocationCapacity: cfg.RevocationCapacity,
		Secret:             cfg.HMACSecret,
	}, logger)
}

func provideFraudScorer(cfg *config.Config, txs repository.TransactionRepository, recorder *audit.Recorder, logger *slog.Logger) *service.FraudScorer {
	return service.NewFraudScorer(service.VelocityCounterFunc(txs.CountRecentByEmployee), cfg.StoreLocation, recorder, logger)
}

func provideTaxProvider(cfg *config.Config) service.TaxProvider {
	return service.NewStaticTaxProvider(service.TaxRates{
		BaseBPS:             cfg.TaxBaseRateBPS,
		RestrictedSurtaxBPS: cfg.TaxRestrictedSurtaxBPS,
	})
}

func provideLedger(
	cfg *config.Config,
	products repository.ProductRepository,
	customers repository.CustomerRepository,
	txs repository.TransactionRepository,
	uow repository.UnitOfWork,
	vault *security.Vault,
	scorer *service.FraudScorer,
	tax service.TaxProvider,
	recorder *audit.Recorder,
	logger *slog.Logger,
) *service.TransactionLedger {
	return service.NewTransactionLedger(service.LedgerDeps{
		Products:     products,
		Customers:    customers,
		Transactions: txs,
		UnitOfWork:   uow,
		Vault:        vault,
		Scorer:       scorer,
		Tax:          tax,
		Recorder:     recorder,
		Logger:       logger,
	}, cfg.CheckoutCommitTimeout)
}

func provideCookieConfig(cfg *config.Config) handler.CookieConfig {
	return handler.CookieConfig{Secure: cfg.CookieSecure, CSRFSecret: []byte(cfg.HMACSecret)}
}

func provideRouter(
	cfg *config.Config,
	authHandler *handler.AuthHandler,
	checkoutHandler *handler.CheckoutHandler,
	verifier service.AccessVerifier,
	recorder *audit.Recorder,
	kv store.KeyedStore,
	readiness *health.ProbeRunner,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:      authHandler,
		CheckoutHandler:  checkoutHandler,
		Verifier:         verifier,
		Recorder:         recorder,
		CSRFSecret:       []byte(cfg.HMACSecret),
		RateLimitStore:   kv,
		AuthRateLimitRPM: cfg.AuthRateLimitPerMin,
		APIRateLimitRPM:  cfg.APIRateLimitPerMin,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
		TrustedProxies:   cfg.TrustedProxies,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.CheckoutCommitTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// provideBackgroundTasks starts periodic session cleanup and returns its stop
// function.
func provideBackgroundTasks(sessions repository.SessionRepository, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := sessions.CleanupExpired(ctx)
				if err != nil {
					logger.Warn("session cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("expired sessions removed", "count", n)
				}
			}
		}
	}()
	return cancel
}
