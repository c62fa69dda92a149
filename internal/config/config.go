// Package config loads service configuration from an optional .env file and the
// environment using Viper.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	JWTIssuer        string
	JWTAudience      string
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration

	FieldEncryptionKey []byte
	HMACSecret         string

	BcryptCost                int
	PasswordVerifyMinDuration time.Duration

	LockoutMaxAttempts int
	LockoutWindow      time.Duration
	LockoutDuration    time.Duration

	RevocationCapacity int

	CheckoutCommitTimeout  time.Duration
	StoreLocation          *time.Location
	TaxBaseRateBPS         int64
	TaxRestrictedSurtaxBPS int64

	SecurityHardened bool
	CookieSecure     bool

	KafkaBrokers        []string
	SecurityEventsTopic string

	AuthRateLimitPerMin int
	APIRateLimitPerMin  int

	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP
	// headers are honored. Empty means the socket peer is the client.
	TrustedProxies []netip.Prefix

	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64

	LogLevel        string
	ShutdownTimeout time.Duration

	// EphemeralSecrets names the secret keys that were generated at startup
	// because none was configured.
	EphemeralSecrets []string
}

var defaults = map[string]any{
	"APP_ENV":                      "development",
	"HTTP_ADDR":                    ":8080",
	"DATABASE_URL":                 "file:poscore.db",
	"REDIS_ADDR":                   "",
	"REDIS_PASSWORD":               "",
	"REDIS_DB":                     "0",
	"REDIS_PREFIX":                 "poscore",
	"JWT_ISSUER":                   "pos-trust-core",
	"JWT_AUDIENCE":                 "pos-terminals",
	"JWT_ACCESS_SECRET":            "",
	"JWT_REFRESH_SECRET":           "",
	"JWT_ACCESS_TTL":               "15m",
	"JWT_REFRESH_TTL":              "168h",
	"FIELD_ENCRYPTION_KEY":         "",
	"HMAC_SECRET":                  "",
	"BCRYPT_COST":                  "14",
	"PASSWORD_VERIFY_MIN_DURATION": "100ms",
	"LOCKOUT_MAX_ATTEMPTS":         "5",
	"LOCKOUT_WINDOW":               "15m",
	"LOCKOUT_DURATION":             "15m",
	"TRUSTED_PROXY_CIDRS":          "",
	"REVOCATION_CAPACITY":          "10000",
	"CHECKOUT_COMMIT_TIMEOUT":      "30s",
	"STORE_TIMEZONE":               "Local",
	"TAX_BASE_RATE_BPS":            "825",
	"TAX_RESTRICTED_SURTAX_BPS":    "200",
	"SECURITY_HARDENED":            "",
	"COOKIE_SECURE":                "",
	"KAFKA_BROKERS":                "",
	"SECURITY_EVENTS_TOPIC":        "pos-security-events",
	"AUTH_RATE_LIMIT_RPM":          "30",
	"API_RATE_LIMIT_RPM":           "600",
	"OTEL_METRICS_ENABLED":         "false",
	"OTEL_TRACING_ENABLED":         "false",
	"OTEL_LOGS_ENABLED":            "false",
	"OTEL_EXPORTER_OTLP_ENDPOINT":  "localhost:4317",
	"OTEL_EXPORTER_OTLP_INSECURE":  "true",
	"OTEL_SERVICE_NAME":            "pos-trust-core",
	"OTEL_ENVIRONMENT":             "",
	"OTEL_METRICS_EXPORT_INTERVAL": "10s",
	"OTEL_TRACE_SAMPLING_RATIO":    "1.0",
	"LOG_LEVEL":                    "info",
	"SHUTDOWN_TIMEOUT":             "15s",
}

// Load reads .env (if present) and the environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (*Config, error) {
	cfg, err := build(v)
	o := loadOutcome{Profile: v.GetString("APP_ENV"), Err: err}
	if cfg != nil {
		o.Hardened = cfg.SecurityHardened
		o.EphemeralSecrets = len(cfg.EphemeralSecrets)
	}
	recordConfigValidationEvent(context.Background(), o)
	return cfg, err
}

func build(v *viper.Viper) (*Config, error) {
	p := parser{v: v}
	cfg := &Config{
		AppEnv:                    strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		HTTPAddr:                  v.GetString("HTTP_ADDR"),
		DatabaseURL:               strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:                 strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:             v.GetString("REDIS_PASSWORD"),
		RedisDB:                   p.int("REDIS_DB"),
		RedisPrefix:               v.GetString("REDIS_PREFIX"),
		JWTIssuer:                 v.GetString("JWT_ISSUER"),
		JWTAudience:               v.GetString("JWT_AUDIENCE"),
		JWTAccessSecret:           v.GetString("JWT_ACCESS_SECRET"),
		JWTRefreshSecret:          v.GetString("JWT_REFRESH_SECRET"),
		JWTAccessTTL:              p.duration("JWT_ACCESS_TTL"),
		JWTRefreshTTL:             p.duration("JWT_REFRESH_TTL"),
		HMACSecret:                v.GetString("HMAC_SECRET"),
		BcryptCost:                p.int("BCRYPT_COST"),
		PasswordVerifyMinDuration: p.duration("PASSWORD_VERIFY_MIN_DURATION"),
		LockoutMaxAttempts:        p.int("LOCKOUT_MAX_ATTEMPTS"),
		LockoutWindow:             p.duration("LOCKOUT_WINDOW"),
		LockoutDuration:           p.duration("LOCKOUT_DURATION"),
		RevocationCapacity:        p.int("REVOCATION_CAPACITY"),
		CheckoutCommitTimeout:     p.duration("CHECKOUT_COMMIT_TIMEOUT"),
		TaxBaseRateBPS:            int64(p.int("TAX_BASE_RATE_BPS")),
		TaxRestrictedSurtaxBPS:    int64(p.int("TAX_RESTRICTED_SURTAX_BPS")),
		KafkaBrokers:              splitList(v.GetString("KAFKA_BROKERS")),
		SecurityEventsTopic:       v.GetString("SECURITY_EVENTS_TOPIC"),
		AuthRateLimitPerMin:       p.int("AUTH_RATE_LIMIT_RPM"),
		APIRateLimitPerMin:        p.int("API_RATE_LIMIT_RPM"),
		OTELMetricsEnabled:        p.bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.bool("OTEL_LOGS_ENABLED", false),
		OTELExporterOTLPEndpoint:  v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELExporterOTLPInsecure:  p.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:           v.GetString("OTEL_SERVICE_NAME"),
		OTELEnvironment:           v.GetString("OTEL_ENVIRONMENT"),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL"),
		OTELTraceSamplingRatio:    p.float("OTEL_TRACE_SAMPLING_RATIO"),
		LogLevel:                  strings.ToLower(v.GetString("LOG_LEVEL")),
		ShutdownTimeout:           p.duration("SHUTDOWN_TIMEOUT"),
	}
	cfg.SecurityHardened = p.bool("SECURITY_HARDENED", cfg.AppEnv == "production")
	cfg.CookieSecure = p.bool("COOKIE_SECURE", cfg.SecurityHardened)
	if cfg.OTELEnvironment == "" {
		cfg.OTELEnvironment = cfg.AppEnv
	}

	for _, raw := range splitList(v.GetString("TRUSTED_PROXY_CIDRS")) {
		prefix, err := parsePrefix(raw)
		if err != nil {
			p.fail("TRUSTED_PROXY_CIDRS", err)
			break
		}
		cfg.TrustedProxies = append(cfg.TrustedProxies, prefix)
	}

	tz := strings.TrimSpace(v.GetString("STORE_TIMEZONE"))
	loc, err := time.LoadLocation(tz)
	if err != nil {
		p.fail("STORE_TIMEZONE", err)
	}
	cfg.StoreLocation = loc

	if raw := strings.TrimSpace(v.GetString("FIELD_ENCRYPTION_KEY")); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			p.fail("FIELD_ENCRYPTION_KEY", err)
		}
		cfg.FieldEncryptionKey = key
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecrets fails closed in hardened mode and otherwise substitutes
// random per-process values.
func (c *Config) resolveSecrets() error {
	var missing []string
	fill := func(key string, dst *string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if c.SecurityHardened {
			missing = append(missing, key)
			return
		}
		*dst = base64.RawURLEncoding.EncodeToString(randomBytes(32))
		c.EphemeralSecrets = append(c.EphemeralSecrets, key)
	}
	fill("JWT_ACCESS_SECRET", &c.JWTAccessSecret)
	fill("JWT_REFRESH_SECRET", &c.JWTRefreshSecret)
	fill("HMAC_SECRET", &c.HMACSecret)
	if len(c.FieldEncryptionKey) == 0 {
		if c.SecurityHardened {
			missing = append(missing, "FIELD_ENCRYPTION_KEY")
		} else {
			c.FieldEncryptionKey = randomBytes(32)
			c.EphemeralSecrets = append(c.EphemeralSecrets, "FIELD_ENCRYPTION_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("validate config: hardened mode requires %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.HTTPAddr == "" {
		errs = append(errs, "HTTP_ADDR is required")
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if len(c.FieldEncryptionKey) != 32 {
		errs = append(errs, "FIELD_ENCRYPTION_KEY must decode to 32 bytes")
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		errs = append(errs, "JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}
	if c.JWTAccessTTL >= c.JWTRefreshTTL {
		errs = append(errs, "JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, "BCRYPT_COST must be between 4 and 31")
	}
	if c.SecurityHardened && c.BcryptCost < 12 {
		errs = append(errs, "BCRYPT_COST must be at least 12 in hardened mode")
	}
	if c.LockoutMaxAttempts <= 0 {
		errs = append(errs, "LOCKOUT_MAX_ATTEMPTS must be positive")
	}
	if c.LockoutWindow <= 0 || c.LockoutDuration <= 0 {
		errs = append(errs, "LOCKOUT_WINDOW and LOCKOUT_DURATION must be positive")
	}
	if c.RevocationCapacity < 2 {
		errs = append(errs, "REVOCATION_CAPACITY must be at least 2")
	}
	if c.CheckoutCommitTimeout <= 0 {
		errs = append(errs, "CHECKOUT_COMMIT_TIMEOUT must be positive")
	}
	if c.TaxBaseRateBPS < 0 || c.TaxRestrictedSurtaxBPS < 0 {
		errs = append(errs, "tax rates must not be negative")
	}
	if c.AuthRateLimitPerMin <= 0 || c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "rate limits must be positive")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be within [0,1]")
	}
	if len(errs) > 0 {
		return errors.New("validate config: " + strings.Join(errs, "; "))
	}
	return nil
}

// parsePrefix accepts a CIDR or a bare address.
func parsePrefix(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		return prefix.Masked(), err
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
}

func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.SecurityEventsTopic != ""
}

type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("parse %s: %w", key, err)
	}
}

func (p *parser) int(key string) int {
	raw := strings.TrimSpace(p.v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func (p *parser) float(key string) float64 {
	raw := strings.TrimSpace(p.v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
	}
	return f
}

func (p *parser) duration(key string) time.Duration {
	raw := strings.TrimSpace(p.v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
	}
	return d
}

func (p *parser) bool(key string, fallback bool) bool {
	raw := strings.TrimSpace(p.v.GetString(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
	}
	return b
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("config: read random bytes: %v", err))
	}
	return b
}
