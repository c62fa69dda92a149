package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/pos-trust-core/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "pos-trust-core"

type AppMetrics struct {
	authLoginCounter      metric.Int64Counter
	authRefreshCounter    metric.Int64Counter
	authLogoutCounter     metric.Int64Counter
	lockoutCounter        metric.Int64Counter
	tokenValidation       metric.Int64Counter
	checkoutCounter       metric.Int64Counter
	checkoutDuration      metric.Float64Histogram
	fraudScore            metric.Int64Histogram
	integrityChecks       metric.Int64Counter
	repositoryOps         metric.Int64Counter
	securityEvents        metric.Int64Counter
	securityEventFailures metric.Int64Counter
	rateLimitDecisions    metric.Int64Counter
	revocationEvictions   metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// UseMeter installs instruments from meter; used by tests with a manual reader.
func UseMeter(meter metric.Meter) error {
	m, err := newAppMetrics(meter)
	if err != nil {
		return err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
	return nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.authLoginCounter, "auth.login.attempts"},
		{&m.authRefreshCounter, "auth.refresh.attempts"},
		{&m.authLogoutCounter, "auth.logout.attempts"},
		{&m.lockoutCounter, "auth.lockouts"},
		{&m.tokenValidation, "auth.token.validations"},
		{&m.checkoutCounter, "ledger.checkout.outcomes"},
		{&m.integrityChecks, "ledger.integrity.checks"},
		{&m.repositoryOps, "repository.operations"},
		{&m.securityEvents, "security.events"},
		{&m.securityEventFailures, "security.event.sink.failures"},
		{&m.rateLimitDecisions, "http.rate_limit.decisions"},
		{&m.revocationEvictions, "auth.revocation.evictions"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name); err != nil {
			return nil, err
		}
	}
	if m.checkoutDuration, err = meter.Float64Histogram("ledger.checkout.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.fraudScore, err = meter.Int64Histogram("fraud.risk.score",
		metric.WithExplicitBucketBoundaries(0, 20, 30, 40, 50, 60, 70, 80, 90, 100)); err != nil {
		return nil, err
	}
	return &m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthRefresh(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordLockout() {
	m := current()
	if m == nil {
		return
	}
	m.lockoutCounter.Add(context.Background(), 1)
}

func RecordTokenValidation(tokenType, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenValidation.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("token_type", tokenType),
		attribute.String("outcome", outcome),
	))
}

func RecordCheckout(ctx context.Context, outcome string, seconds float64) {
	m := current()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.checkoutCounter.Add(ctx, 1, attrs)
	m.checkoutDuration.Record(ctx, seconds, attrs)
}

func RecordFraudScore(ctx context.Context, score int, blocked bool) {
	m := current()
	if m == nil {
		return
	}
	m.fraudScore.Record(ctx, int64(score), metric.WithAttributes(attribute.Bool("blocked", blocked)))
}

func RecordIntegrityCheck(ctx context.Context, valid bool) {
	m := current()
	if m == nil {
		return
	}
	m.integrityChecks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordSecurityEvent(ctx context.Context, eventType, severity string) {
	m := current()
	if m == nil {
		return
	}
	m.securityEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("severity", severity),
	))
}

func RecordSecurityEventSinkFailure(ctx context.Context, sink string) {
	m := current()
	if m == nil {
		return
	}
	m.securityEventFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	))
}

func RecordRevocationEviction(ctx context.Context, evicted int64) {
	m := current()
	if m == nil {
		return
	}
	m.revocationEvictions.Add(ctx, evicted)
}
