package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	configMetricsOnce sync.Once
	configCounter     metric.Int64Counter
)

// loadOutcome summarizes one Load call for the config.validation.events
// counter.
type loadOutcome struct {
	Profile          string
	Hardened         bool
	EphemeralSecrets int
	Err              error
}

func (o loadOutcome) attributes() []attribute.KeyValue {
	result := "success"
	if o.Err != nil {
		result = "error"
	}
	return []attribute.KeyValue{
		attribute.String("profile", normalizeConfigProfile(o.Profile)),
		attribute.String("outcome", result),
		attribute.String("error_class", classifyConfigLoadError(o.Err)),
		attribute.Bool("hardened", o.Hardened),
		attribute.Bool("ephemeral_secrets", o.EphemeralSecrets > 0),
	}
}

func recordConfigValidationEvent(ctx context.Context, o loadOutcome) {
	configMetricsOnce.Do(func() {
		counter, err := otel.Meter("pos-trust-core").Int64Counter("config.validation.events")
		if err == nil {
			configCounter = counter
		}
	})
	if configCounter == nil {
		return
	}
	configCounter.Add(ctx, 1, metric.WithAttributes(o.attributes()...))
}

func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "hardened mode requires"):
		return "missing_secret"
	case strings.Contains(msg, "validate config:"):
		return "validation"
	case strings.Contains(msg, "parse "):
		return "parse"
	default:
		return "load"
	}
}
