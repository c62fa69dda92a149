package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", raw, got, want)
		}
	}
}

func TestFanoutHandlerWritesToEveryEnabledHandler(t *testing.T) {
	var infoBuf, errBuf bytes.Buffer
	info := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	errOnly := slog.NewJSONHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(fanoutHandler{info, errOnly}).With("component", "test")

	logger.Info("hello")
	if !strings.Contains(infoBuf.String(), `"component":"test"`) {
		t.Fatalf("expected attrs on info handler, got %s", infoBuf.String())
	}
	if errBuf.Len() != 0 {
		t.Fatalf("expected error-level handler to skip info, got %s", errBuf.String())
	}
	logger.Error("boom")
	if !strings.Contains(errBuf.String(), "boom") {
		t.Fatalf("expected error record, got %s", errBuf.String())
	}
}

func TestAuditContextWritesAuditRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "info")
	AuditContext(context.Background(), logger, slog.LevelWarn, "account_locked", "actor_id", "u1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if rec["msg"] != "audit" || rec["event"] != "account_locked" || rec["level"] != "WARN" {
		t.Fatalf("unexpected audit record: %v", rec)
	}
}

func TestRecordersAreNoopsUntilInitialized(t *testing.T) {
	metricsMu.Lock()
	prev := appMetrics
	appMetrics = nil
	metricsMu.Unlock()
	t.Cleanup(func() {
		metricsMu.Lock()
		appMetrics = prev
		metricsMu.Unlock()
	})

	RecordAuthLogin("success")
	RecordCheckout(context.Background(), "committed", 0.1)
	RecordRepositoryOperation(context.Background(), "product", "find", "success")
}

func TestRecordSecurityEventExportsCounter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metricsMu.RLock()
	prev := appMetrics
	metricsMu.RUnlock()
	if err := UseMeter(mp.Meter(meterName)); err != nil {
		t.Fatalf("use meter: %v", err)
	}
	t.Cleanup(func() {
		metricsMu.Lock()
		appMetrics = prev
		metricsMu.Unlock()
	})

	RecordSecurityEvent(context.Background(), "login_failed", "warning")
	RecordSecurityEvent(context.Background(), "login_failed", "warning")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "security.events" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
				t.Fatalf("unexpected security.events data: %#v", m.Data)
			}
			return
		}
	}
	t.Fatal("security.events metric not exported")
}
