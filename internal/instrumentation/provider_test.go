package instrumentation

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewProvider_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := NewProvider(ctx, Config{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create disabled provider: %v", err)
	}

	if provider.Enabled() {
		t.Error("expected provider to report disabled")
	}
	if provider.Metrics() == nil {
		t.Error("expected a no-op metrics recorder, got nil")
	}
	if provider.PrometheusHandler() != nil {
		t.Error("expected nil handler when disabled")
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("shutdown of disabled provider failed: %v", err)
	}
}

func TestNewProvider_PrometheusEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider := newTestProvider(t, ctx)

	provider.Metrics().RecordTriageRun(ctx, "detect_spam", StatusSuccess, time.Second)

	handler := provider.PrometheusHandler()
	if handler == nil {
		t.Fatal("expected a prometheus handler")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("metrics endpoint returned %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected metrics output, got empty body")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ServiceName != "mailtriage" {
		t.Errorf("unexpected default service name %q", config.ServiceName)
	}
	if !config.Enabled {
		t.Error("expected instrumentation enabled by default")
	}
	if config.PrometheusEndpoint != "/metrics" {
		t.Errorf("unexpected default endpoint %q", config.PrometheusEndpoint)
	}
	if config.DetailedLabels {
		t.Error("expected detailed labels disabled by default")
	}
}
