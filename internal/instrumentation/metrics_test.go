package instrumentation

import (
	"context"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, ctx context.Context) *Provider {
	t.Helper()

	provider, err := NewProvider(ctx, Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })
	return provider
}

func TestMetrics_RecordProviderOperation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	metrics.RecordProviderOperation(ctx, "gmail", "preview", StatusSuccess, 200*time.Millisecond)
	metrics.RecordProviderOperation(ctx, "yahoo", "delete", StatusError, 500*time.Millisecond)
}

func TestMetrics_RecordOAuth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()

	// Should not panic
	metrics.RecordOAuthAuth(ctx, OAuthResultSuccess)
	metrics.RecordOAuthAuth(ctx, OAuthResultFailure)
	metrics.RecordOAuthTokenRefresh(ctx, OAuthResultSuccess)
	metrics.RecordOAuthTokenRefresh(ctx, OAuthResultFailure)
}

func TestMetrics_RecordTriage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()

	// Should not panic
	metrics.RecordTriageRun(ctx, "detect_spam", StatusSuccess, time.Second)
	metrics.RecordTriageRunWithAccount(ctx, "bulk_delete", StatusError, "acct-1", time.Second)
	metrics.AddMessagesProcessed(ctx, ActionClassified, 12)
	metrics.AddMessagesProcessed(ctx, ActionDeleted, 3)
	metrics.AddMessagesProcessed(ctx, ActionMoved, 0)
}

func TestMetrics_NoOpWhenUninitialized(t *testing.T) {
	ctx := context.Background()
	metrics := &Metrics{}

	// All recorders must tolerate an uninitialized instance
	metrics.RecordProviderOperation(ctx, "gmail", "preview", StatusSuccess, time.Second)
	metrics.RecordOAuthAuth(ctx, OAuthResultSuccess)
	metrics.RecordOAuthTokenRefresh(ctx, OAuthResultFailure)
	metrics.RecordTriageRun(ctx, "check", StatusSuccess, time.Second)
	metrics.AddMessagesProcessed(ctx, ActionClassified, 5)
}
