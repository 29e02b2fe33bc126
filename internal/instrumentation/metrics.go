package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	attrProvider  = "provider"
	attrOperation = "operation"
	attrStatus    = "status"
	attrResult    = "result"
	attrAction    = "action"
	attrAccount   = "account"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// Mail provider metrics
	providerOperationsTotal   metric.Int64Counter
	providerOperationDuration metric.Float64Histogram

	// OAuth metrics
	oauthAuthTotal         metric.Int64Counter
	oauthTokenRefreshTotal metric.Int64Counter

	// Triage metrics
	triageRunsTotal     metric.Int64Counter
	triageRunDuration   metric.Float64Histogram
	triageMessagesTotal metric.Int64Counter

	// Configuration
	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are
// included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// Mail provider metrics
	m.providerOperationsTotal, err = meter.Int64Counter(
		"mail_provider_operations_total",
		metric.WithDescription("Total number of mail provider operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail_provider_operations_total counter: %w", err)
	}

	m.providerOperationDuration, err = meter.Float64Histogram(
		"mail_provider_operation_duration_seconds",
		metric.WithDescription("Mail provider operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail_provider_operation_duration_seconds histogram: %w", err)
	}

	// OAuth Metrics
	m.oauthAuthTotal, err = meter.Int64Counter(
		"oauth_auth_total",
		metric.WithDescription("Total number of OAuth authorization attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	// Triage Metrics
	m.triageRunsTotal, err = meter.Int64Counter(
		"triage_runs_total",
		metric.WithDescription("Total number of triage operation runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create triage_runs_total counter: %w", err)
	}

	m.triageRunDuration, err = meter.Float64Histogram(
		"triage_run_duration_seconds",
		metric.WithDescription("Triage operation run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create triage_run_duration_seconds histogram: %w", err)
	}

	m.triageMessagesTotal, err = meter.Int64Counter(
		"triage_messages_total",
		metric.WithDescription("Total number of messages processed by triage, by action"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create triage_messages_total counter: %w", err)
	}

	return m, nil
}

// RecordProviderOperation records a mail provider operation with provider,
// operation, status, and duration.
//
// Parameters:
//   - provider: provider name (gmail, outlook, yahoo, comcast, generic)
//   - operation: operation type (connect, stats, preview, search, delete,
//     send, move, list_folders, ensure_folder)
//   - status: result status ("success" or "error")
//   - duration: time taken for the operation
func (m *Metrics) RecordProviderOperation(ctx context.Context, provider, operation, status string, duration time.Duration) {
	if m.providerOperationsTotal == nil || m.providerOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrProvider, provider),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.providerOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.providerOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordOAuthAuth records an OAuth authorization attempt with result.
// Result should be one of: "success", "failure"
func (m *Metrics) RecordOAuthAuth(ctx context.Context, result string) {
	if m.oauthAuthTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrResult, result),
	}

	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOAuthTokenRefresh records an OAuth token refresh attempt with result.
// Result should be one of: "success", "failure"
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m.oauthTokenRefreshTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrResult, result),
	}

	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTriageRun records one triage operation run with operation name,
// status, and duration.
//
// Parameters:
//   - operation: triage operation (detect_spam, bulk_delete, categorize, ensure_folders, check)
//   - status: result status ("success" or "error")
//   - duration: time taken for the run
func (m *Metrics) RecordTriageRun(ctx context.Context, operation, status string, duration time.Duration) {
	if m.triageRunsTotal == nil || m.triageRunDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.triageRunsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.triageRunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// AddMessagesProcessed records messages processed by triage for one action.
// Action should be one of: "classified", "deleted", "moved"
func (m *Metrics) AddMessagesProcessed(ctx context.Context, action string, count int64) {
	if m.triageMessagesTotal == nil || count <= 0 {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrAction, action),
	}

	m.triageMessagesTotal.Add(ctx, count, metric.WithAttributes(attrs...))
}

// RecordTriageRunWithAccount records one triage operation run with account
// info. This is the detailed version that includes the account identifier
// when detailedLabels is enabled.
func (m *Metrics) RecordTriageRunWithAccount(ctx context.Context, operation, status, account string, duration time.Duration) {
	if m.triageRunsTotal == nil || m.triageRunDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && account != "" {
		attrs = append(attrs, attribute.String(attrAccount, account))
	}

	m.triageRunsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.triageRunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
