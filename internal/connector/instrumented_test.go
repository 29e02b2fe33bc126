package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/teemow/mailtriage/internal/instrumentation"
)

// stubConnector returns canned results so delegation can be asserted.
type stubConnector struct {
	previewErr  error
	msgs        []MailMessage
	disconnects int
}

func (s *stubConnector) Connect(ctx context.Context) error { return nil }

func (s *stubConnector) Disconnect() error {
	s.disconnects++
	return nil
}

func (s *stubConnector) GetMailboxStats(ctx context.Context) (*MailboxStats, error) {
	return &MailboxStats{Total: 7, Unread: 2}, nil
}

func (s *stubConnector) PreviewEmails(ctx context.Context, count int, oldestFirst bool) ([]MailMessage, error) {
	if s.previewErr != nil {
		return nil, s.previewErr
	}
	return s.msgs, nil
}

func (s *stubConnector) SearchEmails(ctx context.Context, q SearchQuery) ([]MailMessage, error) {
	return s.msgs, nil
}

func (s *stubConnector) DeleteEmails(ctx context.Context, folder string, ids []string, permanent bool) (*DeleteResult, error) {
	return &DeleteResult{Deleted: ids}, nil
}

func (s *stubConnector) SendMessage(ctx context.Context, msg OutgoingMessage) error { return nil }

func (s *stubConnector) MoveToFolder(ctx context.Context, folder string, ids []string, dest string) (*MoveResult, error) {
	return &MoveResult{Moved: ids}, nil
}

func (s *stubConnector) ListFolders(ctx context.Context) ([]string, error) {
	return []string{"INBOX"}, nil
}

func (s *stubConnector) EnsureFolder(ctx context.Context, name string) (bool, error) {
	return true, nil
}

func TestInstrumentedDelegates(t *testing.T) {
	stub := &stubConnector{msgs: []MailMessage{{ID: "1"}, {ID: "2"}}}
	wrapped := NewInstrumented(stub, "yahoo", nil)
	ctx := context.Background()

	require.NoError(t, wrapped.Connect(ctx))

	stats, err := wrapped.GetMailboxStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &MailboxStats{Total: 7, Unread: 2}, stats)

	msgs, err := wrapped.PreviewEmails(ctx, 10, false)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	deleted, err := wrapped.DeleteEmails(ctx, "", []string{"1"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, deleted.Deleted)

	require.NoError(t, wrapped.Disconnect())
	assert.Equal(t, 1, stub.disconnects)
}

func TestInstrumentedPropagatesErrors(t *testing.T) {
	stub := &stubConnector{previewErr: errors.New("session expired")}
	wrapped := NewInstrumented(stub, "yahoo", nil)

	_, err := wrapped.PreviewEmails(context.Background(), 10, false)
	assert.ErrorContains(t, err, "session expired")
}

func TestInstrumentedRecordsProviderOperations(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := instrumentation.NewMetrics(provider.Meter("test"), false)
	require.NoError(t, err)

	stub := &stubConnector{previewErr: errors.New("session expired")}
	wrapped := NewInstrumented(stub, "yahoo", metrics)
	ctx := context.Background()

	require.NoError(t, wrapped.Connect(ctx))
	_, err = wrapped.PreviewEmails(ctx, 5, false)
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sum := findSum(t, rm, "mail_provider_operations_total")
	var total int64
	statuses := map[string]bool{}
	for _, dp := range sum.DataPoints {
		total += dp.Value
		if status, ok := dp.Attributes.Value(attribute.Key("status")); ok {
			statuses[status.AsString()] = true
		}
		provider, ok := dp.Attributes.Value(attribute.Key("provider"))
		require.True(t, ok)
		assert.Equal(t, "yahoo", provider.AsString())
	}
	assert.Equal(t, int64(2), total)
	assert.True(t, statuses["success"])
	assert.True(t, statuses["error"])
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Sum[int64] {
	t.Helper()
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				return sum
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Sum[int64]{}
}
