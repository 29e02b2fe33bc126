package connector

import (
	"context"
	"time"

	"github.com/teemow/mailtriage/internal/instrumentation"
)

// Instrumented decorates a Connector and records one provider-operation
// metric around every call that reaches the provider. Disconnect is passed
// through unrecorded; it carries no context and runs on cleanup paths.
type Instrumented struct {
	inner    Connector
	provider string
	metrics  *instrumentation.Metrics
}

// NewInstrumented wraps inner with metric recording under the given provider
// label. A nil metrics recorder disables recording.
func NewInstrumented(inner Connector, provider string, metrics *instrumentation.Metrics) *Instrumented {
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	return &Instrumented{inner: inner, provider: provider, metrics: metrics}
}

func (c *Instrumented) record(ctx context.Context, operation string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordProviderOperation(ctx, c.provider, operation, status, time.Since(start))
}

func (c *Instrumented) Connect(ctx context.Context) error {
	start := time.Now()
	err := c.inner.Connect(ctx)
	c.record(ctx, "connect", start, err)
	return err
}

func (c *Instrumented) Disconnect() error {
	return c.inner.Disconnect()
}

func (c *Instrumented) GetMailboxStats(ctx context.Context) (*MailboxStats, error) {
	start := time.Now()
	stats, err := c.inner.GetMailboxStats(ctx)
	c.record(ctx, "stats", start, err)
	return stats, err
}

func (c *Instrumented) PreviewEmails(ctx context.Context, count int, oldestFirst bool) ([]MailMessage, error) {
	start := time.Now()
	msgs, err := c.inner.PreviewEmails(ctx, count, oldestFirst)
	c.record(ctx, "preview", start, err)
	return msgs, err
}

func (c *Instrumented) SearchEmails(ctx context.Context, q SearchQuery) ([]MailMessage, error) {
	start := time.Now()
	msgs, err := c.inner.SearchEmails(ctx, q)
	c.record(ctx, "search", start, err)
	return msgs, err
}

func (c *Instrumented) DeleteEmails(ctx context.Context, folder string, ids []string, permanent bool) (*DeleteResult, error) {
	start := time.Now()
	result, err := c.inner.DeleteEmails(ctx, folder, ids, permanent)
	c.record(ctx, "delete", start, err)
	return result, err
}

func (c *Instrumented) SendMessage(ctx context.Context, msg OutgoingMessage) error {
	start := time.Now()
	err := c.inner.SendMessage(ctx, msg)
	c.record(ctx, "send", start, err)
	return err
}

func (c *Instrumented) MoveToFolder(ctx context.Context, folder string, ids []string, dest string) (*MoveResult, error) {
	start := time.Now()
	result, err := c.inner.MoveToFolder(ctx, folder, ids, dest)
	c.record(ctx, "move", start, err)
	return result, err
}

func (c *Instrumented) ListFolders(ctx context.Context) ([]string, error) {
	start := time.Now()
	folders, err := c.inner.ListFolders(ctx)
	c.record(ctx, "list_folders", start, err)
	return folders, err
}

func (c *Instrumented) EnsureFolder(ctx context.Context, name string) (bool, error) {
	start := time.Now()
	created, err := c.inner.EnsureFolder(ctx, name)
	c.record(ctx, "ensure_folder", start, err)
	return created, err
}
