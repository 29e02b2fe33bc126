// Package triage orchestrates the classification, categorization, and
// cleanup pipelines across all configured accounts. Every operation that can
// mutate a mailbox accepts a dry-run or delete flag; with mutation disabled,
// zero mutating provider calls are issued.
package triage

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/mailtriage/internal/accounts"
	"github.com/teemow/mailtriage/internal/classify"
	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/instrumentation"
	"github.com/teemow/mailtriage/internal/intel"
	"github.com/teemow/mailtriage/internal/llm"
	"github.com/teemow/mailtriage/internal/logging"
)

// Categories are the folders mail is sorted into. "Inbox" means leave in
// place, "Archive" is provider-built-in.
var Categories = []string{
	"Priority",
	"Personal",
	"Work",
	"School",
	"Private",
	"Finance",
	"Shopping",
	"Calendar & Events",
	"Social Media",
	"Newsletters",
	"Photos & Media",
	"Productivity",
	"Family",
	"Health & Medical",
	"Receipts & Confirmations",
	"Spam",
	"Archive",
	"Inbox",
}

// Deps carries the collaborators a Triager needs. Metrics and Logger may be
// nil.
type Deps struct {
	Accounts  *accounts.Manager
	Detector  *classify.SpamDetector
	Completer llm.Completer
	Learner   *intel.CategoryLearner
	Context   *intel.ContextEngine
	Tone      *intel.ToneLearner
	Metrics   *instrumentation.Metrics
	Logger    *slog.Logger
}

// Triager runs the multi-account triage pipelines. All operations request
// fresh, uncached connectors so concurrent callers never share session state.
type Triager struct {
	accounts  *accounts.Manager
	detector  *classify.SpamDetector
	completer llm.Completer
	learner   *intel.CategoryLearner
	context   *intel.ContextEngine
	tone      *intel.ToneLearner
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Triager from its collaborators.
func New(deps Deps) *Triager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	return &Triager{
		accounts:  deps.Accounts,
		detector:  deps.Detector,
		completer: deps.Completer,
		learner:   deps.Learner,
		context:   deps.Context,
		tone:      deps.Tone,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// connect hands out a fresh connected connector plus the account's provider
// name.
func (t *Triager) connect(ctx context.Context, accountID string) (connector.Connector, string, error) {
	meta, err := t.accounts.GetAccountMetadata(accountID)
	if err != nil {
		return nil, "", err
	}
	conn, err := t.accounts.GetConnector(ctx, accountID, false)
	if err != nil {
		return nil, meta.Provider, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, meta.Provider, err
	}
	return conn, meta.Provider, nil
}

func status(err error) string {
	if err != nil {
		return instrumentation.StatusError
	}
	return instrumentation.StatusSuccess
}

// finish records the duration metric and the completion log for one exported
// operation. An empty accountID means the run spanned all accounts.
func (t *Triager) finish(ctx context.Context, op, accountID string, start time.Time, err error) {
	st := status(err)
	if accountID != "" {
		t.metrics.RecordTriageRunWithAccount(ctx, op, st, accountID, t.now().Sub(start))
	} else {
		t.metrics.RecordTriageRun(ctx, op, st, t.now().Sub(start))
	}
	t.logger.Debug("triage run finished",
		logging.Operation(op),
		logging.Status(st),
		logging.Err(err))
}
