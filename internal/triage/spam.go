package triage

import (
	"context"
	"fmt"

	"github.com/teemow/mailtriage/internal/classify"
	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/instrumentation"
	"github.com/teemow/mailtriage/internal/logging"
)

const (
	defaultSpamBatch  = 50
	maxSpamDetails    = 5
	detailReasoningAt = 100
)

// SpamDetail summarizes one detected spam message.
type SpamDetail struct {
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Reasoning string `json:"reasoning"`
}

// SpamReport is the outcome of one spam sweep over an account.
type SpamReport struct {
	AccountID string       `json:"account_id"`
	Checked   int          `json:"checked"`
	Spam      int          `json:"spam"`
	Keep      int          `json:"keep"`
	Unsure    int          `json:"unsure"`
	Trashed   int          `json:"trashed"`
	Failed    int          `json:"failed"`
	Details   []SpamDetail `json:"details,omitempty"`
}

// DetectSpam classifies up to maxMessages inbox messages and, when del is
// true, moves the detected spam to trash. With del false no mutating provider
// call is issued; only counts and details are returned.
func (t *Triager) DetectSpam(ctx context.Context, accountID string, maxMessages int, del bool) (*SpamReport, error) {
	start := t.now()
	report, err := t.detectSpam(ctx, accountID, maxMessages, del)
	t.finish(ctx, "detect_spam", accountID, start, err)
	return report, err
}

func (t *Triager) detectSpam(ctx context.Context, accountID string, maxMessages int, del bool) (*SpamReport, error) {
	if maxMessages <= 0 {
		maxMessages = defaultSpamBatch
	}

	conn, provider, err := t.connect(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("spam sweep failed for account %s: %w", accountID, err)
	}
	defer func() { _ = conn.Disconnect() }()

	msgs, err := conn.PreviewEmails(ctx, maxMessages, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages from account %s: %w", accountID, err)
	}

	summary := t.detector.BatchCategorize(ctx, msgs)
	t.metrics.AddMessagesProcessed(ctx, instrumentation.ActionClassified, int64(len(msgs)))

	report := &SpamReport{
		AccountID: accountID,
		Checked:   len(msgs),
		Spam:      summary.Spam,
		Keep:      summary.Keep,
		Unsure:    summary.Unsure,
	}

	var spamIDs []string
	for _, verdict := range summary.Verdicts {
		if verdict.Category != classify.CategorySpam {
			continue
		}
		spamIDs = append(spamIDs, verdict.Message.ID)
		if len(report.Details) < maxSpamDetails {
			reasoning := verdict.Reasoning
			if len(reasoning) > detailReasoningAt {
				reasoning = reasoning[:detailReasoningAt]
			}
			report.Details = append(report.Details, SpamDetail{
				From:      verdict.Message.From,
				Subject:   verdict.Message.Subject,
				Reasoning: reasoning,
			})
		}
	}

	if !del || len(spamIDs) == 0 {
		return report, nil
	}

	result, err := conn.DeleteEmails(ctx, "", spamIDs, false)
	if err != nil {
		return report, fmt.Errorf("failed to trash spam in account %s: %w", accountID, err)
	}
	report.Trashed = len(result.Deleted)
	report.Failed = len(result.Errors)
	t.metrics.AddMessagesProcessed(ctx, instrumentation.ActionDeleted, int64(report.Trashed))

	t.logger.Info("spam sweep finished",
		logging.Account(accountID),
		logging.Provider(provider),
		logging.Count(report.Spam),
		logging.Operation("detect_spam"))
	return report, nil
}

// DeleteCriteria narrows a bulk delete. Zero values mean "no restriction";
// empty folder means inbox.
type DeleteCriteria struct {
	OlderThanDays int
	Folder        string
	Sender        string
}

// BulkDeleteReport is the outcome of one bulk delete.
type BulkDeleteReport struct {
	AccountID   string `json:"account_id"`
	Matched     int    `json:"matched"`
	WouldDelete int    `json:"would_delete,omitempty"`
	Deleted     int    `json:"deleted"`
	Failed      int    `json:"failed"`
	DryRun      bool   `json:"dry_run"`
}

// BulkDelete trashes every message matching the criteria. With dryRun true
// only the match count is reported and no mutating provider call is issued.
func (t *Triager) BulkDelete(ctx context.Context, accountID string, criteria DeleteCriteria, dryRun bool) (*BulkDeleteReport, error) {
	start := t.now()
	report, err := t.bulkDelete(ctx, accountID, criteria, dryRun)
	t.finish(ctx, "bulk_delete", accountID, start, err)
	return report, err
}

func (t *Triager) bulkDelete(ctx context.Context, accountID string, criteria DeleteCriteria, dryRun bool) (*BulkDeleteReport, error) {
	conn, _, err := t.connect(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("bulk delete failed for account %s: %w", accountID, err)
	}
	defer func() { _ = conn.Disconnect() }()

	query := connector.SearchQuery{
		Folder: criteria.Folder,
		Sender: criteria.Sender,
	}
	if criteria.OlderThanDays > 0 {
		query.OlderThan = t.now().AddDate(0, 0, -criteria.OlderThanDays)
	}

	msgs, err := conn.SearchEmails(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search failed for account %s: %w", accountID, err)
	}

	report := &BulkDeleteReport{
		AccountID: accountID,
		Matched:   len(msgs),
		DryRun:    dryRun,
	}
	if dryRun {
		report.WouldDelete = len(msgs)
		return report, nil
	}
	if len(msgs) == 0 {
		return report, nil
	}

	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
	}

	result, err := conn.DeleteEmails(ctx, criteria.Folder, ids, false)
	if err != nil {
		return report, fmt.Errorf("bulk delete failed for account %s: %w", accountID, err)
	}
	report.Deleted = len(result.Deleted)
	report.Failed = len(result.Errors)
	t.metrics.AddMessagesProcessed(ctx, instrumentation.ActionDeleted, int64(report.Deleted))
	return report, nil
}
