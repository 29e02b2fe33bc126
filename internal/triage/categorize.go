package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/teemow/mailtriage/internal/classify"
	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/instrumentation"
	"github.com/teemow/mailtriage/internal/logging"
)

const categorizeBatch = 100

// AccountCategorization is the per-account slice of a categorization run.
type AccountCategorization struct {
	Email       string         `json:"email"`
	Categorized int            `json:"categorized"`
	ByCategory  map[string]int `json:"by_category"`
	Moved       int            `json:"moved"`
	Failed      int            `json:"failed"`
	Error       string         `json:"error,omitempty"`
}

// CategorizeReport tallies a categorization sweep across all accounts.
type CategorizeReport struct {
	TotalCategorized int                              `json:"total_categorized"`
	ByCategory       map[string]int                   `json:"by_category"`
	ByAccount        map[string]AccountCategorization `json:"by_account"`
	DryRun           bool                             `json:"dry_run"`
}

// CategorizeAccounts sorts the inbox of every configured account into the
// category folders. Accounts are processed sequentially; one account's
// failure never aborts the sweep. With dryRun true messages are classified
// and counted but never moved.
func (t *Triager) CategorizeAccounts(ctx context.Context, dryRun bool) (*CategorizeReport, error) {
	start := t.now()
	report, err := t.categorizeAccounts(ctx, dryRun)
	t.finish(ctx, "categorize", "", start, err)
	return report, err
}

func (t *Triager) categorizeAccounts(ctx context.Context, dryRun bool) (*CategorizeReport, error) {
	all, err := t.accounts.ListAccounts()
	if err != nil {
		return nil, err
	}

	report := &CategorizeReport{
		ByCategory: make(map[string]int, len(Categories)),
		ByAccount:  make(map[string]AccountCategorization, len(all)),
		DryRun:     dryRun,
	}
	for _, category := range Categories {
		report.ByCategory[category] = 0
	}

	for accountID, meta := range all {
		result := t.categorizeAccount(ctx, accountID, dryRun)
		result.Email = meta.Email
		for category, count := range result.ByCategory {
			report.ByCategory[category] += count
		}
		report.TotalCategorized += result.Categorized
		report.ByAccount[accountID] = result
	}
	return report, nil
}

func (t *Triager) categorizeAccount(ctx context.Context, accountID string, dryRun bool) AccountCategorization {
	logger := logging.WithAccount(logging.WithOperation(t.logger, "categorize"), accountID)
	result := AccountCategorization{ByCategory: make(map[string]int)}

	conn, _, err := t.connect(ctx, accountID)
	if err != nil {
		result.Error = err.Error()
		logger.Error("categorization skipped account", logging.Err(err))
		return result
	}
	defer func() { _ = conn.Disconnect() }()

	msgs, err := conn.PreviewEmails(ctx, categorizeBatch, true)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	// Group ids per target folder so each folder is committed in one batch
	moves := make(map[string][]string)
	for _, msg := range msgs {
		category := t.categorizeMessage(ctx, msg)
		result.ByCategory[category]++
		result.Categorized++
		if category != "Inbox" {
			moves[category] = append(moves[category], msg.ID)
		}
	}
	t.metrics.AddMessagesProcessed(ctx, instrumentation.ActionClassified, int64(len(msgs)))

	if dryRun {
		return result
	}

	for category, ids := range moves {
		moved, err := conn.MoveToFolder(ctx, "", ids, category)
		if err != nil {
			result.Failed += len(ids)
			logger.Warn("failed to move messages",
				logging.Folder(category),
				logging.Err(err))
			continue
		}
		result.Moved += len(moved.Moved)
		result.Failed += len(moved.Errors)
	}
	t.metrics.AddMessagesProcessed(ctx, instrumentation.ActionMoved, int64(result.Moved))
	return result
}

// categorizeMessage resolves one message's category: spam verdict first, then
// learned rules, then content heuristics, then the model with the fixed
// category list. Anything unresolvable stays in Inbox.
func (t *Triager) categorizeMessage(ctx context.Context, msg connector.MailMessage) string {
	verdict := t.detector.Categorize(ctx, msg)
	if verdict.Category == classify.CategorySpam {
		return "Spam"
	}

	if suggestion := t.learner.SuggestCategory(msg); suggestion != nil {
		return suggestion.Category
	}

	subject := strings.ToLower(msg.Subject)
	if strings.Contains(subject, "invite") || strings.Contains(msg.Preview, ".ics") {
		return "Calendar & Events"
	}

	response, err := t.completer.Complete(ctx, categoryPrompt(msg))
	if err != nil {
		t.logger.Error("model categorization failed", logging.Err(err))
		return "Inbox"
	}

	category := strings.TrimSpace(response)
	for _, known := range Categories {
		if category == known {
			t.learner.LearnFromCategorization(msg, category)
			return category
		}
	}
	return "Inbox"
}

func categoryPrompt(msg connector.MailMessage) string {
	preview := msg.Preview
	if len(preview) > 200 {
		preview = preview[:200]
	}
	return fmt.Sprintf(`Categorize this email into ONE of these categories:
%s

Email details:
From: %s
Subject: %s
Preview: %s

Respond with ONLY the category name, nothing else.`,
		strings.Join(Categories, ", "), msg.From, msg.Subject, preview)
}

// FolderReport is the outcome of ensuring the category folders exist on one
// account.
type FolderReport struct {
	AccountID string   `json:"account_id"`
	Provider  string   `json:"provider"`
	Created   []string `json:"folders_created"`
	Existing  []string `json:"folders_existing"`
}

// EnsureFolders creates the category folders that do not exist yet on the
// account. The existence check is case-insensitive, so repeated runs never
// produce duplicate folders. Archive is skipped; providers ship it built in.
func (t *Triager) EnsureFolders(ctx context.Context, accountID string) (*FolderReport, error) {
	start := t.now()
	report, err := t.ensureFolders(ctx, accountID)
	t.finish(ctx, "ensure_folders", accountID, start, err)
	return report, err
}

func (t *Triager) ensureFolders(ctx context.Context, accountID string) (*FolderReport, error) {
	conn, provider, err := t.connect(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("folder setup failed for account %s: %w", accountID, err)
	}
	defer func() { _ = conn.Disconnect() }()

	report := &FolderReport{AccountID: accountID, Provider: provider}
	for _, category := range Categories {
		if category == "Archive" {
			continue
		}
		created, err := conn.EnsureFolder(ctx, category)
		if err != nil {
			t.logger.Warn("could not create folder",
				logging.Account(accountID),
				logging.Folder(category),
				logging.Err(err))
			continue
		}
		if created {
			report.Created = append(report.Created, category)
		} else {
			report.Existing = append(report.Existing, category)
		}
	}
	return report, nil
}
