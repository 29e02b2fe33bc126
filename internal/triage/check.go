package triage

import (
	"context"
	"time"

	"github.com/teemow/mailtriage/internal/logging"
)

const checkBatch = 50

// NotifyItem is one message that crossed the notify-immediately threshold.
type NotifyItem struct {
	AccountID         string  `json:"account_id"`
	Email             string  `json:"email"`
	From              string  `json:"from"`
	Subject           string  `json:"subject"`
	Score             float64 `json:"priority_score"`
	RecommendedAction string  `json:"recommended_action"`
}

// AccountCheck is the per-account slice of a poll.
type AccountCheck struct {
	Email         string `json:"email"`
	NewMessages   int    `json:"new_messages"`
	PriorityCount int    `json:"priority_count"`
	Error         string `json:"error,omitempty"`
}

// CheckReport tallies one poll across all accounts.
type CheckReport struct {
	TotalNew  int                     `json:"total_new"`
	ByAccount map[string]AccountCheck `json:"by_account"`
	Notify    []NotifyItem            `json:"priority_messages"`
	Timestamp time.Time               `json:"timestamp"`
}

// CheckAllAccounts polls every account for recent mail, runs the context
// analysis over each message, and collects the ones that warrant immediate
// attention. Accounts are processed sequentially with per-account fault
// isolation.
func (t *Triager) CheckAllAccounts(ctx context.Context) (*CheckReport, error) {
	start := t.now()
	report, err := t.checkAllAccounts(ctx)
	t.finish(ctx, "check", "", start, err)
	return report, err
}

func (t *Triager) checkAllAccounts(ctx context.Context) (*CheckReport, error) {
	all, err := t.accounts.ListAccounts()
	if err != nil {
		return nil, err
	}

	report := &CheckReport{
		ByAccount: make(map[string]AccountCheck, len(all)),
		Timestamp: t.now(),
	}
	logger := logging.WithOperation(t.logger, "check")

	for accountID, meta := range all {
		check := AccountCheck{Email: meta.Email}

		conn, _, err := t.connect(ctx, accountID)
		if err != nil {
			check.Error = err.Error()
			report.ByAccount[accountID] = check
			logger.Error("poll skipped account",
				logging.Account(accountID), logging.Err(err))
			continue
		}

		msgs, err := conn.PreviewEmails(ctx, checkBatch, false)
		_ = conn.Disconnect()
		if err != nil {
			check.Error = err.Error()
			report.ByAccount[accountID] = check
			continue
		}

		check.NewMessages = len(msgs)
		report.TotalNew += len(msgs)

		for _, msg := range msgs {
			analysis := t.context.Analyze(msg, accountID)
			if !analysis.Priority.NotifyImmediately {
				continue
			}
			check.PriorityCount++
			report.Notify = append(report.Notify, NotifyItem{
				AccountID:         accountID,
				Email:             meta.Email,
				From:              msg.From,
				Subject:           msg.Subject,
				Score:             analysis.Priority.Score,
				RecommendedAction: analysis.RecommendedAction,
			})
		}
		report.ByAccount[accountID] = check
	}
	return report, nil
}
