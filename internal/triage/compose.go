package triage

import (
	"context"
	"fmt"

	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/logging"
)

// SendEmail sends a message through the account's connector and feeds the
// sent text back into the tone learner.
func (t *Triager) SendEmail(ctx context.Context, accountID string, msg connector.OutgoingMessage) error {
	start := t.now()
	err := t.sendEmail(ctx, accountID, msg)
	t.finish(ctx, "send", accountID, start, err)
	return err
}

func (t *Triager) sendEmail(ctx context.Context, accountID string, msg connector.OutgoingMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("send requires at least one recipient")
	}

	conn, provider, err := t.connect(ctx, accountID)
	if err != nil {
		return fmt.Errorf("send failed for account %s: %w", accountID, err)
	}
	defer func() { _ = conn.Disconnect() }()

	if err := conn.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("send failed for account %s: %w", accountID, err)
	}

	if t.tone != nil {
		t.tone.LearnFromSentEmail(msg.To[0], msg.Subject, msg.Body)
	}
	t.logger.Info("message sent",
		logging.Account(accountID),
		logging.Provider(provider),
		logging.Operation("send"))
	return nil
}

// DraftEmail asks the model for body content and wraps it in the greeting and
// closing learned for the recipient.
func (t *Triager) DraftEmail(ctx context.Context, to, subject, about string) (string, error) {
	prompt := fmt.Sprintf(`Draft an email with these details:

To: %s
Subject: %s
Context: %s

Write only the body content, without greeting or closing lines.`, to, subject, about)

	body, err := t.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("draft failed: %w", err)
	}

	if t.tone != nil {
		return t.tone.DraftWithTone(to, body), nil
	}
	return body, nil
}
