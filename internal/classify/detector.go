// Package classify categorizes messages as spam, keep or unsure through a
// language-model completion endpoint. Parsing is defensive: classification
// never fails, it degrades to the non-destructive "unsure" verdict.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/llm"
	"github.com/teemow/mailtriage/internal/logging"
)

// Verdict categories.
const (
	CategorySpam   = "spam"
	CategoryKeep   = "keep"
	CategoryUnsure = "unsure"
)

const maxReasoningLen = 200

// Verdict is the classification of one message.
type Verdict struct {
	Message   connector.MailMessage `json:"message"`
	Category  string                `json:"category"`
	Reasoning string                `json:"reasoning"`
}

// BatchSummary aggregates a batch classification run.
type BatchSummary struct {
	Verdicts []Verdict `json:"verdicts"`
	Spam     int       `json:"spam"`
	Keep     int       `json:"keep"`
	Unsure   int       `json:"unsure"`
}

// SpamDetector drives the completion model.
type SpamDetector struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewSpamDetector creates a detector over the given completer.
func NewSpamDetector(completer llm.Completer, logger *slog.Logger) *SpamDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpamDetector{completer: completer, logger: logger}
}

// Categorize classifies one message. Model failures and malformed responses
// both yield the unsure verdict with a synthetic reasoning, never an error.
func (d *SpamDetector) Categorize(ctx context.Context, msg connector.MailMessage) Verdict {
	response, err := d.completer.Complete(ctx, buildPrompt(msg))
	if err != nil {
		d.logger.Error("categorization failed",
			slog.String("message_id", msg.ID), logging.Err(err))
		return Verdict{
			Message:   msg,
			Category:  CategoryUnsure,
			Reasoning: fmt.Sprintf("Error: %v", err),
		}
	}

	category, reasoning := parseResponse(response)
	return Verdict{Message: msg, Category: category, Reasoning: reasoning}
}

// BatchCategorize classifies messages sequentially with progress logging and
// returns the verdicts plus aggregate counts.
func (d *SpamDetector) BatchCategorize(ctx context.Context, msgs []connector.MailMessage) *BatchSummary {
	total := len(msgs)
	d.logger.Info("categorizing messages", logging.Count(total))

	summary := &BatchSummary{Verdicts: make([]Verdict, 0, total)}
	for i, msg := range msgs {
		verdict := d.Categorize(ctx, msg)
		summary.Verdicts = append(summary.Verdicts, verdict)

		switch verdict.Category {
		case CategorySpam:
			summary.Spam++
		case CategoryKeep:
			summary.Keep++
		default:
			summary.Unsure++
		}

		if (i+1)%10 == 0 || i+1 == total {
			d.logger.Info("categorization progress",
				slog.Int("done", i+1), slog.Int("total", total))
		}
	}

	d.logger.Info("categorization complete",
		slog.Int("spam", summary.Spam),
		slog.Int("keep", summary.Keep),
		slog.Int("unsure", summary.Unsure))
	return summary
}

func buildPrompt(msg connector.MailMessage) string {
	from := msg.From
	if from == "" {
		from = "Unknown"
	}
	subject := msg.Subject
	if subject == "" {
		subject = "No subject"
	}
	date := "Unknown"
	if !msg.Date.IsZero() {
		date = msg.Date.Format("2006-01-02 15:04")
	}

	return fmt.Sprintf(`You are an email categorization assistant. Analyze this email and categorize it as SPAM, KEEP, or UNSURE.

**Email Details:**
From: %s
Subject: %s
Date: %s
Size: %d KB

**Instructions:**
- SPAM: Promotional emails, newsletters, automated notifications, marketing, social media updates, etc.
- KEEP: Personal emails, important business correspondence, financial statements, receipts
- UNSURE: Can't determine with confidence

**Response format (use EXACTLY this format):**
CATEGORY: [SPAM|KEEP|UNSURE]
REASONING: [Brief explanation]

Respond now:`, from, subject, date, msg.Size/1024)
}

// parseResponse extracts the two-line verdict contract. Anything that does
// not carry a recognizable CATEGORY token maps to unsure.
func parseResponse(response string) (string, string) {
	category := CategoryUnsure
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		if !strings.HasPrefix(upper, "CATEGORY:") {
			continue
		}
		value := upper[len("CATEGORY:"):]
		switch {
		case strings.Contains(value, "SPAM"):
			category = CategorySpam
		case strings.Contains(value, "KEEP"):
			category = CategoryKeep
		case strings.Contains(value, "UNSURE"):
			category = CategoryUnsure
		}
		break
	}

	reasoning := ""
	if idx := strings.Index(strings.ToUpper(response), "REASONING:"); idx >= 0 {
		rest := response[idx+len("REASONING:"):]
		reasoning = strings.TrimSpace(strings.SplitN(rest, "\n", 2)[0])
		if len(reasoning) > maxReasoningLen {
			reasoning = reasoning[:maxReasoningLen]
		}
	}
	if reasoning == "" {
		reasoning = "No reasoning provided"
	}

	return category, reasoning
}
