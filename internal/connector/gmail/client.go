// Package gmail implements the mailbox contract on the Gmail REST API.
// Access tokens come from a vault token source; an unauthorized response
// triggers one forced refresh and one retry before the call fails.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/logging"
	"github.com/teemow/mailtriage/internal/vault"
)

const inboxLabel = "INBOX"

// Connector adapts a Gmail account to the mailbox contract. Labels stand in
// for folders. Not safe for concurrent use.
type Connector struct {
	accountID string
	tokens    *vault.TokenSource
	logger    *slog.Logger
	opts      []option.ClientOption

	svc   *gmail.Service
	email string
}

var _ connector.Connector = (*Connector)(nil)

// New creates a disconnected Gmail connector. Extra client options are for
// tests pointing the service at a local endpoint.
func New(accountID string, tokens *vault.TokenSource, logger *slog.Logger, opts ...option.ClientOption) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		accountID: accountID,
		tokens:    tokens,
		logger:    logging.WithAccount(logging.WithProvider(logger, "gmail"), accountID),
		opts:      opts,
	}
}

// Connect builds the Gmail service and verifies it by fetching the profile.
func (c *Connector) Connect(ctx context.Context) error {
	if c.svc != nil {
		return nil
	}

	opts := append([]option.ClientOption{option.WithTokenSource(c.tokens)}, c.opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Gmail service: %w", err)
	}
	c.svc = svc

	err = c.withAuthRetry(func() error {
		profile, err := c.svc.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		c.email = profile.EmailAddress
		return nil
	})
	if err != nil {
		c.svc = nil
		return fmt.Errorf("failed to verify Gmail session: %w", err)
	}

	c.logger.Debug("gmail session established", logging.UserHash(c.email))
	return nil
}

// Disconnect drops the service handle. REST sessions hold no server state.
func (c *Connector) Disconnect() error {
	c.svc = nil
	return nil
}

// withAuthRetry runs fn, and on an unauthorized response forces one token
// refresh and retries exactly once.
func (c *Connector) withAuthRetry(fn func() error) error {
	err := fn()
	if !isUnauthorized(err) {
		return err
	}
	if rerr := c.tokens.ForceRefresh(); rerr != nil {
		return rerr
	}
	return fn()
}

func isUnauthorized(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

// GetMailboxStats reads the INBOX label counters.
func (c *Connector) GetMailboxStats(ctx context.Context) (*connector.MailboxStats, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	var label *gmail.Label
	err := c.withAuthRetry(func() error {
		var err error
		label, err = c.svc.Users.Labels.Get("me", inboxLabel).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox counters: %w", err)
	}

	return &connector.MailboxStats{
		Total:  int(label.MessagesTotal),
		Unread: int(label.MessagesUnread),
	}, nil
}

// PreviewEmails fetches up to count inbox messages with metadata detail.
func (c *Connector) PreviewEmails(ctx context.Context, count int, oldestFirst bool) ([]connector.MailMessage, error) {
	return c.fetch(ctx, connector.SearchQuery{Limit: count}, oldestFirst)
}

// SearchEmails returns messages matching the query.
func (c *Connector) SearchEmails(ctx context.Context, q connector.SearchQuery) ([]connector.MailMessage, error) {
	return c.fetch(ctx, q, false)
}

func (c *Connector) fetch(ctx context.Context, q connector.SearchQuery, oldestFirst bool) ([]connector.MailMessage, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	labelID := inboxLabel
	if q.Folder != "" {
		id, err := c.findLabel(ctx, q.Folder)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, nil
		}
		labelID = id
	}

	var query []string
	if q.Sender != "" {
		query = append(query, "from:"+q.Sender)
	}
	if !q.OlderThan.IsZero() {
		query = append(query, "before:"+q.OlderThan.Format("2006/01/02"))
	}
	if q.UnreadOnly {
		query = append(query, "is:unread")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var list *gmail.ListMessagesResponse
	err := c.withAuthRetry(func() error {
		req := c.svc.Users.Messages.List("me").
			LabelIds(labelID).
			MaxResults(int64(limit)).
			Context(ctx)
		if len(query) > 0 {
			req = req.Q(strings.Join(query, " "))
		}
		var err error
		list, err = req.Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var messages []connector.MailMessage
	for _, ref := range list.Messages {
		var msg *gmail.Message
		err := c.withAuthRetry(func() error {
			var err error
			msg, err = c.svc.Users.Messages.Get("me", ref.Id).
				Format("metadata").
				MetadataHeaders("From", "Subject").
				Context(ctx).Do()
			return err
		})
		if err != nil {
			c.logger.Warn("skipping unreadable message",
				slog.String("message_id", ref.Id),
				logging.Err(err))
			continue
		}
		messages = append(messages, mailMessageFrom(msg, q.Folder))
	}

	sort.Slice(messages, func(i, j int) bool {
		if oldestFirst {
			return messages[i].Date.Before(messages[j].Date)
		}
		return messages[j].Date.Before(messages[i].Date)
	})
	return messages, nil
}

// DeleteEmails trashes messages, or deletes them permanently when asked.
// Gmail message ids are mailbox-global, so folder is ignored.
func (c *Connector) DeleteEmails(ctx context.Context, folder string, ids []string, permanent bool) (*connector.DeleteResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	result := &connector.DeleteResult{}
	for _, id := range ids {
		err := c.withAuthRetry(func() error {
			if permanent {
				return c.svc.Users.Messages.Delete("me", id).Context(ctx).Do()
			}
			_, err := c.svc.Users.Messages.Trash("me", id).Context(ctx).Do()
			return err
		})
		if err != nil {
			result.Errors = append(result.Errors, connector.ItemError{ID: id, Reason: err.Error()})
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}

	c.logger.Info("messages deleted",
		logging.Count(len(result.Deleted)),
		slog.Int("failed", len(result.Errors)),
		slog.Bool("permanent", permanent))
	return result, nil
}

// SendMessage sends as the authenticated user.
func (c *Connector) SendMessage(ctx context.Context, msg connector.OutgoingMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("outgoing message has no recipients")
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}

	raw := base64.URLEncoding.EncodeToString(connector.BuildRFC822(c.email, msg))
	err := c.withAuthRetry(func() error {
		_, err := c.svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	c.logger.Info("message sent",
		logging.Count(len(msg.To)+len(msg.Cc)+len(msg.Bcc)))
	return nil
}

// MoveToFolder applies the destination label and removes INBOX.
func (c *Connector) MoveToFolder(ctx context.Context, folder string, ids []string, dest string) (*connector.MoveResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	labelID, _, err := c.getOrCreateLabel(ctx, dest)
	if err != nil {
		return nil, err
	}

	result := &connector.MoveResult{}
	for _, id := range ids {
		err := c.withAuthRetry(func() error {
			_, err := c.svc.Users.Messages.Modify("me", id, &gmail.ModifyMessageRequest{
				AddLabelIds:    []string{labelID},
				RemoveLabelIds: []string{inboxLabel},
			}).Context(ctx).Do()
			return err
		})
		if err != nil {
			result.Errors = append(result.Errors, connector.ItemError{ID: id, Reason: err.Error()})
			continue
		}
		result.Moved = append(result.Moved, id)
	}
	return result, nil
}

// ListFolders returns the account's label names.
func (c *Connector) ListFolders(ctx context.Context) ([]string, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	var list *gmail.ListLabelsResponse
	err := c.withAuthRetry(func() error {
		var err error
		list, err = c.svc.Users.Labels.List("me").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}

	names := make([]string, 0, len(list.Labels))
	for _, label := range list.Labels {
		names = append(names, label.Name)
	}
	return names, nil
}

// EnsureFolder creates the label unless a case-insensitive match exists.
func (c *Connector) EnsureFolder(ctx context.Context, name string) (bool, error) {
	if err := c.Connect(ctx); err != nil {
		return false, err
	}
	_, created, err := c.getOrCreateLabel(ctx, name)
	return created, err
}

// findLabel returns the id of the label matching name case-insensitively,
// or "" when absent.
func (c *Connector) findLabel(ctx context.Context, name string) (string, error) {
	var list *gmail.ListLabelsResponse
	err := c.withAuthRetry(func() error {
		var err error
		list, err = c.svc.Users.Labels.List("me").Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to list labels: %w", err)
	}

	for _, label := range list.Labels {
		if strings.EqualFold(label.Name, name) {
			return label.Id, nil
		}
	}
	return "", nil
}

func (c *Connector) getOrCreateLabel(ctx context.Context, name string) (string, bool, error) {
	id, err := c.findLabel(ctx, name)
	if err != nil {
		return "", false, err
	}
	if id != "" {
		return id, false, nil
	}

	var label *gmail.Label
	err = c.withAuthRetry(func() error {
		var err error
		label, err = c.svc.Users.Labels.Create("me", &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to create label %s: %w", name, err)
	}

	c.logger.Info("label created", logging.Folder(name))
	return label.Id, true, nil
}

func mailMessageFrom(msg *gmail.Message, folder string) connector.MailMessage {
	out := connector.MailMessage{
		ID:      msg.Id,
		Preview: msg.Snippet,
		Size:    msg.SizeEstimate,
		Date:    time.UnixMilli(msg.InternalDate),
		Folder:  folder,
	}
	for _, labelID := range msg.LabelIds {
		if labelID == "UNREAD" {
			out.Unread = true
		}
	}
	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				out.From = header.Value
			case "Subject":
				out.Subject = header.Value
			}
		}
	}
	return out
}
