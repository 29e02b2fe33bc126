// Package imap implements the mailbox contract for password-authenticated
// IMAP providers. Builtin presets cover Yahoo and Comcast; GenericPreset
// covers any other IMAP/SMTP server pair. Sending goes out over SMTP with
// the same credentials.
package imap

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"

	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/logging"
)

const previewBytes = 512

// Connector is a session-oriented IMAP adapter. Not safe for concurrent use:
// IMAP requires a folder select before per-message operations, and
// interleaved selects from two callers would corrupt each other's session.
type Connector struct {
	preset   Preset
	email    string
	password string
	logger   *slog.Logger

	client   *imapclient.Client
	selected string

	// dial is replaceable in tests.
	dial func(addr string) (*imapclient.Client, error)
}

var _ connector.Connector = (*Connector)(nil)

// New creates a disconnected IMAP connector. The password is borrowed for
// the session and never logged.
func New(preset Preset, email, password string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		preset:   preset,
		email:    email,
		password: password,
		logger:   logging.WithProvider(logger, preset.Name),
		dial: func(addr string) (*imapclient.Client, error) {
			return imapclient.DialTLS(addr, nil)
		},
	}
}

// Connect dials the IMAP server and authenticates. Already-connected
// sessions are left alone.
func (c *Connector) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	client, err := c.dial(c.preset.IMAPAddr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.preset.IMAPAddr, err)
	}
	if err := client.Login(c.email, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return fmt.Errorf("authentication failed for %s: %w", logging.AnonymizeEmail(c.email), err)
	}

	c.client = client
	c.selected = ""
	c.logger.Debug("imap session established", logging.UserHash(c.email))
	return nil
}

// Disconnect logs out and drops the session. Safe when not connected.
func (c *Connector) Disconnect() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout().Wait()
	c.client = nil
	c.selected = ""
	return err
}

// selectFolder selects a folder, reconnecting once if the session has gone
// stale. Empty folder means INBOX.
func (c *Connector) selectFolder(ctx context.Context, folder string) (*imap.SelectData, error) {
	if folder == "" {
		folder = "INBOX"
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	data, err := c.client.Select(folder, nil).Wait()
	if err != nil {
		// Session may have timed out server-side; reconnect once and retry
		_ = c.Disconnect()
		if cerr := c.Connect(ctx); cerr != nil {
			return nil, fmt.Errorf("failed to select %s: %w", folder, err)
		}
		data, err = c.client.Select(folder, nil).Wait()
		if err != nil {
			return nil, fmt.Errorf("failed to select %s: %w", folder, err)
		}
	}
	c.selected = folder
	return data, nil
}

// GetMailboxStats returns total and unread counts for INBOX.
func (c *Connector) GetMailboxStats(ctx context.Context) (*connector.MailboxStats, error) {
	data, err := c.selectFolder(ctx, "INBOX")
	if err != nil {
		return nil, err
	}

	unseen, err := c.client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}

	return &connector.MailboxStats{
		Total:  int(data.NumMessages),
		Unread: len(unseen.AllUIDs()),
	}, nil
}

// PreviewEmails fetches up to count INBOX messages with envelope detail and
// a short body preview.
func (c *Connector) PreviewEmails(ctx context.Context, count int, oldestFirst bool) ([]connector.MailMessage, error) {
	return c.fetchFolder(ctx, "INBOX", connector.SearchQuery{Limit: count}, oldestFirst)
}

// SearchEmails returns messages matching the query from the query's folder.
func (c *Connector) SearchEmails(ctx context.Context, q connector.SearchQuery) ([]connector.MailMessage, error) {
	return c.fetchFolder(ctx, q.Folder, q, false)
}

func (c *Connector) fetchFolder(ctx context.Context, folder string, q connector.SearchQuery, oldestFirst bool) ([]connector.MailMessage, error) {
	if _, err := c.selectFolder(ctx, folder); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	if !q.OlderThan.IsZero() {
		criteria.Before = q.OlderThan
	}
	if q.Sender != "" {
		criteria.Header = []imap.SearchCriteriaHeaderField{{Key: "From", Value: q.Sender}}
	}
	if q.UnreadOnly {
		criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
	}

	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", c.selected, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	// UIDs ascend with arrival order; newest are at the tail
	if q.Limit > 0 && len(uids) > q.Limit {
		if oldestFirst {
			uids = uids[:q.Limit]
		} else {
			uids = uids[len(uids)-q.Limit:]
		}
	}

	previewSection := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierText,
		Peek:      true,
		Partial:   &imap.SectionPartial{Offset: 0, Size: previewBytes},
	}
	fetchCmd := c.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		RFC822Size:  true,
		BodySection: []*imap.FetchItemBodySection{previewSection},
	})
	defer fetchCmd.Close()

	var messages []connector.MailMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		messages = append(messages, messageFromBuffer(buf, previewSection, c.selected))
	}
	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(messages, func(i, j int) bool {
		if oldestFirst {
			return messages[i].Date.Before(messages[j].Date)
		}
		return messages[j].Date.Before(messages[i].Date)
	})
	return messages, nil
}

// DeleteEmails trashes or permanently deletes messages from folder. The
// permanent path flags each message individually, then commits with a single
// expunge; a crash between flagging and expunge leaves messages flagged but
// present, never half-deleted.
func (c *Connector) DeleteEmails(ctx context.Context, folder string, ids []string, permanent bool) (*connector.DeleteResult, error) {
	if _, err := c.selectFolder(ctx, folder); err != nil {
		return nil, err
	}

	result := &connector.DeleteResult{}
	flagged := false
	for _, id := range ids {
		uid, err := parseUID(id)
		if err != nil {
			result.Errors = append(result.Errors, connector.ItemError{ID: id, Reason: err.Error()})
			continue
		}

		if permanent {
			err = c.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
				Op:     imap.StoreFlagsAdd,
				Silent: true,
				Flags:  []imap.Flag{imap.FlagDeleted},
			}, nil).Close()
		} else {
			_, err = c.client.Move(imap.UIDSetNum(uid), c.preset.TrashFolder).Wait()
		}
		if err != nil {
			result.Errors = append(result.Errors, connector.ItemError{ID: id, Reason: err.Error()})
			continue
		}
		if permanent {
			flagged = true
		}
		result.Deleted = append(result.Deleted, id)
	}

	if permanent && flagged {
		if err := c.client.Expunge().Close(); err != nil {
			return result, fmt.Errorf("failed to expunge %s: %w", c.selected, err)
		}
	}

	c.logger.Info("messages deleted",
		logging.Folder(c.selected),
		logging.Count(len(result.Deleted)),
		slog.Int("failed", len(result.Errors)),
		slog.Bool("permanent", permanent))
	return result, nil
}

// MoveToFolder moves messages into dest, creating dest when missing.
func (c *Connector) MoveToFolder(ctx context.Context, folder string, ids []string, dest string) (*connector.MoveResult, error) {
	if _, err := c.EnsureFolder(ctx, dest); err != nil {
		return nil, err
	}
	if _, err := c.selectFolder(ctx, folder); err != nil {
		return nil, err
	}

	result := &connector.MoveResult{}
	for _, id := range ids {
		uid, err := parseUID(id)
		if err != nil {
			result.Errors = append(result.Errors, connector.ItemError{ID: id, Reason: err.Error()})
			continue
		}
		if _, err := c.client.Move(imap.UIDSetNum(uid), dest).Wait(); err != nil {
			result.Errors = append(result.Errors, connector.ItemError{ID: id, Reason: err.Error()})
			continue
		}
		result.Moved = append(result.Moved, id)
	}
	return result, nil
}

// ListFolders returns the mailbox names visible to the account.
func (c *Connector) ListFolders(ctx context.Context) ([]string, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	boxes, err := c.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	names := make([]string, 0, len(boxes))
	for _, box := range boxes {
		names = append(names, box.Mailbox)
	}
	return names, nil
}

// EnsureFolder creates the folder unless one already exists under the same
// case-insensitive name.
func (c *Connector) EnsureFolder(ctx context.Context, name string) (bool, error) {
	folders, err := c.ListFolders(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range folders {
		if strings.EqualFold(existing, name) {
			return false, nil
		}
	}

	if err := c.client.Create(name, nil).Wait(); err != nil {
		return false, fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	c.logger.Info("folder created", logging.Folder(name))
	return true, nil
}

// SendMessage sends over SMTP with STARTTLS using the account credentials.
func (c *Connector) SendMessage(ctx context.Context, msg connector.OutgoingMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("outgoing message has no recipients")
	}

	addr := fmt.Sprintf("%s:%d", c.preset.SMTPHost, c.preset.SMTPPort)
	auth := smtp.PlainAuth("", c.email, c.password, c.preset.SMTPHost)

	recipients := append(append(append([]string{}, msg.To...), msg.Cc...), msg.Bcc...)
	if err := smtp.SendMail(addr, auth, c.email, recipients, connector.BuildRFC822(c.email, msg)); err != nil {
		return fmt.Errorf("failed to send via %s: %w", addr, err)
	}

	c.logger.Info("message sent", logging.Count(len(recipients)))
	return nil
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q", id)
	}
	return imap.UID(n), nil
}

var headerDecoder = mime.WordDecoder{CharsetReader: charset.Reader}

func decodeHeader(s string) string {
	decoded, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func messageFromBuffer(buf *imapclient.FetchMessageBuffer, previewSection *imap.FetchItemBodySection, folder string) connector.MailMessage {
	msg := connector.MailMessage{
		ID:     strconv.FormatUint(uint64(buf.UID), 10),
		Size:   buf.RFC822Size,
		Unread: true,
		Folder: folder,
	}

	if buf.Envelope != nil {
		msg.Subject = decodeHeader(buf.Envelope.Subject)
		msg.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				msg.From = fmt.Sprintf("%s <%s>", decodeHeader(from.Name), from.Addr())
			} else {
				msg.From = from.Addr()
			}
		}
	}

	for _, flag := range buf.Flags {
		if flag == imap.FlagSeen {
			msg.Unread = false
		}
	}

	if raw := buf.FindBodySection(previewSection); raw != nil {
		msg.Preview = strings.TrimSpace(string(raw))
	}
	return msg
}
