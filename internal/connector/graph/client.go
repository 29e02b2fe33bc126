// Package graph implements the mailbox contract on the Microsoft Graph v1.0
// REST API for Outlook accounts. Tokens come from a vault token source with
// the same refresh-once-retry-once semantics as the Gmail variant.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/logging"
	"github.com/teemow/mailtriage/internal/vault"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Connector adapts an Outlook account to the mailbox contract via Microsoft
// Graph. Not safe for concurrent use.
type Connector struct {
	accountID string
	tokens    *vault.TokenSource
	logger    *slog.Logger
	baseURL   string
	client    *http.Client

	connected bool
	email     string
}

var _ connector.Connector = (*Connector)(nil)

// New creates a disconnected Graph connector.
func New(accountID string, tokens *vault.TokenSource, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		accountID: accountID,
		tokens:    tokens,
		logger:    logging.WithAccount(logging.WithProvider(logger, "outlook"), accountID),
		baseURL:   defaultBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a Graph error response surfaced with its HTTP status.
type apiError struct {
	Status int
	Code   string
	Detail string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("graph API error %d (%s): %s", e.Status, e.Code, e.Detail)
}

// do issues one Graph request with the current access token. An unauthorized
// response triggers one forced refresh and one retry; out may be nil.
func (c *Connector) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	err := c.doOnce(ctx, method, path, query, body, out)
	apiErr, ok := err.(*apiError)
	if !ok || apiErr.Status != http.StatusUnauthorized {
		return err
	}
	if rerr := c.tokens.ForceRefresh(); rerr != nil {
		return rerr
	}
	return c.doOnce(ctx, method, path, query, body, out)
}

func (c *Connector) doOnce(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errBody)
		return &apiError{Status: resp.StatusCode, Code: errBody.Error.Code, Detail: errBody.Error.Message}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode graph response: %w", err)
		}
	}
	return nil
}

// Connect verifies the session by fetching the signed-in user.
func (c *Connector) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, &me); err != nil {
		return fmt.Errorf("failed to verify graph session: %w", err)
	}

	c.email = me.Mail
	if c.email == "" {
		c.email = me.UserPrincipalName
	}
	c.connected = true
	c.logger.Debug("graph session established", logging.UserHash(c.email))
	return nil
}

// Disconnect drops the session marker. REST sessions hold no server state.
func (c *Connector) Disconnect() error {
	c.connected = false
	return nil
}

type mailFolder struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	TotalItemCount  int    `json:"totalItemCount"`
	UnreadItemCount int    `json:"unreadItemCount"`
}

type graphMessage struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	BodyPreview      string    `json:"bodyPreview"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	IsRead           bool      `json:"isRead"`
	From             struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

func (m *graphMessage) toMailMessage(folder string) connector.MailMessage {
	from := m.From.EmailAddress.Address
	if m.From.EmailAddress.Name != "" {
		from = fmt.Sprintf("%s <%s>", m.From.EmailAddress.Name, m.From.EmailAddress.Address)
	}
	return connector.MailMessage{
		ID:      m.ID,
		From:    from,
		Subject: m.Subject,
		Date:    m.ReceivedDateTime,
		Preview: m.BodyPreview,
		Size:    int64(len(m.BodyPreview)),
		Unread:  !m.IsRead,
		Folder:  folder,
	}
}

// GetMailboxStats reads the inbox folder counters.
func (c *Connector) GetMailboxStats(ctx context.Context) (*connector.MailboxStats, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	var inbox mailFolder
	if err := c.do(ctx, http.MethodGet, "/me/mailFolders/inbox", nil, nil, &inbox); err != nil {
		return nil, fmt.Errorf("failed to read inbox counters: %w", err)
	}
	return &connector.MailboxStats{Total: inbox.TotalItemCount, Unread: inbox.UnreadItemCount}, nil
}

// PreviewEmails fetches up to count inbox messages.
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

	path := "/me/mailFolders/inbox/messages"
	if q.Folder != "" {
		folderID, err := c.findFolder(ctx, q.Folder)
		if err != nil {
			return nil, err
		}
		if folderID == "" {
			return nil, nil
		}
		path = "/me/mailFolders/" + folderID + "/messages"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	order := "receivedDateTime desc"
	if oldestFirst {
		order = "receivedDateTime asc"
	}

	var filters []string
	if q.Sender != "" {
		filters = append(filters, fmt.Sprintf("from/emailAddress/address eq '%s'", q.Sender))
	}
	if !q.OlderThan.IsZero() {
		filters = append(filters, fmt.Sprintf("receivedDateTime lt %s", q.OlderThan.UTC().Format(time.RFC3339)))
	}
	if q.UnreadOnly {
		filters = append(filters, "isRead eq false")
	}

	query := url.Values{}
	query.Set("$top", fmt.Sprintf("%d", limit))
	query.Set("$orderby", order)
	query.Set("$select", "id,subject,bodyPreview,receivedDateTime,isRead,from")
	if len(filters) > 0 {
		query.Set("$filter", strings.Join(filters, " and "))
	}

	var list struct {
		Value []graphMessage `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, path, query, nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]connector.MailMessage, 0, len(list.Value))
	for i := range list.Value {
		messages = append(messages, list.Value[i].toMailMessage(q.Folder))
	}
	return messages, nil
}

// DeleteEmails moves messages to Deleted Items, or deletes permanently.
func (c *Connector) DeleteEmails(ctx context.Context, folder string, ids []string, permanent bool) (*connector.DeleteResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	result := &connector.DeleteResult{}
	for _, id := range ids {
		var err error
		if permanent {
			err = c.do(ctx, http.MethodDelete, "/me/messages/"+id, nil, nil, nil)
		} else {
			err = c.do(ctx, http.MethodPost, "/me/messages/"+id+"/move", nil,
				map[string]string{"destinationId": "deleteditems"}, nil)
		}
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

// SendMessage sends through /me/sendMail as the signed-in user.
func (c *Connector) SendMessage(ctx context.Context, msg connector.OutgoingMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("outgoing message has no recipients")
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}

	toRecipients := func(addrs []string) []map[string]interface{} {
		out := make([]map[string]interface{}, 0, len(addrs))
		for _, addr := range addrs {
			out = append(out, map[string]interface{}{
				"emailAddress": map[string]string{"address": addr},
			})
		}
		return out
	}

	payload := map[string]interface{}{
		"message": map[string]interface{}{
			"subject":       msg.Subject,
			"body":          map[string]string{"contentType": "Text", "content": msg.Body},
			"toRecipients":  toRecipients(msg.To),
			"ccRecipients":  toRecipients(msg.Cc),
			"bccRecipients": toRecipients(msg.Bcc),
		},
		"saveToSentItems": true,
	}

	if err := c.do(ctx, http.MethodPost, "/me/sendMail", nil, payload, nil); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	c.logger.Info("message sent",
		logging.Count(len(msg.To)+len(msg.Cc)+len(msg.Bcc)))
	return nil
}

// MoveToFolder moves messages into dest, creating dest when missing.
func (c *Connector) MoveToFolder(ctx context.Context, folder string, ids []string, dest string) (*connector.MoveResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	destID, _, err := c.getOrCreateFolder(ctx, dest)
	if err != nil {
		return nil, err
	}

	result := &connector.MoveResult{}
	for _, id := range ids {
		err := c.do(ctx, http.MethodPost, "/me/messages/"+id+"/move", nil,
			map[string]string{"destinationId": destID}, nil)
		if err != nil {
			result.Errors = append(result.Errors, connector.ItemError{ID: id, Reason: err.Error()})
			continue
		}
		result.Moved = append(result.Moved, id)
	}
	return result, nil
}

// ListFolders returns the account's folder display names.
func (c *Connector) ListFolders(ctx context.Context) ([]string, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	folders, err := c.listFolders(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(folders))
	for _, f := range folders {
		names = append(names, f.DisplayName)
	}
	return names, nil
}

// EnsureFolder creates the folder unless a case-insensitive match exists.
func (c *Connector) EnsureFolder(ctx context.Context, name string) (bool, error) {
	if err := c.Connect(ctx); err != nil {
		return false, err
	}
	_, created, err := c.getOrCreateFolder(ctx, name)
	return created, err
}

func (c *Connector) listFolders(ctx context.Context) ([]mailFolder, error) {
	query := url.Values{}
	query.Set("$top", "100")

	var list struct {
		Value []mailFolder `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/mailFolders", query, nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return list.Value, nil
}

func (c *Connector) findFolder(ctx context.Context, name string) (string, error) {
	folders, err := c.listFolders(ctx)
	if err != nil {
		return "", err
	}
	for _, f := range folders {
		if strings.EqualFold(f.DisplayName, name) {
			return f.ID, nil
		}
	}
	return "", nil
}

func (c *Connector) getOrCreateFolder(ctx context.Context, name string) (string, bool, error) {
	id, err := c.findFolder(ctx, name)
	if err != nil {
		return "", false, err
	}
	if id != "" {
		return id, false, nil
	}

	var created mailFolder
	err = c.do(ctx, http.MethodPost, "/me/mailFolders", nil,
		map[string]string{"displayName": name}, &created)
	if err != nil {
		return "", false, fmt.Errorf("failed to create folder %s: %w", name, err)
	}

	c.logger.Info("folder created", logging.Folder(name))
	return created.ID, true, nil
}
