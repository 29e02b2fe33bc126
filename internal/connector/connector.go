// Package connector defines the uniform mailbox contract every provider
// adapter implements. Callers program against Connector; the imap, gmail and
// graph subpackages provide the variants.
package connector

import (
	"context"
	"time"
)

// Connector is the full per-account mailbox contract. Every variant
// implements every method; providers without native folder support emulate
// the folder operations rather than being probed for them.
//
// A Connector instance is not safe for concurrent use. Callers that operate
// on the same account from multiple goroutines must use separate instances.
type Connector interface {
	// Connect establishes the provider session. It is a no-op when the
	// session is already healthy.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Safe to call when not connected.
	Disconnect() error

	// GetMailboxStats returns total and unread counts for the inbox.
	GetMailboxStats(ctx context.Context) (*MailboxStats, error)

	// PreviewEmails fetches up to count inbox messages with header-level
	// detail and a short body preview. oldestFirst orders ascending by date.
	PreviewEmails(ctx context.Context, count int, oldestFirst bool) ([]MailMessage, error)

	// SearchEmails returns messages matching the query. An empty query
	// folder means the inbox.
	SearchEmails(ctx context.Context, q SearchQuery) ([]MailMessage, error)

	// DeleteEmails removes the given messages from folder ("" = inbox).
	// permanent=false moves to trash and stays reversible; permanent=true is
	// a provider-native irreversible delete. Failures are recorded per id
	// and the remaining ids are still processed.
	DeleteEmails(ctx context.Context, folder string, ids []string, permanent bool) (*DeleteResult, error)

	// SendMessage sends an outgoing message as the account owner.
	SendMessage(ctx context.Context, msg OutgoingMessage) error

	// MoveToFolder moves the given messages from folder ("" = inbox) into
	// dest, creating dest if needed. Per-id failures are recorded and the
	// remaining ids are still processed.
	MoveToFolder(ctx context.Context, folder string, ids []string, dest string) (*MoveResult, error)

	// ListFolders returns the account's folder (or label) names.
	ListFolders(ctx context.Context) ([]string, error)

	// EnsureFolder creates the folder if no folder with the same
	// case-insensitive name exists. It reports whether it created one.
	EnsureFolder(ctx context.Context, name string) (bool, error)
}

// MailMessage is one fetched message. Transient: it is never persisted, only
// aggregates derived from it are.
type MailMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Preview string    `json:"preview"`
	Size    int64     `json:"size"`
	Unread  bool      `json:"unread"`
	Folder  string    `json:"folder,omitempty"`
}

// MailboxStats holds inbox counters.
type MailboxStats struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
}

// SearchQuery selects messages for bulk operations. Zero-valued fields do
// not constrain the search.
type SearchQuery struct {
	Folder     string
	Sender     string
	OlderThan  time.Time
	Limit      int
	UnreadOnly bool
}

// OutgoingMessage is the payload for SendMessage.
type OutgoingMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
}

// ItemError records one failed id inside a multi-id operation.
type ItemError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// DeleteResult reports a multi-id delete. The call itself succeeds as long
// as the transport executed; per-id failures live in Errors.
type DeleteResult struct {
	Deleted []string    `json:"deleted"`
	Errors  []ItemError `json:"errors,omitempty"`
}

// MoveResult reports a multi-id move.
type MoveResult struct {
	Moved  []string    `json:"moved"`
	Errors []ItemError `json:"errors,omitempty"`
}
