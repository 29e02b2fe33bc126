package triage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailtriage/internal/accounts"
	"github.com/teemow/mailtriage/internal/classify"
	"github.com/teemow/mailtriage/internal/config"
	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/intel"
	"github.com/teemow/mailtriage/internal/llm"
	"github.com/teemow/mailtriage/internal/store"
	"github.com/teemow/mailtriage/internal/vault"
)

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// fakeConnector counts every mutating call so dry-run contracts can be
// asserted.
type fakeConnector struct {
	messages []connector.MailMessage
	matches  []connector.MailMessage
	folders  []string
	unread   int

	deleteCalls int
	moveCalls   int
	deleted     [][]string
	moved       map[string][]string
}

func (f *fakeConnector) Connect(ctx context.Context) error { return nil }
func (f *fakeConnector) Disconnect() error                 { return nil }

func (f *fakeConnector) GetMailboxStats(ctx context.Context) (*connector.MailboxStats, error) {
	return &connector.MailboxStats{Total: len(f.messages), Unread: f.unread}, nil
}

func (f *fakeConnector) PreviewEmails(ctx context.Context, count int, oldestFirst bool) ([]connector.MailMessage, error) {
	if count > len(f.messages) {
		count = len(f.messages)
	}
	return f.messages[:count], nil
}

func (f *fakeConnector) SearchEmails(ctx context.Context, q connector.SearchQuery) ([]connector.MailMessage, error) {
	return f.matches, nil
}

func (f *fakeConnector) DeleteEmails(ctx context.Context, folder string, ids []string, permanent bool) (*connector.DeleteResult, error) {
	f.deleteCalls++
	f.deleted = append(f.deleted, ids)
	return &connector.DeleteResult{Deleted: ids}, nil
}

func (f *fakeConnector) SendMessage(ctx context.Context, msg connector.OutgoingMessage) error {
	return nil
}

func (f *fakeConnector) MoveToFolder(ctx context.Context, folder string, ids []string, dest string) (*connector.MoveResult, error) {
	f.moveCalls++
	if f.moved == nil {
		f.moved = make(map[string][]string)
	}
	f.moved[dest] = append(f.moved[dest], ids...)
	return &connector.MoveResult{Moved: ids}, nil
}

func (f *fakeConnector) ListFolders(ctx context.Context) ([]string, error) {
	return f.folders, nil
}

func (f *fakeConnector) EnsureFolder(ctx context.Context, name string) (bool, error) {
	for _, existing := range f.folders {
		if strings.EqualFold(existing, name) {
			return false, nil
		}
	}
	f.folders = append(f.folders, name)
	return true, nil
}

// spamCompleter flags subjects containing "winner" as spam; the category
// prompt answers with a fixed map keyed on subject.
func spamCompleter(categories map[string]string) completerFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		if strings.HasPrefix(prompt, "Categorize this email into ONE") {
			for subject, category := range categories {
				if strings.Contains(prompt, subject) {
					return category, nil
				}
			}
			return "Inbox", nil
		}
		if strings.Contains(prompt, "winner") {
			return "CATEGORY: SPAM\nREASONING: lottery bait", nil
		}
		return "CATEGORY: KEEP\nREASONING: looks fine", nil
	}
}

func newTestTriager(t *testing.T, conn connector.Connector, completer llm.Completer) (*Triager, *intel.CategoryLearner) {
	t.Helper()

	v := vault.New(keyring.NewArrayKeyring(nil), store.NewMemoryRepository(), nil)
	require.NoError(t, v.Store("acct", "yahoo", "user@yahoo.example", vault.KindAppPassword, "pw", nil))

	mgr := accounts.New(v, &config.Config{}, nil)
	mgr.SetConnectorFactory(func(ctx context.Context, accountID string, meta *vault.Metadata) (connector.Connector, error) {
		return conn, nil
	})

	repo := store.NewMemoryRepository()
	learner := intel.NewCategoryLearner(repo, nil)
	priority := intel.NewPriorityEngine(repo, nil)

	return New(Deps{
		Accounts:  mgr,
		Detector:  classify.NewSpamDetector(completer, nil),
		Completer: completer,
		Learner:   learner,
		Context:   intel.NewContextEngine(priority, learner, nil, nil),
	}), learner
}

func inboxOf(n, spam int) []connector.MailMessage {
	msgs := make([]connector.MailMessage, 0, n)
	for i := 0; i < n; i++ {
		subject := fmt.Sprintf("status update %d", i)
		if i < spam {
			subject = fmt.Sprintf("winner notification %d", i)
		}
		msgs = append(msgs, connector.MailMessage{
			ID:      fmt.Sprintf("%d", i+1),
			From:    fmt.Sprintf("sender%d@example.com", i),
			Subject: subject,
			Unread:  true,
		})
	}
	return msgs
}

func TestDetectSpamWithoutDeleteLeavesMailboxUntouched(t *testing.T) {
	conn := &fakeConnector{messages: inboxOf(12, 3), unread: 12}
	tr, _ := newTestTriager(t, conn, spamCompleter(nil))

	report, err := tr.DetectSpam(context.Background(), "acct", 12, false)
	require.NoError(t, err)

	assert.Equal(t, 12, report.Checked)
	assert.Equal(t, 3, report.Spam)
	assert.Equal(t, 9, report.Keep)
	assert.Equal(t, 0, report.Trashed)
	assert.Len(t, report.Details, 3)

	assert.Equal(t, 0, conn.deleteCalls)
	assert.Equal(t, 0, conn.moveCalls)
	stats, _ := conn.GetMailboxStats(context.Background())
	assert.Equal(t, 12, stats.Unread)
}

func TestDetectSpamDeleteTrashesSpamOnly(t *testing.T) {
	conn := &fakeConnector{messages: inboxOf(12, 3), unread: 12}
	tr, _ := newTestTriager(t, conn, spamCompleter(nil))

	report, err := tr.DetectSpam(context.Background(), "acct", 12, true)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Trashed)
	assert.Equal(t, 0, report.Failed)
	require.Equal(t, 1, conn.deleteCalls)
	assert.Equal(t, []string{"1", "2", "3"}, conn.deleted[0])
}

func TestDetectSpamCapsDetails(t *testing.T) {
	conn := &fakeConnector{messages: inboxOf(10, 8)}
	tr, _ := newTestTriager(t, conn, spamCompleter(nil))

	report, err := tr.DetectSpam(context.Background(), "acct", 10, false)
	require.NoError(t, err)

	assert.Equal(t, 8, report.Spam)
	assert.Len(t, report.Details, maxSpamDetails)
}

func TestBulkDeleteDryRun(t *testing.T) {
	matches := make([]connector.MailMessage, 40)
	for i := range matches {
		matches[i] = connector.MailMessage{ID: fmt.Sprintf("old-%d", i)}
	}
	conn := &fakeConnector{matches: matches}
	tr, _ := newTestTriager(t, conn, spamCompleter(nil))

	report, err := tr.BulkDelete(context.Background(), "acct",
		DeleteCriteria{OlderThanDays: 365, Folder: "Promotions"}, true)
	require.NoError(t, err)

	assert.Equal(t, 40, report.Matched)
	assert.Equal(t, 40, report.WouldDelete)
	assert.Equal(t, 0, report.Deleted)
	assert.True(t, report.DryRun)
	assert.Equal(t, 0, conn.deleteCalls)
}

func TestBulkDeleteCommits(t *testing.T) {
	conn := &fakeConnector{matches: []connector.MailMessage{{ID: "a"}, {ID: "b"}}}
	tr, _ := newTestTriager(t, conn, spamCompleter(nil))

	report, err := tr.BulkDelete(context.Background(), "acct", DeleteCriteria{Sender: "noise@ads.example"}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Deleted)
	require.Equal(t, 1, conn.deleteCalls)
	assert.Equal(t, []string{"a", "b"}, conn.deleted[0])
}

func categorizeFixture() []connector.MailMessage {
	return []connector.MailMessage{
		{ID: "1", From: "scam@lottery.example", Subject: "winner notification"},
		{ID: "2", From: "billing@vendor.example", Subject: "invoice attached"},
		{ID: "3", From: "cal@corp.example", Subject: "Invite: weekly sync"},
		{ID: "4", From: "news@letters.example", Subject: "tuesday roundup"},
		{ID: "5", From: "odd@example.com", Subject: "misc note"},
	}
}

func newCategorizeTriager(t *testing.T, conn *fakeConnector) (*Triager, *intel.CategoryLearner) {
	t.Helper()
	completer := spamCompleter(map[string]string{
		"tuesday roundup": "Newsletters",
		"misc note":       "General", // not a known category
	})
	tr, learner := newTestTriager(t, conn, completer)
	for i := 0; i < 5; i++ {
		learner.LearnFromCorrection(connector.MailMessage{
			From:    "billing@vendor.example",
			Subject: "invoice attached",
		}, "Unsure", "Finance")
	}
	return tr, learner
}

func TestCategorizeAccountsDryRun(t *testing.T) {
	conn := &fakeConnector{messages: categorizeFixture()}
	tr, _ := newCategorizeTriager(t, conn)

	report, err := tr.CategorizeAccounts(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalCategorized)
	assert.Equal(t, 1, report.ByCategory["Spam"])
	assert.Equal(t, 1, report.ByCategory["Finance"])
	assert.Equal(t, 1, report.ByCategory["Calendar & Events"])
	assert.Equal(t, 1, report.ByCategory["Newsletters"])
	assert.Equal(t, 1, report.ByCategory["Inbox"])

	assert.Equal(t, 0, conn.moveCalls)
	assert.Equal(t, 0, conn.deleteCalls)
}

func TestCategorizeAccountsMovesPerCategory(t *testing.T) {
	conn := &fakeConnector{messages: categorizeFixture()}
	tr, learner := newCategorizeTriager(t, conn)

	report, err := tr.CategorizeAccounts(context.Background(), false)
	require.NoError(t, err)

	result := report.ByAccount["acct"]
	assert.Equal(t, 4, result.Moved)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, "user@yahoo.example", result.Email)

	// One move call per target folder, Inbox untouched
	assert.Equal(t, 4, conn.moveCalls)
	assert.Equal(t, []string{"1"}, conn.moved["Spam"])
	assert.Equal(t, []string{"2"}, conn.moved["Finance"])
	assert.Equal(t, []string{"3"}, conn.moved["Calendar & Events"])
	assert.Equal(t, []string{"4"}, conn.moved["Newsletters"])
	assert.NotContains(t, conn.moved, "Inbox")

	// Validated model output reinforces the learner
	assert.Equal(t, 1, learner.SenderCategoryHistory("news@letters.example")["Newsletters"])
}

func TestEnsureFoldersIdempotent(t *testing.T) {
	conn := &fakeConnector{folders: []string{"INBOX", "Trash"}}
	tr, _ := newTestTriager(t, conn, spamCompleter(nil))

	first, err := tr.EnsureFolders(context.Background(), "acct")
	require.NoError(t, err)
	assert.Len(t, first.Created, 16)
	assert.Equal(t, []string{"Inbox"}, first.Existing)
	assert.NotContains(t, first.Created, "Archive")

	second, err := tr.EnsureFolders(context.Background(), "acct")
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Len(t, second.Existing, 17)

	// No duplicate names accumulated across runs
	seen := make(map[string]bool)
	for _, folder := range conn.folders {
		key := strings.ToLower(folder)
		assert.False(t, seen[key], "duplicate folder %s", folder)
		seen[key] = true
	}
}

func TestCheckAllAccountsCollectsPriorityMail(t *testing.T) {
	conn := &fakeConnector{messages: []connector.MailMessage{
		{ID: "1", From: "boss@corp.example", Subject: "urgent meeting now", Unread: true},
		{ID: "2", From: "news@letters.example", Subject: "tuesday roundup", Unread: true},
		{ID: "3", From: "tom@friends.example", Subject: "lunch?", Unread: true},
	}}
	tr, _ := newTestTriager(t, conn, spamCompleter(nil))

	report, err := tr.CheckAllAccounts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalNew)
	check := report.ByAccount["acct"]
	assert.Equal(t, 3, check.NewMessages)
	assert.Equal(t, 1, check.PriorityCount)

	require.Len(t, report.Notify, 1)
	item := report.Notify[0]
	assert.Equal(t, "boss@corp.example", item.From)
	assert.GreaterOrEqual(t, item.Score, 8.0)
	assert.Equal(t, intel.ActionScheduleMeeting, item.RecommendedAction)
}

func TestCheckAllAccountsIsolatesFailures(t *testing.T) {
	v := vault.New(keyring.NewArrayKeyring(nil), store.NewMemoryRepository(), nil)
	require.NoError(t, v.Store("good", "yahoo", "good@yahoo.example", vault.KindAppPassword, "pw", nil))
	require.NoError(t, v.Store("bad", "yahoo", "bad@yahoo.example", vault.KindAppPassword, "pw", nil))

	good := &fakeConnector{messages: inboxOf(2, 0)}
	mgr := accounts.New(v, &config.Config{}, nil)
	mgr.SetConnectorFactory(func(ctx context.Context, accountID string, meta *vault.Metadata) (connector.Connector, error) {
		if accountID == "bad" {
			return nil, fmt.Errorf("connection refused")
		}
		return good, nil
	})

	repo := store.NewMemoryRepository()
	learner := intel.NewCategoryLearner(repo, nil)
	priority := intel.NewPriorityEngine(repo, nil)
	tr := New(Deps{
		Accounts:  mgr,
		Detector:  classify.NewSpamDetector(spamCompleter(nil), nil),
		Completer: spamCompleter(nil),
		Learner:   learner,
		Context:   intel.NewContextEngine(priority, learner, nil, nil),
	})

	report, err := tr.CheckAllAccounts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalNew)
	assert.Equal(t, 2, report.ByAccount["good"].NewMessages)
	assert.Contains(t, report.ByAccount["bad"].Error, "connection refused")
}

func TestTriageRunsLogOperationAndStatus(t *testing.T) {
	var buf bytes.Buffer
	conn := &fakeConnector{messages: inboxOf(4, 1)}
	tr, _ := newTestTriager(t, conn, spamCompleter(nil))
	tr.logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := tr.DetectSpam(context.Background(), "acct", 4, false)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "triage run finished")
	assert.Contains(t, out, "operation=detect_spam")
	assert.Contains(t, out, "status=success")

	buf.Reset()
	_, err = tr.DetectSpam(context.Background(), "missing", 4, false)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "status=error")
}
