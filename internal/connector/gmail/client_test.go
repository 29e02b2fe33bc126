package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/store"
	"github.com/teemow/mailtriage/internal/vault"
)

func newTestConnector(t *testing.T, srv *httptest.Server, refresh vault.RefreshFunc) *Connector {
	t.Helper()

	v := vault.New(keyring.NewArrayKeyring(nil), store.NewMemoryRepository(), nil)
	require.NoError(t, v.Store("acct1", "gmail", "a@gmail.com", vault.KindOAuthAccessToken, "at", nil))
	require.NoError(t, v.Store("acct1", "gmail", "a@gmail.com", vault.KindOAuthRefreshToken, "rt", nil))
	require.NoError(t, v.UpdateOAuthTokens("acct1", "at", "rt", 3600))

	if refresh == nil {
		refresh = func(context.Context, string) (string, string, int, error) {
			return "at-new", "", 3600, nil
		}
	}

	return New("acct1", v.NewTokenSource(context.Background(), "acct1", refresh), nil,
		option.WithEndpoint(srv.URL))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestDeleteEmailsPerItemIsolation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &gmail.Profile{EmailAddress: "a@gmail.com"})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gmail/v1/users/me/messages/bad/trash" {
			http.Error(w, `{"error":{"code":404}}`, http.StatusNotFound)
			return
		}
		writeJSON(w, &gmail.Message{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, nil)
	result, err := c.DeleteEmails(context.Background(), "", []string{"m1", "bad", "m2"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, result.Deleted)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad", result.Errors[0].ID)
}

func TestEnsureFolderCaseInsensitive(t *testing.T) {
	var created atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &gmail.Profile{EmailAddress: "a@gmail.com"})
	})
	mux.HandleFunc("/gmail/v1/users/me/labels", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			created.Add(1)
			writeJSON(w, &gmail.Label{Id: "Label_9", Name: "Travel"})
			return
		}
		writeJSON(w, &gmail.ListLabelsResponse{Labels: []*gmail.Label{
			{Id: "INBOX", Name: "INBOX"},
			{Id: "Label_1", Name: "Receipts"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, nil)

	createdNow, err := c.EnsureFolder(context.Background(), "receipts")
	require.NoError(t, err)
	assert.False(t, createdNow)
	assert.Equal(t, int32(0), created.Load())

	createdNow, err = c.EnsureFolder(context.Background(), "Travel")
	require.NoError(t, err)
	assert.True(t, createdNow)
	assert.Equal(t, int32(1), created.Load())
}

func TestUnauthorizedTriggersSingleRefreshAndRetry(t *testing.T) {
	var profileCalls, refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		if profileCalls.Add(1) == 1 {
			http.Error(w, `{"error":{"code":401,"message":"invalid credentials"}}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, &gmail.Profile{EmailAddress: "a@gmail.com"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, func(context.Context, string) (string, string, int, error) {
		refreshCalls.Add(1)
		return "at-new", "", 3600, nil
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(2), profileCalls.Load())
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestUnauthorizedTwiceIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":401,"message":"invalid credentials"}}`, http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, nil)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestMailMessageFrom(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		Snippet:      "Your order has shipped",
		SizeEstimate: 2048,
		InternalDate: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC).UnixMilli(),
		LabelIds:     []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{Headers: []*gmail.MessagePartHeader{
			{Name: "From", Value: "Shop <orders@shop.example>"},
			{Name: "Subject", Value: "Order 42 shipped"},
		}},
	}

	out := mailMessageFrom(msg, "")
	assert.Equal(t, "m1", out.ID)
	assert.Equal(t, "Shop <orders@shop.example>", out.From)
	assert.Equal(t, "Order 42 shipped", out.Subject)
	assert.True(t, out.Date.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Your order has shipped", out.Preview)
	assert.EqualValues(t, 2048, out.Size)
	assert.True(t, out.Unread)
}

func TestSendMessageRequiresRecipients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	c := newTestConnector(t, srv, nil)
	assert.Error(t, c.SendMessage(context.Background(), connector.OutgoingMessage{Subject: "x"}))
}
