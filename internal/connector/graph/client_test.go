package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/store"
	"github.com/teemow/mailtriage/internal/vault"
)

func newTestConnector(t *testing.T, srv *httptest.Server, refresh vault.RefreshFunc) *Connector {
	t.Helper()

	v := vault.New(keyring.NewArrayKeyring(nil), store.NewMemoryRepository(), nil)
	require.NoError(t, v.Store("acct1", "outlook", "a@outlook.com", vault.KindOAuthAccessToken, "at", nil))
	require.NoError(t, v.Store("acct1", "outlook", "a@outlook.com", vault.KindOAuthRefreshToken, "rt", nil))
	require.NoError(t, v.UpdateOAuthTokens("acct1", "at", "rt", 3600))

	if refresh == nil {
		refresh = func(context.Context, string) (string, string, int, error) {
			return "at-new", "", 3600, nil
		}
	}

	c := New("acct1", v.NewTokenSource(context.Background(), "acct1", refresh), nil)
	c.baseURL = srv.URL
	return c
}

func handleMe(mux *http.ServeMux) {
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"mail":"a@outlook.com"}`)
	})
}

func TestGetMailboxStats(t *testing.T) {
	mux := http.NewServeMux()
	handleMe(mux)
	mux.HandleFunc("/me/mailFolders/inbox", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id":"inbox","displayName":"Inbox","totalItemCount":120,"unreadItemCount":12}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, nil)
	stats, err := c.GetMailboxStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &connector.MailboxStats{Total: 120, Unread: 12}, stats)
}

func TestDeleteEmailsPerItemIsolation(t *testing.T) {
	mux := http.NewServeMux()
	handleMe(mux)
	mux.HandleFunc("/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/me/messages/bad/move" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":"ErrorItemNotFound","message":"not found"}}`)
			return
		}
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deleteditems", body["destinationId"])
		fmt.Fprint(w, `{"id":"moved"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, nil)
	result, err := c.DeleteEmails(context.Background(), "", []string{"m1", "bad", "m2"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, result.Deleted)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad", result.Errors[0].ID)
	assert.Contains(t, result.Errors[0].Reason, "ErrorItemNotFound")
}

func TestEnsureFolderCaseInsensitive(t *testing.T) {
	var created atomic.Int32
	mux := http.NewServeMux()
	handleMe(mux)
	mux.HandleFunc("/me/mailFolders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			created.Add(1)
			fmt.Fprint(w, `{"id":"f-new","displayName":"Travel"}`)
			return
		}
		fmt.Fprint(w, `{"value":[{"id":"f1","displayName":"Inbox"},{"id":"f2","displayName":"Receipts"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, nil)

	createdNow, err := c.EnsureFolder(context.Background(), "RECEIPTS")
	require.NoError(t, err)
	assert.False(t, createdNow)
	assert.Equal(t, int32(0), created.Load())

	createdNow, err = c.EnsureFolder(context.Background(), "Travel")
	require.NoError(t, err)
	assert.True(t, createdNow)
	assert.Equal(t, int32(1), created.Load())
}

func TestUnauthorizedTriggersSingleRefreshAndRetry(t *testing.T) {
	var meCalls, refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if meCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`)
			return
		}
		assert.Equal(t, "Bearer at-new", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"mail":"a@outlook.com"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, func(context.Context, string) (string, string, int, error) {
		refreshCalls.Add(1)
		return "at-new", "", 3600, nil
	})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(2), meCalls.Load())
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestUnauthorizedTwiceIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, nil)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidAuthenticationToken")
}

func TestSendMessage(t *testing.T) {
	var sent atomic.Int32
	mux := http.NewServeMux()
	handleMe(mux)
	mux.HandleFunc("/me/sendMail", func(w http.ResponseWriter, r *http.Request) {
		sent.Add(1)
		var payload struct {
			Message struct {
				Subject      string `json:"subject"`
				ToRecipients []struct {
					EmailAddress struct {
						Address string `json:"address"`
					} `json:"emailAddress"`
				} `json:"toRecipients"`
			} `json:"message"`
			SaveToSentItems bool `json:"saveToSentItems"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Hello", payload.Message.Subject)
		require.Len(t, payload.Message.ToRecipients, 1)
		assert.Equal(t, "b@example.com", payload.Message.ToRecipients[0].EmailAddress.Address)
		assert.True(t, payload.SaveToSentItems)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestConnector(t, srv, nil)
	err := c.SendMessage(context.Background(), connector.OutgoingMessage{
		To:      []string{"b@example.com"},
		Subject: "Hello",
		Body:    "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), sent.Load())
}
