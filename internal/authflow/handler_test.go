package authflow

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestHandler(t *testing.T, port int) *Handler {
	t.Helper()
	h, err := NewHandler(ProviderGoogle, "client-id", "client-secret", port, nil)
	require.NoError(t, err)
	h.timeout = 5 * time.Second
	return h
}

// simulateRedirect pretends to be the browser: it extracts the state from the
// consent URL and hits the local callback with the given query values.
func simulateRedirect(t *testing.T, h *Handler, extra url.Values) {
	t.Helper()
	h.openBrowser = func(authURL string) error {
		go func() {
			u, err := url.Parse(authURL)
			if err != nil {
				return
			}
			q := url.Values{}
			if extra.Get("error") == "" && extra.Get("code") != "" {
				q.Set("state", u.Query().Get("state"))
			}
			for k, vs := range extra {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			// Give the listener a moment to come up
			time.Sleep(50 * time.Millisecond)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d%s?%s", h.port, callbackPath, q.Encode()))
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func TestStartAuthorizationFlowSuccess(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "test-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	h := newTestHandler(t, 18891)
	h.conf.Endpoint = oauth2.Endpoint{AuthURL: h.conf.Endpoint.AuthURL, TokenURL: tokenSrv.URL}
	simulateRedirect(t, h, url.Values{"code": {"test-code"}})

	tokens, err := h.StartAuthorizationFlow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "rt-1", tokens.RefreshToken)
	assert.InDelta(t, 3600, tokens.ExpiresIn, 60)
}

func TestStartAuthorizationFlowDenied(t *testing.T) {
	h := newTestHandler(t, 18892)
	simulateRedirect(t, h, url.Values{"error": {"access_denied"}})

	_, err := h.StartAuthorizationFlow(context.Background())
	assert.ErrorIs(t, err, ErrConsentDenied)
}

func TestStartAuthorizationFlowTimeout(t *testing.T) {
	h := newTestHandler(t, 18893)
	h.timeout = 100 * time.Millisecond
	h.openBrowser = func(string) error { return nil }

	_, err := h.StartAuthorizationFlow(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestStartAuthorizationFlowStateMismatch(t *testing.T) {
	h := newTestHandler(t, 18894)
	h.openBrowser = func(authURL string) error {
		go func() {
			time.Sleep(50 * time.Millisecond)
			resp, err := http.Get(fmt.Sprintf(
				"http://localhost:%d%s?code=stolen&state=wrong", h.port, callbackPath))
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	_, err := h.StartAuthorizationFlow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")
}

func TestRefreshAccessToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-old", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-new","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	h := newTestHandler(t, 18895)
	h.conf.Endpoint.TokenURL = tokenSrv.URL

	tokens, err := h.RefreshAccessToken(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", tokens.AccessToken)
	// No rotation: provider kept the old refresh token
	assert.Empty(t, tokens.RefreshToken)
	assert.Equal(t, 3600, tokens.ExpiresIn)
}

func TestRefreshAccessTokenRejected(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"token revoked"}`)
	}))
	defer tokenSrv.Close()

	h := newTestHandler(t, 18896)
	h.conf.Endpoint.TokenURL = tokenSrv.URL

	_, err := h.RefreshAccessToken(context.Background(), "rt-old")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestRevokeTokenMicrosoftNoOp(t *testing.T) {
	h, err := NewHandler(ProviderMicrosoft, "id", "secret", 18897, nil)
	require.NoError(t, err)
	assert.NoError(t, h.RevokeToken(context.Background(), "whatever"))
}

func TestNewHandlerUnknownProvider(t *testing.T) {
	_, err := NewHandler("aol", "id", "secret", 0, nil)
	assert.Error(t, err)
}
