// Package authflow runs the interactive OAuth2 authorization-code flow for
// mail providers. The flow opens the user's browser, catches the redirect on
// a short-lived localhost listener, and exchanges the code for tokens.
package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teemow/mailtriage/internal/logging"
)

// Flow outcomes a caller may want to distinguish.
var (
	ErrConsentDenied = errors.New("authflow: user denied consent")
	ErrTimeout       = errors.New("authflow: timed out waiting for authorization")
)

const defaultFlowTimeout = 300 * time.Second

// Tokens is the result of a successful authorization or refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
}

// Handler drives the OAuth2 flow for one provider.
type Handler struct {
	provider string
	conf     *oauth2.Config
	port     int
	timeout  time.Duration
	logger   *slog.Logger

	// openBrowser is replaceable in tests.
	openBrowser func(url string) error
}

// NewHandler creates a flow handler for the given provider and client
// credentials. port is the local callback port; zero means the default.
func NewHandler(provider, clientID, clientSecret string, port int, logger *slog.Logger) (*Handler, error) {
	if port == 0 {
		port = DefaultCallbackPort
	}
	conf, err := newOAuthConfig(provider, clientID, clientSecret, port)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		provider:    provider,
		conf:        conf,
		port:        port,
		timeout:     defaultFlowTimeout,
		logger:      logger,
		openBrowser: openBrowser,
	}, nil
}

type callbackResult struct {
	code   string
	errMsg string
}

// StartAuthorizationFlow opens the browser on the provider's consent page,
// waits for the redirect on the local callback listener, and exchanges the
// authorization code for tokens. The listener is torn down on every path.
func (h *Handler) StartAuthorizationFlow(ctx context.Context) (*Tokens, error) {
	state := uuid.NewString()

	// Single-slot channel so the handler never blocks on duplicate redirects.
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := callbackResult{code: q.Get("code"), errMsg: q.Get("error")}
		if res.errMsg == "" && q.Get("state") != state {
			res = callbackResult{errMsg: "state mismatch"}
		}

		select {
		case results <- res:
		default:
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if res.errMsg != "" {
			fmt.Fprint(w, "<html><body><h3>Authorization failed.</h3>You can close this window.</body></html>")
			return
		}
		fmt.Fprint(w, "<html><body><h3>Authorization complete.</h3>You can close this window and return to the terminal.</body></html>")
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", h.port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind callback port %d: %w", h.port, err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	authURL := h.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	h.logger.Info("starting authorization flow",
		logging.Provider(h.provider),
		slog.Int("callback_port", h.port))

	if err := h.openBrowser(authURL); err != nil {
		h.logger.Warn("could not open browser, visit URL manually",
			slog.String("url", authURL), logging.Err(err))
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-time.After(h.timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.errMsg != "" {
		if res.errMsg == "access_denied" {
			return nil, ErrConsentDenied
		}
		return nil, fmt.Errorf("authflow: provider returned error: %s", res.errMsg)
	}
	if res.code == "" {
		return nil, errors.New("authflow: redirect carried no authorization code")
	}

	token, err := h.conf.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("authflow: code exchange failed: %w", err)
	}

	h.logger.Info("authorization complete",
		logging.Provider(h.provider),
		slog.String("access_token", logging.SanitizeToken(token.AccessToken)))

	return &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresIn:    int(time.Until(token.Expiry).Seconds()),
	}, nil
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// RefreshAccessToken exchanges a refresh token for a new access token via a
// direct token-endpoint POST. Providers that rotate refresh tokens return the
// replacement in Tokens.RefreshToken; otherwise it is empty and the caller
// keeps the old one.
func (h *Handler) RefreshAccessToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {h.conf.ClientID},
	}
	if h.conf.ClientSecret != "" {
		form.Set("client_secret", h.conf.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.conf.Endpoint.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("authflow: failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authflow: refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("authflow: failed to decode refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.Error != "" {
		return nil, fmt.Errorf("authflow: token refresh rejected (%d): %s %s",
			resp.StatusCode, body.Error, body.ErrorDesc)
	}

	h.logger.Debug("access token refreshed",
		logging.Provider(h.provider),
		slog.String("access_token", logging.SanitizeToken(body.AccessToken)))

	return &Tokens{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    body.TokenType,
		ExpiresIn:    body.ExpiresIn,
	}, nil
}

// RevokeToken asks the provider to invalidate a token. Google supports
// revocation; Microsoft has no comparable endpoint, so revocation there is a
// no-op and cleanup is local only.
func (h *Handler) RevokeToken(ctx context.Context, token string) error {
	if h.provider != ProviderGoogle {
		return nil
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://oauth2.googleapis.com/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("authflow: failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("authflow: revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authflow: revoke rejected with status %d", resp.StatusCode)
	}
	return nil
}

func openBrowser(u string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", u).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u).Start()
	default:
		return exec.Command("xdg-open", u).Start()
	}
}
