// Package accounts manages configured mail accounts: adding them through
// OAuth or password verification, removing them, and handing out connectors
// with an optional process-lifetime cache.
package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teemow/mailtriage/internal/authflow"
	"github.com/teemow/mailtriage/internal/config"
	"github.com/teemow/mailtriage/internal/connector"
	"github.com/teemow/mailtriage/internal/connector/gmail"
	"github.com/teemow/mailtriage/internal/connector/graph"
	"github.com/teemow/mailtriage/internal/connector/imap"
	"github.com/teemow/mailtriage/internal/instrumentation"
	"github.com/teemow/mailtriage/internal/logging"
	"github.com/teemow/mailtriage/internal/vault"
)

// Metadata keys for generic IMAP server settings.
const (
	keyIMAPAddr = "imap_addr"
	keySMTPHost = "smtp_host"
	keySMTPPort = "smtp_port"
)

// ConnectorFactory builds a fresh connector for an account. Replaceable in
// tests.
type ConnectorFactory func(ctx context.Context, accountID string, meta *vault.Metadata) (connector.Connector, error)

// Manager owns the connector cache and the add/remove/test account flows.
type Manager struct {
	vault   *vault.Vault
	cfg     *config.Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	factory ConnectorFactory

	mu    sync.Mutex
	cache map[string]connector.Connector
}

// New creates a Manager over the vault and configuration.
func New(v *vault.Vault, cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		vault:   v,
		cfg:     cfg,
		logger:  logger,
		metrics: &instrumentation.Metrics{},
		cache:   make(map[string]connector.Connector),
	}
	m.factory = m.buildConnector
	return m
}

// SetMetrics installs the shared metrics recorder. Without it, recording is
// a no-op.
func (m *Manager) SetMetrics(metrics *instrumentation.Metrics) {
	if metrics != nil {
		m.metrics = metrics
	}
}

// SetConnectorFactory replaces the connector factory. Test hook.
func (m *Manager) SetConnectorFactory(factory ConnectorFactory) {
	m.factory = factory
}

func (m *Manager) oauthHandler(provider string) (*authflow.Handler, error) {
	client, ok := m.cfg.OAuth[provider]
	if !ok {
		return nil, fmt.Errorf("no OAuth client configured for provider %s", provider)
	}
	return authflow.NewHandler(provider, client.ClientID, client.ClientSecret, m.cfg.CallbackPort, m.logger)
}

// buildConnector is the default factory keyed on the stored provider.
func (m *Manager) buildConnector(ctx context.Context, accountID string, meta *vault.Metadata) (connector.Connector, error) {
	switch meta.Provider {
	case authflow.ProviderGoogle, authflow.ProviderMicrosoft:
		handler, err := m.oauthHandler(meta.Provider)
		if err != nil {
			return nil, err
		}
		refresh := func(ctx context.Context, refreshToken string) (string, string, int, error) {
			tokens, err := handler.RefreshAccessToken(ctx, refreshToken)
			if err != nil {
				m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
				return "", "", 0, err
			}
			m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
			return tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresIn, nil
		}
		tokens := m.vault.NewTokenSource(ctx, accountID, refresh)
		if meta.Provider == authflow.ProviderGoogle {
			return gmail.New(accountID, tokens, m.logger), nil
		}
		return graph.New(accountID, tokens, m.logger), nil

	case "yahoo", "comcast", "generic":
		password, ok := m.vault.Get(accountID, vault.KindAppPassword)
		if !ok {
			return nil, fmt.Errorf("no app password stored for account %s", accountID)
		}
		var preset imap.Preset
		if meta.Provider == "generic" {
			port := 587
			fmt.Sscanf(meta.AdditionalData[keySMTPPort], "%d", &port)
			preset = imap.GenericPreset(meta.AdditionalData[keyIMAPAddr], meta.AdditionalData[keySMTPHost], port)
		} else {
			var err error
			preset, err = imap.PresetFor(meta.Provider)
			if err != nil {
				return nil, err
			}
		}
		return imap.New(preset, meta.Email, password, m.logger), nil

	default:
		return nil, fmt.Errorf("unsupported provider %s for account %s", meta.Provider, accountID)
	}
}

// AddAccountOAuth runs the interactive authorization flow for provider
// ("gmail" or "outlook") and stores the resulting tokens.
func (m *Manager) AddAccountOAuth(ctx context.Context, accountID, provider, email string) error {
	handler, err := m.oauthHandler(provider)
	if err != nil {
		return err
	}

	tokens, err := handler.StartAuthorizationFlow(ctx)
	if err != nil {
		m.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return fmt.Errorf("authorization failed for account %s: %w", accountID, err)
	}
	m.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)

	if err := m.vault.Store(accountID, provider, email, vault.KindOAuthAccessToken, tokens.AccessToken, nil); err != nil {
		return err
	}
	if err := m.vault.Store(accountID, provider, email, vault.KindOAuthRefreshToken, tokens.RefreshToken, nil); err != nil {
		return err
	}
	if err := m.vault.UpdateOAuthTokens(accountID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresIn); err != nil {
		return err
	}

	m.logger.Info("oauth account added",
		logging.Account(accountID),
		logging.Provider(provider),
		logging.UserHash(email),
		logging.Domain(email))
	return nil
}

// GenericServer carries the endpoints for a provider without a preset.
type GenericServer struct {
	IMAPAddr string
	SMTPHost string
	SMTPPort int
}

// AddAccountPassword stores an app password, then verifies it with a live
// connect and disconnect. On verification failure the stored credential is
// rolled back so the vault never keeps an unverified secret.
func (m *Manager) AddAccountPassword(ctx context.Context, accountID, provider, email, password string, generic *GenericServer) error {
	var additional map[string]string
	if provider == "generic" {
		if generic == nil {
			return fmt.Errorf("generic provider requires server settings")
		}
		additional = map[string]string{
			keyIMAPAddr: generic.IMAPAddr,
			keySMTPHost: generic.SMTPHost,
			keySMTPPort: fmt.Sprintf("%d", generic.SMTPPort),
		}
	}

	if err := m.vault.Store(accountID, provider, email, vault.KindAppPassword, password, additional); err != nil {
		return err
	}

	meta, err := m.vault.GetMetadata(accountID)
	if err != nil {
		return err
	}

	conn, err := m.factory(ctx, accountID, meta)
	if err == nil {
		err = conn.Connect(ctx)
		if err == nil {
			err = conn.Disconnect()
		}
	}
	if err != nil {
		if derr := m.vault.Delete(accountID); derr != nil {
			m.logger.Error("failed to roll back unverified account",
				logging.Account(accountID), logging.Err(derr))
		}
		return fmt.Errorf("verification failed for account %s: %w", accountID, err)
	}

	m.logger.Info("password account added",
		logging.Account(accountID),
		logging.Provider(provider),
		logging.UserHash(email),
		logging.Domain(email))
	return nil
}

// RemoveAccount disconnects and evicts any cached connector, then purges the
// account from the vault.
func (m *Manager) RemoveAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	if conn, ok := m.cache[accountID]; ok {
		if err := conn.Disconnect(); err != nil {
			m.logger.Warn("failed to disconnect cached connector",
				logging.Account(accountID), logging.Err(err))
		}
		delete(m.cache, accountID)
	}
	m.mu.Unlock()

	return m.vault.Delete(accountID)
}

// ListAccounts returns metadata for every configured account.
func (m *Manager) ListAccounts() (map[string]vault.Metadata, error) {
	return m.vault.ListAccounts()
}

// GetAccountMetadata returns the stored metadata for one account.
func (m *Manager) GetAccountMetadata(accountID string) (*vault.Metadata, error) {
	return m.vault.GetMetadata(accountID)
}

// GetConnector returns a connector for the account. cache=true reuses one
// process-lifetime instance per account and must only be used by sequential
// single-caller patterns; cache=false always builds a fresh, unshared
// instance.
func (m *Manager) GetConnector(ctx context.Context, accountID string, cache bool) (connector.Connector, error) {
	if cache {
		m.mu.Lock()
		if conn, ok := m.cache[accountID]; ok {
			m.mu.Unlock()
			return conn, nil
		}
		m.mu.Unlock()
	}

	meta, err := m.vault.GetMetadata(accountID)
	if err != nil {
		return nil, err
	}
	built, err := m.factory(ctx, accountID, meta)
	if err != nil {
		return nil, err
	}
	conn := connector.NewInstrumented(built, meta.Provider, m.metrics)

	if cache {
		m.mu.Lock()
		m.cache[accountID] = conn
		m.mu.Unlock()
	}
	return conn, nil
}

// AccountTestResult is the outcome of probing one account.
type AccountTestResult struct {
	Provider string                  `json:"provider"`
	Email    string                  `json:"email"`
	OK       bool                    `json:"ok"`
	Error    string                  `json:"error,omitempty"`
	Stats    *connector.MailboxStats `json:"stats,omitempty"`
}

// TestReport tallies a full account sweep.
type TestReport struct {
	Total      int                          `json:"total"`
	Successful int                          `json:"successful"`
	Failed     int                          `json:"failed"`
	Accounts   map[string]AccountTestResult `json:"accounts"`
}

// TestAllAccounts probes every configured account with a fresh connector.
// One account's failure never aborts the sweep.
func (m *Manager) TestAllAccounts(ctx context.Context) (*TestReport, error) {
	accounts, err := m.ListAccounts()
	if err != nil {
		return nil, err
	}

	report := &TestReport{Accounts: make(map[string]AccountTestResult, len(accounts))}
	for accountID, meta := range accounts {
		report.Total++
		result := AccountTestResult{Provider: meta.Provider, Email: meta.Email}

		conn, err := m.GetConnector(ctx, accountID, false)
		if err == nil {
			var stats *connector.MailboxStats
			stats, err = conn.GetMailboxStats(ctx)
			if err == nil {
				result.OK = true
				result.Stats = stats
			}
			_ = conn.Disconnect()
		}
		if err != nil {
			result.Error = err.Error()
			report.Failed++
			m.logger.Warn("account test failed",
				logging.Account(accountID), logging.Err(err))
		} else {
			report.Successful++
		}
		report.Accounts[accountID] = result
	}
	return report, nil
}
