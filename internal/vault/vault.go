// Package vault owns all secret material and account metadata.
//
// Secrets live in the system keyring (macOS Keychain, Secret Service,
// wincred, or an encrypted file fallback), addressed by (account id,
// credential kind). Metadata (provider, email address, which credential
// kinds exist, token expiry) is persisted separately through a
// store.Repository and never contains secret values.
package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/mailtriage/internal/logging"
	"github.com/teemow/mailtriage/internal/store"
)

const serviceName = "mailtriage"

// Credential kinds in use.
const (
	KindAppPassword       = "app_password"
	KindOAuthAccessToken  = "oauth_access_token"
	KindOAuthRefreshToken = "oauth_refresh_token"
)

// ErrAccountNotFound is returned when no metadata exists for an account id.
var ErrAccountNotFound = errors.New("vault: account not found")

// Metadata describes one configured account. It intentionally carries no
// secret values, only which credential kinds are present.
type Metadata struct {
	Provider        string            `json:"provider"`
	Email           string            `json:"email"`
	CredentialTypes []string          `json:"credential_types"`
	TokenExpiry     string            `json:"token_expiry,omitempty"`
	AdditionalData  map[string]string `json:"additional_data,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasCredential reports whether kind is recorded for this account.
func (m *Metadata) HasCredential(kind string) bool {
	for _, k := range m.CredentialTypes {
		if k == kind {
			return true
		}
	}
	return false
}

// Vault stores secrets in a keyring and metadata in a repository.
type Vault struct {
	ring    keyring.Keyring
	meta    store.Repository
	logger  *slog.Logger
	refresh singleflight.Group
	now     func() time.Time
}

// New creates a Vault over the given keyring and metadata repository.
func New(ring keyring.Keyring, meta store.Repository, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		ring:   ring,
		meta:   meta,
		logger: logger,
		now:    time.Now,
	}
}

// Open creates a Vault backed by the OS keyring and a file repository under
// dataDir. The file keyring backend is the fallback for headless hosts.
func Open(dataDir string, logger *slog.Logger) (*Vault, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dataDir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	meta, err := store.NewFileRepository(filepath.Join(dataDir, "accounts"))
	if err != nil {
		return nil, err
	}

	return New(ring, meta, logger), nil
}

func secretKey(accountID, kind string) string {
	return accountID + "_" + kind
}

// Store saves a credential value and upserts the account metadata. Storing a
// new kind appends to the account's credential-kind set; existing kinds and
// unrelated metadata fields are left untouched.
func (v *Vault) Store(accountID, provider, email, kind, value string, additional map[string]string) error {
	if err := v.ring.Set(keyring.Item{
		Key:  secretKey(accountID, kind),
		Data: []byte(value),
	}); err != nil {
		return fmt.Errorf("failed to store %s for account %s: %w", kind, accountID, err)
	}

	meta, err := v.GetMetadata(accountID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		meta = &Metadata{
			Provider:  provider,
			Email:     email,
			CreatedAt: v.now(),
		}
	}

	if !meta.HasCredential(kind) {
		meta.CredentialTypes = append(meta.CredentialTypes, kind)
		sort.Strings(meta.CredentialTypes)
	}
	if len(additional) > 0 {
		if meta.AdditionalData == nil {
			meta.AdditionalData = make(map[string]string, len(additional))
		}
		for k, val := range additional {
			meta.AdditionalData[k] = val
		}
	}
	meta.UpdatedAt = v.now()

	if err := v.meta.Put(accountID, meta); err != nil {
		return fmt.Errorf("failed to save metadata for account %s: %w", accountID, err)
	}

	v.logger.Info("credential stored",
		logging.Account(accountID),
		slog.String("kind", kind),
		logging.UserHash(email))
	return nil
}

// Get retrieves a credential value. The second return is false when no value
// is stored for (accountID, kind); retrieval problems are logged, not raised.
func (v *Vault) Get(accountID, kind string) (string, bool) {
	item, err := v.ring.Get(secretKey(accountID, kind))
	if err != nil {
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			v.logger.Warn("credential lookup failed",
				logging.Account(accountID),
				slog.String("kind", kind),
				logging.Err(err))
		}
		return "", false
	}
	return string(item.Data), true
}

// Delete removes every stored credential kind for the account and then the
// metadata record. Individual secret deletions are retried once; remaining
// failures are logged and skipped so metadata cleanup always proceeds. The
// removal is therefore best-effort, not transactional.
func (v *Vault) Delete(accountID string) error {
	meta, err := v.GetMetadata(accountID)
	if err != nil {
		return err
	}

	var failed []string
	for _, kind := range meta.CredentialTypes {
		key := secretKey(accountID, kind)
		if err := v.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			// One retry before giving up on this kind
			if err := v.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
				failed = append(failed, kind)
				v.logger.Warn("failed to delete credential",
					logging.Account(accountID),
					slog.String("kind", kind),
					logging.Err(err))
			}
		}
	}

	if err := v.meta.Delete(accountID); err != nil {
		return fmt.Errorf("failed to delete metadata for account %s: %w", accountID, err)
	}

	v.logger.Info("account deleted",
		logging.Account(accountID),
		slog.Int("failed_secret_deletions", len(failed)))
	return nil
}

// ListAccounts returns the metadata of every configured account keyed by
// account id. Credential values are never included.
func (v *Vault) ListAccounts() (map[string]Metadata, error) {
	ids, err := v.meta.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := make(map[string]Metadata, len(ids))
	for _, id := range ids {
		var meta Metadata
		if err := v.meta.Get(id, &meta); err != nil {
			v.logger.Warn("skipping unreadable account metadata",
				logging.Account(id), logging.Err(err))
			continue
		}
		accounts[id] = meta
	}
	return accounts, nil
}

// GetMetadata returns the metadata record for one account.
func (v *Vault) GetMetadata(accountID string) (*Metadata, error) {
	var meta Metadata
	if err := v.meta.Get(accountID, &meta); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load metadata for account %s: %w", accountID, err)
	}
	return &meta, nil
}

// UpdateOAuthTokens stores fresh access and refresh tokens and records the
// access token expiry in metadata.
func (v *Vault) UpdateOAuthTokens(accountID, accessToken, refreshToken string, ttlSeconds int) error {
	meta, err := v.GetMetadata(accountID)
	if err != nil {
		return err
	}

	if err := v.Store(accountID, meta.Provider, meta.Email, KindOAuthAccessToken, accessToken, nil); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := v.Store(accountID, meta.Provider, meta.Email, KindOAuthRefreshToken, refreshToken, nil); err != nil {
			return err
		}
	}

	meta, err = v.GetMetadata(accountID)
	if err != nil {
		return err
	}
	meta.TokenExpiry = v.now().Add(time.Duration(ttlSeconds) * time.Second).Format(time.RFC3339)
	meta.UpdatedAt = v.now()
	if err := v.meta.Put(accountID, meta); err != nil {
		return fmt.Errorf("failed to save token expiry for account %s: %w", accountID, err)
	}

	v.logger.Info("oauth tokens updated",
		logging.Account(accountID),
		slog.String("access_token", logging.SanitizeToken(accessToken)),
		slog.Int("ttl_seconds", ttlSeconds))
	return nil
}

// IsTokenExpired reports whether the stored access token has expired.
// Missing or unparseable expiry metadata counts as expired (fail closed).
func (v *Vault) IsTokenExpired(accountID string) bool {
	meta, err := v.GetMetadata(accountID)
	if err != nil {
		return true
	}
	if meta.TokenExpiry == "" {
		return true
	}
	expiry, err := time.Parse(time.RFC3339, meta.TokenExpiry)
	if err != nil {
		v.logger.Warn("unparseable token expiry",
			logging.Account(accountID), logging.Err(err))
		return true
	}
	return !v.now().Before(expiry)
}

// WithRefreshLock serializes token refresh per account id. Concurrent callers
// for the same account share a single execution of fn, so a still-valid token
// is never refreshed twice and an older response cannot clobber a newer
// refresh token.
func (v *Vault) WithRefreshLock(accountID string, fn func() error) error {
	_, err, _ := v.refresh.Do(accountID, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
