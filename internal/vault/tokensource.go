package vault

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// RefreshFunc exchanges a refresh token for new tokens. newRefreshToken is
// empty when the provider did not rotate it.
type RefreshFunc func(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, ttlSeconds int, err error)

// TokenSource hands out the account's stored access token as an
// oauth2.TokenSource, refreshing through the vault's per-account refresh
// lock whenever the stored token has expired. Concurrent connector instances
// for one account share a single in-flight refresh.
type TokenSource struct {
	ctx       context.Context
	vault     *Vault
	accountID string
	refresh   RefreshFunc
}

var _ oauth2.TokenSource = (*TokenSource)(nil)

// NewTokenSource creates a token source for one account. ctx bounds the
// refresh calls made on behalf of later Token() invocations.
func (v *Vault) NewTokenSource(ctx context.Context, accountID string, refresh RefreshFunc) *TokenSource {
	return &TokenSource{ctx: ctx, vault: v, accountID: accountID, refresh: refresh}
}

// Token returns a valid access token, refreshing first when the stored one
// has expired.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	if s.vault.IsTokenExpired(s.accountID) {
		if err := s.doRefresh(true); err != nil {
			return nil, err
		}
	}

	access, ok := s.vault.Get(s.accountID, KindOAuthAccessToken)
	if !ok {
		return nil, fmt.Errorf("no access token stored for account %s", s.accountID)
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer"}, nil
}

// ForceRefresh refreshes even when the stored expiry still looks valid. Used
// for the single retry after a provider rejects a token as unauthorized.
func (s *TokenSource) ForceRefresh() error {
	return s.doRefresh(false)
}

func (s *TokenSource) doRefresh(skipIfFresh bool) error {
	return s.vault.WithRefreshLock(s.accountID, func() error {
		// Another caller may have refreshed while we waited on the lock
		if skipIfFresh && !s.vault.IsTokenExpired(s.accountID) {
			return nil
		}

		refreshToken, ok := s.vault.Get(s.accountID, KindOAuthRefreshToken)
		if !ok {
			return fmt.Errorf("no refresh token stored for account %s, re-authorization required", s.accountID)
		}

		access, newRefresh, ttl, err := s.refresh(s.ctx, refreshToken)
		if err != nil {
			return fmt.Errorf("token refresh failed for account %s: %w", s.accountID, err)
		}
		return s.vault.UpdateOAuthTokens(s.accountID, access, newRefresh, ttl)
	})
}
