package sync

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// pendingStateTTL matches oauth.py's OAuthState: state tokens are only
// valid for 10 minutes after issue.
const pendingStateTTL = 10 * time.Minute

// state is one in-flight authorization request, held only long enough to
// validate the callback's CSRF token.
type state struct {
	sourceKey   string
	redirectURI string
	createdAt   time.Time
}

func (s state) isExpired() bool {
	return time.Now().UTC().After(s.createdAt.Add(pendingStateTTL))
}

// OAuthFlow drives an authorization-code OAuth2 exchange for one sync
// provider's remote account, storing the resulting tokens in a
// SecureTokenStore. Grounded on
// original_source/archive/sync/oauth.py's GoogleOAuthFlow, generalized
// from a Google-specific client to golang.org/x/oauth2.Config so any
// OAuth2 provider (not just Drive) can be wired in.
type OAuthFlow struct {
	config *oauth2.Config
	store  *SecureTokenStore

	mu     sync.Mutex
	states map[string]state
}

// NewOAuthFlow returns a flow that exchanges codes per config and persists
// tokens through store.
func NewOAuthFlow(config *oauth2.Config, store *SecureTokenStore) *OAuthFlow {
	return &OAuthFlow{config: config, store: store, states: map[string]state{}}
}

// IsConfigured reports whether a client ID/secret have been set.
func (f *OAuthFlow) IsConfigured() bool {
	return f.config.ClientID != "" && f.config.ClientSecret != ""
}

// GenerateAuthURL returns the URL the user should visit to authorize
// access for sourceKey, and the state token embedded in it.
func (f *OAuthFlow) GenerateAuthURL(sourceKey string) (authURL, stateToken string, err error) {
	if !f.IsConfigured() {
		return "", "", fmt.Errorf("oauth: not configured")
	}

	stateToken, err = randomURLSafe(32)
	if err != nil {
		return "", "", fmt.Errorf("generate state token: %w", err)
	}

	f.mu.Lock()
	f.cleanupExpiredStatesLocked()
	f.states[stateToken] = state{
		sourceKey:   sourceKey,
		redirectURI: f.config.RedirectURL,
		createdAt:   time.Now().UTC(),
	}
	f.mu.Unlock()

	authURL = f.config.AuthCodeURL(stateToken, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return authURL, stateToken, nil
}

// ValidateState looks up and consumes (one-time use) a pending state
// token, returning the sourceKey it was issued for.
func (f *OAuthFlow) ValidateState(stateToken string) (sourceKey string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, found := f.states[stateToken]
	if !found {
		return "", false
	}
	delete(f.states, stateToken)
	if s.isExpired() {
		return "", false
	}
	return s.sourceKey, true
}

func (f *OAuthFlow) cleanupExpiredStatesLocked() {
	for token, s := range f.states {
		if s.isExpired() {
			delete(f.states, token)
		}
	}
}

// tokenID is the on-disk token identifier for a source's sync account.
func tokenID(sourceKey string) string {
	return fmt.Sprintf("%s_sync", sourceKey)
}

// ExchangeCode trades an authorization code for tokens and persists them
// under sourceKey's token ID.
func (f *OAuthFlow) ExchangeCode(ctx context.Context, sourceKey, code string) (OAuthTokens, error) {
	tok, err := f.config.Exchange(ctx, code)
	if err != nil {
		return OAuthTokens{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	tokens := fromOAuth2Token(tok)
	if err := f.store.StoreTokens(tokenID(sourceKey), tokens); err != nil {
		return OAuthTokens{}, fmt.Errorf("store tokens: %w", err)
	}
	return tokens, nil
}

// RefreshTokens refreshes sourceKey's access token using its stored
// refresh token, persisting the result.
func (f *OAuthFlow) RefreshTokens(ctx context.Context, sourceKey string) (OAuthTokens, error) {
	existing, ok := f.store.GetTokens(tokenID(sourceKey))
	if !ok || existing.RefreshToken == "" {
		return OAuthTokens{}, fmt.Errorf("oauth: no refresh token for %s", sourceKey)
	}

	src := f.config.TokenSource(ctx, &oauth2.Token{RefreshToken: existing.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return OAuthTokens{}, fmt.Errorf("refresh token: %w", err)
	}

	refreshed := fromOAuth2Token(tok)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = existing.RefreshToken
	}
	if err := f.store.StoreTokens(tokenID(sourceKey), refreshed); err != nil {
		return OAuthTokens{}, fmt.Errorf("store refreshed tokens: %w", err)
	}
	return refreshed, nil
}

// GetValidTokens returns sourceKey's current tokens, refreshing them first
// if expired.
func (f *OAuthFlow) GetValidTokens(ctx context.Context, sourceKey string) (OAuthTokens, bool) {
	tokens, ok := f.store.GetTokens(tokenID(sourceKey))
	if !ok {
		return OAuthTokens{}, false
	}
	if tokens.IsExpired() {
		refreshed, err := f.RefreshTokens(ctx, sourceKey)
		if err != nil {
			return OAuthTokens{}, false
		}
		return refreshed, true
	}
	return tokens, true
}

// Disconnect removes sourceKey's stored tokens.
func (f *OAuthFlow) Disconnect(sourceKey string) (bool, error) {
	return f.store.DeleteTokens(tokenID(sourceKey))
}

func fromOAuth2Token(tok *oauth2.Token) OAuthTokens {
	return OAuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
