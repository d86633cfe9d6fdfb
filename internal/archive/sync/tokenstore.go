package sync

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
)

// OAuthTokens is one provider's refresh/access token pair, as persisted by
// SecureTokenStore. Grounded on
// original_source/archive/sync/oauth.py's OAuthTokens dataclass.
type OAuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope"`
}

// IsExpired reports whether the access token is expired, or will expire
// within the next 5 minutes.
func (t OAuthTokens) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().UTC().After(t.ExpiresAt.Add(-5 * time.Minute))
}

var tokenIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SecureTokenStore persists OAuthTokens encrypted at rest under
// <archiveRoot>/.tokens/<token_id>.token. Grounded on oauth.py's
// SecureTokenStore, with Python's Fernet symmetric encryption replaced by
// NaCl secretbox: the 32-byte key is derived from
// ARCHIVEKEEPER_TOKEN_ENCRYPTION_KEY via HKDF-SHA256 rather than a raw SHA-256
// digest, so a short or low-entropy passphrase doesn't become the key
// verbatim.
type SecureTokenStore struct {
	dir       string
	secretKey [32]byte
}

// NewSecureTokenStore returns a token store rooted at archiveRoot, keyed by
// encryptionKey (typically ARCHIVEKEEPER_TOKEN_ENCRYPTION_KEY). An empty key
// derives an ephemeral random one: tokens survive this process only.
func NewSecureTokenStore(archiveRoot, encryptionKey string) (*SecureTokenStore, error) {
	dir := filepath.Join(archiveRoot, layout.TokensDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create token store directory: %w", err)
	}

	var keyMaterial []byte
	if encryptionKey == "" {
		random := make([]byte, 32)
		if _, err := rand.Read(random); err != nil {
			return nil, fmt.Errorf("generate ephemeral token key: %w", err)
		}
		keyMaterial = random
	} else {
		keyMaterial = []byte(encryptionKey)
	}

	var key [32]byte
	kdf := hkdf.New(sha256.New, keyMaterial, nil, []byte("archivekeeper-token-store"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return nil, fmt.Errorf("derive token encryption key: %w", err)
	}

	return &SecureTokenStore{dir: dir, secretKey: key}, nil
}

func (s *SecureTokenStore) tokenPath(tokenID string) string {
	safe := tokenIDUnsafe.ReplaceAllString(tokenID, "")
	return filepath.Join(s.dir, safe+".token")
}

// StoreTokens encrypts and persists tokens under tokenID.
func (s *SecureTokenStore) StoreTokens(tokenID string, tokens OAuthTokens) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	encrypted := secretbox.Seal(nonce[:], data, &nonce, &s.secretKey)

	return layout.AtomicWriteFile(s.tokenPath(tokenID), encrypted, 0o600)
}

// GetTokens decrypts and returns the tokens stored under tokenID, or false
// if none exist or decryption fails.
func (s *SecureTokenStore) GetTokens(tokenID string) (OAuthTokens, bool) {
	raw, err := os.ReadFile(s.tokenPath(tokenID))
	if err != nil {
		return OAuthTokens{}, false
	}
	if len(raw) < 24 {
		return OAuthTokens{}, false
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])

	decrypted, ok := secretbox.Open(nil, raw[24:], &nonce, &s.secretKey)
	if !ok {
		return OAuthTokens{}, false
	}

	var tokens OAuthTokens
	if err := json.Unmarshal(decrypted, &tokens); err != nil {
		return OAuthTokens{}, false
	}
	return tokens, true
}

// DeleteTokens removes the token file for tokenID, if present.
func (s *SecureTokenStore) DeleteTokens(tokenID string) (bool, error) {
	path := s.tokenPath(tokenID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("delete tokens: %w", err)
	}
	return true, nil
}

// HasTokens reports whether tokenID has a stored token file.
func (s *SecureTokenStore) HasTokens(tokenID string) bool {
	_, err := os.Stat(s.tokenPath(tokenID))
	return err == nil
}
