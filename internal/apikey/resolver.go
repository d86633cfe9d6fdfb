package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// keyCacheTTL matches resolver.py's 5-minute fetched-key cache.
const keyCacheTTL = 5 * time.Minute

// validationCacheTTL matches resolver.py's 1-hour validation result cache.
const validationCacheTTL = time.Hour

// KeySource identifies where a resolved key came from.
type KeySource string

const (
	KeySourceServer  KeySource = "server"
	KeySourceDefault KeySource = "default"
)

// KeyResolver is the closed interface consumers (the executor, the CLI)
// depend on, per spec §6.4.
type KeyResolver interface {
	GetKeyForSource(ctx context.Context, sourceKey string, manifest *model.SourceManifest) (ResolvedKey, error)
}

// ResolvedKey is the result of resolving a key for a source. Grounded on
// resolver.py's ResolvedKey dataclass.
type ResolvedKey struct {
	Key       string
	Source    KeySource
	SourceKey string
	KeyRef    string
}

// APIKeyUsed formats this key's attribution for the cost ledger.
func (r ResolvedKey) APIKeyUsed() string {
	if r.Source == KeySourceServer {
		return fmt.Sprintf("server:%s", r.SourceKey)
	}
	return "default"
}

type cachedKey struct {
	value     string
	expiresAt time.Time
}

type cachedValidation struct {
	valid     bool
	expiresAt time.Time
}

// Resolver resolves the API key for a generation request, preferring a
// source-specific key over a shared default. Grounded on
// resolver.py's ApiKeyResolver.
type Resolver struct {
	defaultKey    string
	backendConfig BackendConfig
	httpClient    *http.Client

	mu               sync.Mutex
	keyCache         map[string]cachedKey
	validationCache  map[string]cachedValidation
}

// NewResolver returns a Resolver. defaultKey is the installation-wide
// fallback OpenRouter key.
func NewResolver(defaultKey string, backendConfig BackendConfig) *Resolver {
	return &Resolver{
		defaultKey:      defaultKey,
		backendConfig:   backendConfig,
		httpClient:      &http.Client{Timeout: 5 * time.Second},
		keyCache:        map[string]cachedKey{},
		validationCache: map[string]cachedValidation{},
	}
}

// GetKeyForSource resolves sourceKey's key per spec §6.4's KeyResolver
// interface: a server-specific key if the manifest opts in and it
// validates, otherwise the default key.
func (r *Resolver) GetKeyForSource(ctx context.Context, sourceKey string, manifest *model.SourceManifest) (ResolvedKey, error) {
	if manifest != nil && manifest.UseServerKey && manifest.OpenRouterKeyRef != "" {
		key, err := r.fetchKey(ctx, manifest.OpenRouterKeyRef)
		if err == nil && key != "" {
			if r.validateKey(ctx, key) {
				return ResolvedKey{
					Key:       key,
					Source:    KeySourceServer,
					SourceKey: sourceKey,
					KeyRef:    manifest.OpenRouterKeyRef,
				}, nil
			}
		} else if err != nil && !manifest.FallbackToDefault {
			return ResolvedKey{}, fmt.Errorf("server key fetch failed and fallback disabled for %s: %w", sourceKey, err)
		}
	}

	if r.defaultKey == "" {
		return ResolvedKey{}, fmt.Errorf("apikey: no key available for %s (no server key and no default key)", sourceKey)
	}
	return ResolvedKey{
		Key:       r.defaultKey,
		Source:    KeySourceDefault,
		SourceKey: sourceKey,
		KeyRef:    "default",
	}, nil
}

func (r *Resolver) fetchKey(ctx context.Context, keyRef string) (string, error) {
	r.mu.Lock()
	if cached, ok := r.keyCache[keyRef]; ok && time.Now().UTC().Before(cached.expiresAt) {
		r.mu.Unlock()
		return cached.value, nil
	}
	r.mu.Unlock()

	backend, err := BackendFor(keyRef, r.backendConfig)
	if err != nil {
		return "", err
	}
	key, found, err := backend.GetKey(ctx, keyRef)
	if err != nil {
		return "", fmt.Errorf("fetch key %s: %w", keyRef, err)
	}
	if !found {
		return "", nil
	}

	r.mu.Lock()
	r.keyCache[keyRef] = cachedKey{value: key, expiresAt: time.Now().UTC().Add(keyCacheTTL)}
	r.mu.Unlock()

	return key, nil
}

// validateKey checks a key against OpenRouter's auth endpoint, caching the
// result for an hour. Network errors are treated as "assume valid" per
// resolver.py's own fail-open behavior, since a validation outage
// shouldn't block generation.
func (r *Resolver) validateKey(ctx context.Context, key string) bool {
	hash := keyHash(key)

	r.mu.Lock()
	if cached, ok := r.validationCache[hash]; ok && time.Now().UTC().Before(cached.expiresAt) {
		r.mu.Unlock()
		return cached.valid
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://openrouter.ai/api/v1/auth/key", nil)
	if err != nil {
		return true
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()

	valid := resp.StatusCode == http.StatusOK

	r.mu.Lock()
	r.validationCache[hash] = cachedValidation{valid: valid, expiresAt: time.Now().UTC().Add(validationCacheTTL)}
	r.mu.Unlock()

	return valid
}

func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// SetServerKey stores apiKey under keyRef (auto-generated from sourceKey
// if empty) and invalidates any cached value for it.
func (r *Resolver) SetServerKey(ctx context.Context, sourceKey, apiKey, keyRef string) (string, error) {
	if keyRef == "" {
		keyRef = fmt.Sprintf("env:OPENROUTER_KEY_%s", envSafe(sourceKey))
	}
	backend, err := BackendFor(keyRef, r.backendConfig)
	if err != nil {
		return "", err
	}
	if err := backend.SetKey(ctx, keyRef, apiKey); err != nil {
		return "", fmt.Errorf("set server key: %w", err)
	}

	r.mu.Lock()
	delete(r.keyCache, keyRef)
	delete(r.validationCache, keyHash(apiKey))
	r.mu.Unlock()

	return keyRef, nil
}

// RemoveServerKey deletes the key stored under keyRef.
func (r *Resolver) RemoveServerKey(ctx context.Context, keyRef string) (bool, error) {
	backend, err := BackendFor(keyRef, r.backendConfig)
	if err != nil {
		return false, err
	}
	deleted, err := backend.DeleteKey(ctx, keyRef)
	if err != nil {
		return false, fmt.Errorf("remove server key: %w", err)
	}

	r.mu.Lock()
	delete(r.keyCache, keyRef)
	r.mu.Unlock()

	return deleted, nil
}

// ClearCaches drops every cached key and validation result.
func (r *Resolver) ClearCaches() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyCache = map[string]cachedKey{}
	r.validationCache = map[string]cachedValidation{}
}

func envSafe(sourceKey string) string {
	out := make([]rune, 0, len(sourceKey))
	for _, c := range sourceKey {
		if c == ':' || c == '-' {
			out = append(out, '_')
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
