// Package apikey resolves per-source OpenRouter API keys, falling back to
// a single default installation key, per spec §4.6. Grounded on
// original_source/archive/api_keys/resolver.py and api_keys/backends.py.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
)

// ErrNotImplemented is returned by backends that are declared but not yet
// wired to a real secret store (the Vault backend, per backends.py's own
// stub).
var ErrNotImplemented = errors.New("apikey: backend not implemented")

// Backend stores and retrieves one key reference's value. Grounded on
// backends.py's ApiKeyBackend abstract class.
type Backend interface {
	GetKey(ctx context.Context, keyRef string) (string, bool, error)
	SetKey(ctx context.Context, keyRef, value string) error
	DeleteKey(ctx context.Context, keyRef string) (bool, error)
	KeyExists(ctx context.Context, keyRef string) (bool, error)
}

// EnvVarBackend reads/writes OS environment variables. Key references use
// the form "env:VARIABLE_NAME".
type EnvVarBackend struct{}

func (EnvVarBackend) parseRef(keyRef string) string {
	return strings.TrimPrefix(keyRef, "env:")
}

func (b EnvVarBackend) GetKey(_ context.Context, keyRef string) (string, bool, error) {
	value, ok := os.LookupEnv(b.parseRef(keyRef))
	return value, ok && value != "", nil
}

func (b EnvVarBackend) SetKey(_ context.Context, keyRef, value string) error {
	return os.Setenv(b.parseRef(keyRef), value)
}

func (b EnvVarBackend) DeleteKey(_ context.Context, keyRef string) (bool, error) {
	name := b.parseRef(keyRef)
	if _, ok := os.LookupEnv(name); !ok {
		return false, nil
	}
	return true, os.Unsetenv(name)
}

func (b EnvVarBackend) KeyExists(_ context.Context, keyRef string) (bool, error) {
	_, ok := os.LookupEnv(b.parseRef(keyRef))
	return ok, nil
}

// EncryptedFileBackend stores keys as NaCl secretbox-sealed files under a
// directory. Key references use the form "file:relative/path". Grounded
// on backends.py's EncryptedFileBackend, with Fernet replaced by
// secretbox the same way tokenstore.go replaces it for OAuth tokens.
type EncryptedFileBackend struct {
	keysDir   string
	secretKey [32]byte
}

// NewEncryptedFileBackend returns a backend rooted at keysDir, keyed by
// masterKey (typically read from an env var named by the caller).
func NewEncryptedFileBackend(keysDir, masterKey string) (*EncryptedFileBackend, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("apikey: master key required for encrypted file backend")
	}
	var key [32]byte
	kdf := hkdf.New(sha256.New, []byte(masterKey), nil, []byte("archivekeeper-apikey-file"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return nil, fmt.Errorf("derive file backend key: %w", err)
	}
	return &EncryptedFileBackend{keysDir: keysDir, secretKey: key}, nil
}

func (b *EncryptedFileBackend) parseRef(keyRef string) string {
	name := strings.TrimPrefix(keyRef, "file:")
	return filepath.Join(b.keysDir, filepath.Clean("/"+name))
}

func (b *EncryptedFileBackend) GetKey(_ context.Context, keyRef string) (string, bool, error) {
	path := b.parseRef(keyRef)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read key file: %w", err)
	}
	if len(raw) < 24 {
		return "", false, fmt.Errorf("key file %s truncated", path)
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	decrypted, ok := secretbox.Open(nil, raw[24:], &nonce, &b.secretKey)
	if !ok {
		return "", false, fmt.Errorf("decrypt key file %s: authentication failed", path)
	}
	return string(decrypted), true, nil
}

func (b *EncryptedFileBackend) SetKey(_ context.Context, keyRef, value string) error {
	path := b.parseRef(keyRef)
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	encrypted := secretbox.Seal(nonce[:], []byte(value), &nonce, &b.secretKey)
	return layout.AtomicWriteFile(path, encrypted, 0o600)
}

func (b *EncryptedFileBackend) DeleteKey(_ context.Context, keyRef string) (bool, error) {
	path := b.parseRef(keyRef)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, os.Remove(path)
}

func (b *EncryptedFileBackend) KeyExists(_ context.Context, keyRef string) (bool, error) {
	_, err := os.Stat(b.parseRef(keyRef))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// VaultBackend is a declared-but-unimplemented HashiCorp Vault backend,
// matching backends.py's own VaultBackend stub: every method returns
// ErrNotImplemented until a real Vault client is wired in.
type VaultBackend struct {
	Addr       string
	PathPrefix string
}

func (VaultBackend) GetKey(context.Context, string) (string, bool, error) {
	return "", false, ErrNotImplemented
}
func (VaultBackend) SetKey(context.Context, string, string) error { return ErrNotImplemented }
func (VaultBackend) DeleteKey(context.Context, string) (bool, error) {
	return false, ErrNotImplemented
}
func (VaultBackend) KeyExists(context.Context, string) (bool, error) {
	return false, ErrNotImplemented
}

// BackendConfig resolves a key reference's prefix to a concrete Backend.
type BackendConfig struct {
	KeysDir        string
	FileMasterKey  string
	VaultAddr      string
	VaultPathPrefix string
}

// BackendFor returns the backend that owns keyRef, dispatching on its
// "scheme:" prefix the way backends.py's get_backend_for_ref does.
func BackendFor(keyRef string, cfg BackendConfig) (Backend, error) {
	switch {
	case strings.HasPrefix(keyRef, "file:"):
		keysDir := cfg.KeysDir
		if keysDir == "" {
			keysDir = "./data/keys"
		}
		return NewEncryptedFileBackend(keysDir, cfg.FileMasterKey)
	case strings.HasPrefix(keyRef, "vault:"):
		if cfg.VaultAddr == "" {
			return nil, fmt.Errorf("apikey: vault address not configured")
		}
		return VaultBackend{Addr: cfg.VaultAddr, PathPrefix: cfg.VaultPathPrefix}, nil
	default:
		return EnvVarBackend{}, nil
	}
}
