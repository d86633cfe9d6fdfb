package apikey

import (
	"context"
	"testing"
)

func TestEnvVarBackend_RoundTrip(t *testing.T) {
	b := EnvVarBackend{}
	ctx := context.Background()
	ref := "env:ARCHIVEKEEPER_TEST_KEY_XYZ"

	if err := b.SetKey(ctx, ref, "secret-value"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	val, ok, err := b.GetKey(ctx, ref)
	if err != nil || !ok || val != "secret-value" {
		t.Fatalf("GetKey = (%q, %v, %v), want (secret-value, true, nil)", val, ok, err)
	}

	exists, err := b.KeyExists(ctx, ref)
	if err != nil || !exists {
		t.Fatalf("KeyExists = (%v, %v), want (true, nil)", exists, err)
	}

	deleted, err := b.DeleteKey(ctx, ref)
	if err != nil || !deleted {
		t.Fatalf("DeleteKey = (%v, %v), want (true, nil)", deleted, err)
	}

	_, ok, _ = b.GetKey(ctx, ref)
	if ok {
		t.Error("expected key to be gone after DeleteKey")
	}
}

func TestEncryptedFileBackend_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewEncryptedFileBackend(dir, "a-master-key")
	if err != nil {
		t.Fatalf("NewEncryptedFileBackend: %v", err)
	}
	ctx := context.Background()
	ref := "file:sources/discord-123.key"

	if err := backend.SetKey(ctx, ref, "sk-or-abc123"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	val, ok, err := backend.GetKey(ctx, ref)
	if err != nil || !ok || val != "sk-or-abc123" {
		t.Fatalf("GetKey = (%q, %v, %v), want (sk-or-abc123, true, nil)", val, ok, err)
	}

	exists, err := backend.KeyExists(ctx, ref)
	if err != nil || !exists {
		t.Fatalf("KeyExists = (%v, %v), want (true, nil)", exists, err)
	}

	deleted, err := backend.DeleteKey(ctx, ref)
	if err != nil || !deleted {
		t.Fatalf("DeleteKey = (%v, %v), want (true, nil)", deleted, err)
	}
}

func TestEncryptedFileBackend_WrongMasterKeyFailsDecryption(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewEncryptedFileBackend(dir, "master-a")
	if err != nil {
		t.Fatalf("NewEncryptedFileBackend: %v", err)
	}
	ctx := context.Background()
	ref := "file:a.key"
	if err := writer.SetKey(ctx, ref, "secret"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	reader, err := NewEncryptedFileBackend(dir, "master-b")
	if err != nil {
		t.Fatalf("NewEncryptedFileBackend: %v", err)
	}
	if _, _, err := reader.GetKey(ctx, ref); err == nil {
		t.Fatal("expected decryption to fail with the wrong master key")
	}
}

func TestNewEncryptedFileBackend_RequiresMasterKey(t *testing.T) {
	if _, err := NewEncryptedFileBackend(t.TempDir(), ""); err == nil {
		t.Fatal("expected an error for an empty master key")
	}
}

func TestVaultBackend_AlwaysNotImplemented(t *testing.T) {
	b := VaultBackend{Addr: "https://vault.example.com"}
	ctx := context.Background()
	if _, _, err := b.GetKey(ctx, "vault:foo"); err != ErrNotImplemented {
		t.Errorf("GetKey err = %v, want ErrNotImplemented", err)
	}
	if err := b.SetKey(ctx, "vault:foo", "x"); err != ErrNotImplemented {
		t.Errorf("SetKey err = %v, want ErrNotImplemented", err)
	}
}

func TestBackendFor_DispatchesByPrefix(t *testing.T) {
	if _, ok := mustBackendFor(t, "env:FOO", BackendConfig{}).(EnvVarBackend); !ok {
		t.Error("expected env: prefix to dispatch to EnvVarBackend")
	}
	if _, ok := mustBackendFor(t, "file:foo.key", BackendConfig{FileMasterKey: "k"}).(*EncryptedFileBackend); !ok {
		t.Error("expected file: prefix to dispatch to EncryptedFileBackend")
	}
	if _, ok := mustBackendFor(t, "nohint", BackendConfig{}).(EnvVarBackend); !ok {
		t.Error("expected an unprefixed ref to default to EnvVarBackend")
	}
}

func TestBackendFor_VaultRequiresAddr(t *testing.T) {
	if _, err := BackendFor("vault:foo", BackendConfig{}); err == nil {
		t.Fatal("expected an error when vault address is not configured")
	}
}

func mustBackendFor(t *testing.T, keyRef string, cfg BackendConfig) Backend {
	t.Helper()
	b, err := BackendFor(keyRef, cfg)
	if err != nil {
		t.Fatalf("BackendFor(%q): %v", keyRef, err)
	}
	return b
}
