package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_HasSensibleDefaults(t *testing.T) {
	cfg := Default()
	if cfg.LockTTLSeconds != 300 {
		t.Errorf("LockTTLSeconds = %d, want 300", cfg.LockTTLSeconds)
	}
	if cfg.SoftDeleteGraceDays != 30 {
		t.Errorf("SoftDeleteGraceDays = %d, want 30", cfg.SoftDeleteGraceDays)
	}
	if cfg.Executor.InterPeriodDelayMS != 250 {
		t.Errorf("InterPeriodDelayMS = %d, want 250", cfg.Executor.InterPeriodDelayMS)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArchiveRoot != "./summarybot-archive" {
		t.Errorf("ArchiveRoot = %s, want default", cfg.ArchiveRoot)
	}
}

func TestLoad_ParsesJSON5AndOverlaysEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// json5 allows trailing commas and comments, unlike strict JSON.
	content := `{
		// archive root override
		"archive_root": "/data/archive",
		"retention_days": 90,
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ARCHIVEKEEPER_OPENROUTER_API_KEY", "test-key-123")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ArchiveRoot != "/data/archive" {
		t.Errorf("ArchiveRoot = %s, want /data/archive", cfg.ArchiveRoot)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.RetentionDays)
	}
	if cfg.OpenRouterAPIKey != "test-key-123" {
		t.Errorf("OpenRouterAPIKey = %s, want test-key-123 from env", cfg.OpenRouterAPIKey)
	}
}

func TestLoad_SecretsNeverComeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"archive_root": "/data"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenRouterAPIKey != "" {
		t.Errorf("expected no API key without an env var, got %q", cfg.OpenRouterAPIKey)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.ArchiveRoot = "/custom/root"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.ArchiveRoot != "/custom/root" {
		t.Errorf("ArchiveRoot = %s, want /custom/root", reloaded.ArchiveRoot)
	}
}

func TestSave_NeverWritesSecretFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.OpenRouterAPIKey = "should-not-be-persisted"
	cfg.Fetchers.DiscordBotToken = "also-secret"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "should-not-be-persisted") || strings.Contains(string(data), "also-secret") {
		t.Errorf("secret leaked into config file: %s", data)
	}
}

func TestReplaceFrom_CopiesNonSecretFields(t *testing.T) {
	c := Default()
	src := Default()
	src.ArchiveRoot = "/new/root"
	src.RetentionDays = 45

	c.ReplaceFrom(src)
	if c.ArchiveRoot != "/new/root" {
		t.Errorf("ArchiveRoot = %s, want /new/root", c.ArchiveRoot)
	}
	if c.RetentionDays != 45 {
		t.Errorf("RetentionDays = %d, want 45", c.RetentionDays)
	}
}

func TestFlexibleStringSlice_AcceptsStringsAndNumbers(t *testing.T) {
	var f FlexibleStringSlice
	if err := f.UnmarshalJSON([]byte(`["a", "b"]`)); err != nil {
		t.Fatalf("UnmarshalJSON (strings): %v", err)
	}
	if len(f) != 2 || f[0] != "a" || f[1] != "b" {
		t.Errorf("f = %v, want [a b]", f)
	}

	var g FlexibleStringSlice
	if err := g.UnmarshalJSON([]byte(`[123, 456]`)); err != nil {
		t.Fatalf("UnmarshalJSON (numbers): %v", err)
	}
	if len(g) != 2 || g[0] != "123" || g[1] != "456" {
		t.Errorf("g = %v, want [123 456]", g)
	}
}
