package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		ArchiveRoot:         "./summarybot-archive",
		LockTTLSeconds:      300,
		SoftDeleteGraceDays: 30,
		ArchiveBeforeDelete: true,
		LogLevel:            "info",
		LogFormat:           "text",
		Sync: SyncConfig{
			ConflictPolicy: "local_wins",
		},
		Executor: ExecutorConfig{
			InterPeriodDelayMS: 250,
		},
	}
}

// Load reads config from a JSON(5) file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values; secrets are never read from the file.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("ARCHIVEKEEPER_ARCHIVE_ROOT", &c.ArchiveRoot)
	envStr("ARCHIVEKEEPER_OPENROUTER_API_KEY", &c.OpenRouterAPIKey)
	envStr("ARCHIVEKEEPER_TOKEN_ENCRYPTION_KEY", &c.TokenEncryptionKey)
	envStr("ARCHIVEKEEPER_SYNC_OAUTH_CLIENT_SECRET", &c.Sync.OAuthClientSecret)
	envStr("ARCHIVEKEEPER_SYNC_BUCKET", &c.Sync.Bucket)
	envStr("ARCHIVEKEEPER_LOG_LEVEL", &c.LogLevel)
	envStr("ARCHIVEKEEPER_LOG_FORMAT", &c.LogFormat)
	envStr("ARCHIVEKEEPER_DISCORD_BOT_TOKEN", &c.Fetchers.DiscordBotToken)
	envStr("ARCHIVEKEEPER_TELEGRAM_BOT_TOKEN", &c.Fetchers.TelegramBotToken)

	if v := os.Getenv("ARCHIVEKEEPER_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	envStr("ARCHIVEKEEPER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
}

// Save writes the config to a JSON file via atomic temp-then-rename.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call after a live reload to restore runtime secrets from env.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}
