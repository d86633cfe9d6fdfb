// Package config loads and holds the archive's runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the archive.
type Config struct {
	ArchiveRoot          string         `json:"archive_root"`
	LockTTLSeconds       int            `json:"lock_ttl_seconds"`
	RetentionDays        int            `json:"retention_days,omitempty"`
	SoftDeleteGraceDays  int            `json:"soft_delete_grace_days"`
	ArchiveBeforeDelete  bool           `json:"archive_before_delete"`
	PricingHistoryPath   string         `json:"pricing_history_path,omitempty"`
	OpenRouterAPIKey     string         `json:"-"` // from env ARCHIVEKEEPER_OPENROUTER_API_KEY only
	MasterKeyEnv         string         `json:"master_key_env,omitempty"`
	TokenEncryptionKey   string         `json:"-"` // from env ARCHIVEKEEPER_TOKEN_ENCRYPTION_KEY only
	GoogleDrive          DriveConfig    `json:"google_drive,omitempty"`
	Sync                 SyncConfig     `json:"sync,omitempty"`
	Telemetry            TelemetryConfig `json:"telemetry,omitempty"`
	LogLevel             string         `json:"log_level,omitempty"`
	LogFormat            string         `json:"log_format,omitempty"`
	Executor             ExecutorConfig `json:"executor,omitempty"`
	Fetchers             FetcherConfig  `json:"fetchers,omitempty"`
	Summarizer           SummarizerConfig `json:"summarizer,omitempty"`
	APIKeys              APIKeyConfig   `json:"api_keys,omitempty"`

	mu sync.RWMutex
}

// FetcherConfig binds platform credentials for the reference message
// fetchers (spec §6.4).
type FetcherConfig struct {
	DiscordBotToken  string `json:"-"` // from env ARCHIVEKEEPER_DISCORD_BOT_TOKEN only
	TelegramBotToken string `json:"-"` // from env ARCHIVEKEEPER_TELEGRAM_BOT_TOKEN only
	ImportsDir       string `json:"imports_dir,omitempty"` // holds WhatsApp .txt/JSON exports and Telegram result.json exports, keyed by source folder
}

// SummarizerConfig selects the model an OpenRouterSummarizer calls.
type SummarizerConfig struct {
	APIBase string `json:"api_base,omitempty"` // defaults to OpenRouter's API root
	Model   string `json:"model,omitempty"`
}

// APIKeyConfig configures the closed-set key storage backends (spec §4.6).
type APIKeyConfig struct {
	FileBackendDir  string `json:"file_backend_dir,omitempty"`
	VaultAddr       string `json:"vault_addr,omitempty"`
	VaultPathPrefix string `json:"vault_path_prefix,omitempty"`
}

// DriveConfig is the legacy global sync fallback binding named directly in
// spec §6.5 (kept as a distinct, named option set even though the concrete
// provider implemented here is S3-compatible — see SyncConfig.Provider).
type DriveConfig struct {
	Enabled          bool   `json:"enabled,omitempty"`
	FolderID         string `json:"folder_id,omitempty"`
	CredentialsPath  string `json:"credentials_path,omitempty"`
	CreateSubfolders bool   `json:"create_subfolders,omitempty"`
	SubfolderNaming  string `json:"subfolder_naming,omitempty"` // default "{server_name}_{server_id}"
	SyncOnGeneration bool   `json:"sync_on_generation,omitempty"`
	SyncFrequency    string `json:"sync_frequency,omitempty"` // cron expression
}

// SyncConfig selects and configures the concrete sync mirror provider.
type SyncConfig struct {
	Provider        string `json:"provider,omitempty"` // "s3" (only supported value today)
	Bucket          string `json:"bucket,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"` // for S3-compatible non-AWS endpoints
	ConflictPolicy  string `json:"conflict_policy,omitempty"` // local_wins (default) | remote_wins | newest
	OAuthClientID   string `json:"oauth_client_id,omitempty"`
	OAuthClientSecret string `json:"-"` // from env ARCHIVEKEEPER_SYNC_OAUTH_CLIENT_SECRET only
	OAuthAuthURL    string `json:"oauth_auth_url,omitempty"`
	OAuthTokenURL   string `json:"oauth_token_url,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export for executor traces.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// ExecutorConfig tunes the retrospective executor's loop behavior.
type ExecutorConfig struct {
	InterPeriodDelayMS int `json:"inter_period_delay_ms,omitempty"` // default 250
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ArchiveRoot = src.ArchiveRoot
	c.LockTTLSeconds = src.LockTTLSeconds
	c.RetentionDays = src.RetentionDays
	c.SoftDeleteGraceDays = src.SoftDeleteGraceDays
	c.ArchiveBeforeDelete = src.ArchiveBeforeDelete
	c.PricingHistoryPath = src.PricingHistoryPath
	c.MasterKeyEnv = src.MasterKeyEnv
	c.GoogleDrive = src.GoogleDrive
	c.Sync = src.Sync
	c.Telemetry = src.Telemetry
	c.LogLevel = src.LogLevel
	c.LogFormat = src.LogFormat
	c.Executor = src.Executor
	c.Fetchers = src.Fetchers
	c.Summarizer = src.Summarizer
	c.APIKeys = src.APIKeys
}

// RLock/RUnlock expose the config's mutex for callers that read multiple
// fields together under one critical section.
func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }
