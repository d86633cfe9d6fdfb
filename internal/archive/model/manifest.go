package model

import (
	"encoding/json"
	"time"
)

// SourceManifest is the per-source manifest (server-manifest.json etc.):
// ambient defaults for timezone/granularity/prompt/cost/API-key binding.
// It is authoritative over ambient defaults but never over a sidecar's own
// recorded generation metadata (spec §3).
type SourceManifest struct {
	SourceType             SourceType `json:"source_type"`
	ServerID               string     `json:"server_id"`
	ServerName             string     `json:"server_name"`
	DefaultTimezone        string     `json:"default_timezone"`
	DefaultGranularity     string     `json:"default_granularity"`
	PromptVersionCurrent   string     `json:"-"`
	PromptChecksumCurrent  string     `json:"-"`
	PromptUpdatedAt        *time.Time `json:"-"`
	CostTrackingEnabled    bool       `json:"-"`
	BudgetMonthlyUSD       *float64   `json:"-"`
	AlertThresholdPercent  int        `json:"-"`
	Priority               int        `json:"-"`
	OpenRouterKeyRef       string     `json:"-"`
	UseServerKey           bool       `json:"-"`
	FallbackToDefault      bool       `json:"-"`
}

type promptVersionWire struct {
	Version   string     `json:"version,omitempty"`
	Checksum  string     `json:"checksum,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type costTrackingWire struct {
	Enabled               bool     `json:"enabled"`
	BudgetMonthlyUSD      *float64 `json:"budget_monthly_usd,omitempty"`
	AlertThresholdPercent int      `json:"alert_threshold_percent"`
	Priority              int      `json:"priority"`
}

type apiKeysWire struct {
	OpenRouterKeyRef  string `json:"openrouter_key_ref,omitempty"`
	UseServerKey      bool   `json:"use_server_key"`
	FallbackToDefault bool   `json:"fallback_to_default"`
}

type sourceManifestWire struct {
	SourceType         SourceType         `json:"source_type"`
	ServerID           string             `json:"server_id"`
	ServerName         string             `json:"server_name"`
	DefaultTimezone    string             `json:"default_timezone"`
	DefaultGranularity string             `json:"default_granularity"`
	PromptVersions     *struct {
		Current promptVersionWire `json:"current"`
	} `json:"prompt_versions,omitempty"`
	CostTracking costTrackingWire `json:"cost_tracking"`
	APIKeys      apiKeysWire      `json:"api_keys"`
}

func (m SourceManifest) MarshalJSON() ([]byte, error) {
	w := sourceManifestWire{
		SourceType:         m.SourceType,
		ServerID:           m.ServerID,
		ServerName:         m.ServerName,
		DefaultTimezone:    m.DefaultTimezone,
		DefaultGranularity: m.DefaultGranularity,
		CostTracking: costTrackingWire{
			Enabled:               m.CostTrackingEnabled,
			BudgetMonthlyUSD:      m.BudgetMonthlyUSD,
			AlertThresholdPercent: m.AlertThresholdPercent,
			Priority:              m.Priority,
		},
		APIKeys: apiKeysWire{
			OpenRouterKeyRef:  m.OpenRouterKeyRef,
			UseServerKey:      m.UseServerKey,
			FallbackToDefault: m.FallbackToDefault,
		},
	}
	if m.PromptVersionCurrent != "" {
		w.PromptVersions = &struct {
			Current promptVersionWire `json:"current"`
		}{Current: promptVersionWire{
			Version:   m.PromptVersionCurrent,
			Checksum:  m.PromptChecksumCurrent,
			UpdatedAt: m.PromptUpdatedAt,
		}}
	}
	return json.Marshal(w)
}

func (m *SourceManifest) UnmarshalJSON(data []byte) error {
	var w sourceManifestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.SourceType = w.SourceType
	m.ServerID = w.ServerID
	m.ServerName = w.ServerName
	m.DefaultTimezone = w.DefaultTimezone
	if m.DefaultTimezone == "" {
		m.DefaultTimezone = "UTC"
	}
	m.DefaultGranularity = w.DefaultGranularity
	if m.DefaultGranularity == "" {
		m.DefaultGranularity = "daily"
	}
	if w.PromptVersions != nil {
		m.PromptVersionCurrent = w.PromptVersions.Current.Version
		m.PromptChecksumCurrent = w.PromptVersions.Current.Checksum
		m.PromptUpdatedAt = w.PromptVersions.Current.UpdatedAt
	}
	m.CostTrackingEnabled = w.CostTracking.Enabled
	m.BudgetMonthlyUSD = w.CostTracking.BudgetMonthlyUSD
	m.AlertThresholdPercent = w.CostTracking.AlertThresholdPercent
	if m.AlertThresholdPercent == 0 {
		m.AlertThresholdPercent = 80
	}
	m.Priority = w.CostTracking.Priority
	if m.Priority == 0 {
		m.Priority = 2
	}
	m.OpenRouterKeyRef = w.APIKeys.OpenRouterKeyRef
	m.UseServerKey = w.APIKeys.UseServerKey
	m.FallbackToDefault = w.APIKeys.FallbackToDefault
	return nil
}

// SourceSummary is one entry in ArchiveManifest.Sources.
type SourceSummary struct {
	SourceType   SourceType `json:"source_type"`
	ServerID     string     `json:"server_id"`
	ServerName   string     `json:"server_name"`
	Folder       string     `json:"folder"`
	SummaryCount int        `json:"summary_count,omitempty"`
}

// ArchiveManifest is the root-level manifest.json.
type ArchiveManifest struct {
	SchemaVersion   string          `json:"schema_version"`
	CreatedAt       time.Time       `json:"created_at"`
	LastUpdated     time.Time       `json:"last_updated"`
	GeneratorName   string          `json:"-"`
	GeneratorVersion string         `json:"-"`
	Sources         []SourceSummary `json:"sources"`
}

type generatorWire struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type archiveManifestWire struct {
	SchemaVersion string          `json:"schema_version"`
	CreatedAt     time.Time       `json:"created_at"`
	LastUpdated   time.Time       `json:"last_updated"`
	Generator     generatorWire   `json:"generator"`
	Sources       []SourceSummary `json:"sources"`
}

func (m ArchiveManifest) MarshalJSON() ([]byte, error) {
	w := archiveManifestWire{
		SchemaVersion: m.SchemaVersion,
		CreatedAt:     m.CreatedAt,
		LastUpdated:   m.LastUpdated,
		Generator:     generatorWire{Name: m.GeneratorName, Version: m.GeneratorVersion},
		Sources:       m.Sources,
	}
	return json.Marshal(w)
}

func (m *ArchiveManifest) UnmarshalJSON(data []byte) error {
	var w archiveManifestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.SchemaVersion = w.SchemaVersion
	if m.SchemaVersion == "" {
		m.SchemaVersion = "1.0.0"
	}
	m.CreatedAt = w.CreatedAt
	m.LastUpdated = w.LastUpdated
	m.GeneratorName = w.Generator.Name
	m.GeneratorVersion = w.Generator.Version
	m.Sources = w.Sources
	return nil
}

// NewArchiveManifest returns a fresh manifest with defaults applied.
func NewArchiveManifest() ArchiveManifest {
	now := time.Now().UTC()
	return ArchiveManifest{
		SchemaVersion:    "1.0.0",
		CreatedAt:        now,
		LastUpdated:      now,
		GeneratorName:    "archivekeeper",
		GeneratorVersion: "1.0.0",
		Sources:          []SourceSummary{},
	}
}
