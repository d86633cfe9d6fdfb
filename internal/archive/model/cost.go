package model

import "time"

// CostEntry is a single recorded generation cost, appended to the ledger.
type CostEntry struct {
	SourceKey      string    `json:"source_key"`
	SummaryID      string    `json:"summary_id"`
	Timestamp      time.Time `json:"timestamp"`
	Model          string    `json:"model"`
	TokensInput    int       `json:"tokens_input"`
	TokensOutput   int       `json:"tokens_output"`
	CostUSD        float64   `json:"cost_usd"`
	PricingVersion string    `json:"pricing_version"`
	APIKeySource   string    `json:"api_key_source"` // "server" or "default"
}
