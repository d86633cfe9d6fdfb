package model

import (
	"encoding/json"
	"time"
)

// SummaryStatus is the lifecycle state of one (Source, Period) slot.
type SummaryStatus string

const (
	StatusPending    SummaryStatus = "pending"
	StatusGenerating SummaryStatus = "generating"
	StatusComplete   SummaryStatus = "complete"
	StatusIncomplete SummaryStatus = "incomplete"
	StatusDeleted    SummaryStatus = "deleted"
)

// IncompleteReasonCode is one of the stable error codes from spec §7.
type IncompleteReasonCode string

const (
	ReasonNoMessages            IncompleteReasonCode = "NO_MESSAGES"
	ReasonInsufficientMessages  IncompleteReasonCode = "INSUFFICIENT_MESSAGES"
	ReasonAPIError              IncompleteReasonCode = "API_ERROR"
	ReasonRateLimited           IncompleteReasonCode = "RATE_LIMITED"
	ReasonSourceInaccessible    IncompleteReasonCode = "SOURCE_INACCESSIBLE"
	ReasonPromptError           IncompleteReasonCode = "PROMPT_ERROR"
	ReasonExportUnavailable     IncompleteReasonCode = "EXPORT_UNAVAILABLE"
	ReasonBudgetExceeded        IncompleteReasonCode = "BUDGET_EXCEEDED"
)

// SummaryStatistics describes the message volume behind a summary.
type SummaryStatistics struct {
	MessageCount     int `json:"message_count"`
	ParticipantCount int `json:"participant_count"`
	WordCount        int `json:"word_count,omitempty"`
	AttachmentCount  int `json:"attachment_count,omitempty"`
}

// GenerationInfo records how a summary was produced. JSON shape nests
// tokens_input/tokens_output under "tokens_used" to match the archive's
// stable on-disk contract (spec §6.1).
type GenerationInfo struct {
	PromptVersion   string                 `json:"prompt_version"`
	PromptChecksum  string                 `json:"prompt_checksum"`
	Model           string                 `json:"model"`
	Options         map[string]interface{} `json:"options,omitempty"`
	DurationSeconds float64                `json:"duration_seconds"`
	TokensInput     int                    `json:"-"`
	TokensOutput    int                    `json:"-"`
	CostUSD         float64                `json:"cost_usd"`
	PricingVersion  string                 `json:"pricing_version"`
	APIKeyUsed      string                 `json:"api_key_used"`
	Provider        string                 `json:"provider"`
}

// TokensTotal is TokensInput + TokensOutput.
func (g GenerationInfo) TokensTotal() int { return g.TokensInput + g.TokensOutput }

type generationInfoWire struct {
	PromptVersion   string                 `json:"prompt_version"`
	PromptChecksum  string                 `json:"prompt_checksum"`
	Model           string                 `json:"model"`
	Options         map[string]interface{} `json:"options,omitempty"`
	DurationSeconds float64                `json:"duration_seconds"`
	TokensUsed      struct {
		Input  int `json:"input"`
		Output int `json:"output"`
	} `json:"tokens_used"`
	CostUSD        float64 `json:"cost_usd"`
	PricingVersion string  `json:"pricing_version"`
	APIKeyUsed     string  `json:"api_key_used"`
	Provider       string  `json:"provider"`
}

func (g GenerationInfo) MarshalJSON() ([]byte, error) {
	w := generationInfoWire{
		PromptVersion:   g.PromptVersion,
		PromptChecksum:  g.PromptChecksum,
		Model:           g.Model,
		Options:         g.Options,
		DurationSeconds: g.DurationSeconds,
		CostUSD:         g.CostUSD,
		PricingVersion:  g.PricingVersion,
		APIKeyUsed:      g.APIKeyUsed,
		Provider:        g.Provider,
	}
	w.TokensUsed.Input = g.TokensInput
	w.TokensUsed.Output = g.TokensOutput
	return json.Marshal(w)
}

func (g *GenerationInfo) UnmarshalJSON(data []byte) error {
	var w generationInfoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	g.PromptVersion = w.PromptVersion
	g.PromptChecksum = w.PromptChecksum
	g.Model = w.Model
	g.Options = w.Options
	g.DurationSeconds = w.DurationSeconds
	g.TokensInput = w.TokensUsed.Input
	g.TokensOutput = w.TokensUsed.Output
	g.CostUSD = w.CostUSD
	g.PricingVersion = w.PricingVersion
	g.APIKeyUsed = w.APIKeyUsed
	g.Provider = w.Provider
	return nil
}

// BackfillInfo records whether and why a summary was produced via backfill.
type BackfillInfo struct {
	IsBackfill               bool       `json:"is_backfill"`
	OriginalGenerationFailed bool       `json:"original_generation_failed,omitempty"`
	BackfilledAt             *time.Time `json:"backfilled_at,omitempty"`
	Reason                   string     `json:"reason,omitempty"`
}

// IncompleteInfo explains why a slot has no summary.
type IncompleteInfo struct {
	Code    IncompleteReasonCode   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// GenerationLock is the TTL lease a worker holds while generating a slot.
type GenerationLock struct {
	JobID      string    `json:"job_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	AcquiredBy string    `json:"acquired_by"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired reports whether the lock's TTL has elapsed.
func (l GenerationLock) IsExpired() bool {
	return time.Now().UTC().After(l.ExpiresAt)
}

// SummaryMetadata is the sidecar JSON document that accompanies every slot.
type SummaryMetadata struct {
	SummaryID            string              `json:"summary_id,omitempty"`
	GeneratedAt          *time.Time          `json:"generated_at,omitempty"`
	Period               Period              `json:"period"`
	Source               Source              `json:"source"`
	Status               SummaryStatus       `json:"status"`
	Statistics           *SummaryStatistics  `json:"statistics,omitempty"`
	Generation           *GenerationInfo     `json:"generation,omitempty"`
	Backfill             *BackfillInfo       `json:"backfill,omitempty"`
	IncompleteReason     *IncompleteInfo     `json:"incomplete_reason,omitempty"`
	Lock                 *GenerationLock     `json:"lock,omitempty"`
	ContentChecksum      string              `json:"-"`
	ReferencesValidated  bool                `json:"-"`
	BackfillEligible     bool                `json:"backfill_eligible"`
}

type integrityWire struct {
	ContentChecksum      string `json:"content_checksum"`
	ReferencesValidated  bool   `json:"references_validated"`
}

type summaryMetadataWire struct {
	SummaryID        string             `json:"summary_id,omitempty"`
	GeneratedAt      *time.Time         `json:"generated_at,omitempty"`
	Period           Period             `json:"period"`
	Source           Source             `json:"source"`
	Status           SummaryStatus      `json:"status"`
	Statistics       *SummaryStatistics `json:"statistics,omitempty"`
	Generation       *GenerationInfo    `json:"generation,omitempty"`
	Backfill         *BackfillInfo      `json:"backfill,omitempty"`
	IncompleteReason *IncompleteInfo    `json:"incomplete_reason,omitempty"`
	Lock             *GenerationLock    `json:"lock,omitempty"`
	Integrity        *integrityWire     `json:"integrity,omitempty"`
	BackfillEligible bool               `json:"backfill_eligible"`
}

func (m SummaryMetadata) MarshalJSON() ([]byte, error) {
	w := summaryMetadataWire{
		SummaryID:        m.SummaryID,
		GeneratedAt:      m.GeneratedAt,
		Period:           m.Period,
		Source:           m.Source,
		Status:           m.Status,
		Statistics:       m.Statistics,
		Generation:       m.Generation,
		Backfill:         m.Backfill,
		IncompleteReason: m.IncompleteReason,
		Lock:             m.Lock,
		BackfillEligible: m.BackfillEligible,
	}
	if m.ContentChecksum != "" {
		w.Integrity = &integrityWire{
			ContentChecksum:     m.ContentChecksum,
			ReferencesValidated: m.ReferencesValidated,
		}
	}
	return json.Marshal(w)
}

func (m *SummaryMetadata) UnmarshalJSON(data []byte) error {
	var w summaryMetadataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.SummaryID = w.SummaryID
	m.GeneratedAt = w.GeneratedAt
	m.Period = w.Period
	m.Source = w.Source
	m.Status = w.Status
	m.Statistics = w.Statistics
	m.Generation = w.Generation
	m.Backfill = w.Backfill
	m.IncompleteReason = w.IncompleteReason
	m.Lock = w.Lock
	m.BackfillEligible = w.BackfillEligible
	if w.Integrity != nil {
		m.ContentChecksum = w.Integrity.ContentChecksum
		m.ReferencesValidated = w.Integrity.ReferencesValidated
	}
	return nil
}
