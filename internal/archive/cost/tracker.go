package cost

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// MonthlyCost aggregates one source's spend for a single "YYYY-MM" month.
type MonthlyCost struct {
	CostUSD      float64 `json:"cost_usd"`
	Summaries    int     `json:"summaries"`
	TokensInput  int     `json:"tokens_input"`
	TokensOutput int     `json:"tokens_output"`
	APIKeySource string  `json:"api_key_source"`
}

// SourceCost is the running total and per-month breakdown for one source.
type SourceCost struct {
	ServerName   string                 `json:"server_name"`
	TotalCostUSD float64                `json:"total_cost_usd"`
	SummaryCount int                    `json:"summary_count"`
	APIKeySource string                 `json:"api_key_source"`
	APIKeyRef    string                 `json:"api_key_ref,omitempty"`
	Monthly      map[string]MonthlyCost `json:"monthly"`
	LastUpdated  time.Time              `json:"last_updated"`
}

// Estimate is a projected cost for a prospective backfill run.
type Estimate struct {
	Periods              int
	EstimatedCostUSD     float64
	AvgTokensPerSummary  int
	Model                string
	PricingVersion       string
}

// Report is the aggregate view returned by Tracker.Report.
type Report struct {
	Period         string         `json:"period"`
	TotalCostUSD   float64        `json:"total_cost_usd"`
	TotalSummaries int            `json:"total_summaries"`
	Sources        []SourceReport `json:"sources"`
}

// SourceReport is one row of Report.Sources.
type SourceReport struct {
	SourceKey    string      `json:"source_key"`
	ServerName   string      `json:"server_name"`
	TotalCostUSD float64     `json:"total_cost_usd"`
	SummaryCount int         `json:"summary_count"`
	CurrentMonth MonthlyCost `json:"current_month"`
	APIKeySource string      `json:"api_key_source"`
}

type ledgerFile struct {
	SchemaVersion  string                `json:"schema_version"`
	Currency       string                `json:"currency"`
	TotalCostUSD   float64               `json:"total_cost_usd"`
	TotalSummaries int                   `json:"total_summaries"`
	Sources        map[string]SourceCost `json:"sources"`
}

// Tracker records per-source, per-month costs to a JSON ledger on disk.
// Safe for concurrent use; every mutation is flushed atomically before
// returning.
type Tracker struct {
	mu             sync.Mutex
	path           string
	pricing        *Table
	sources        map[string]SourceCost
	totalCostUSD   float64
	totalSummaries int
}

// NewTracker loads (or initializes) a ledger at path, backed by pricing.
func NewTracker(path string, pricing *Table) (*Tracker, error) {
	t := &Tracker{path: path, pricing: pricing, sources: map[string]SourceCost{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read cost ledger: %w", err)
	}
	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cost ledger: %w", err)
	}
	t.totalCostUSD = f.TotalCostUSD
	t.totalSummaries = f.TotalSummaries
	if f.Sources != nil {
		t.sources = f.Sources
	}
	for key, sc := range t.sources {
		if sc.Monthly == nil {
			sc.Monthly = map[string]MonthlyCost{}
			t.sources[key] = sc
		}
	}
	return t, nil
}

// RecordCost appends one generation's cost to the ledger and persists it.
func (t *Tracker) RecordCost(entry model.CostEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	source, ok := t.sources[entry.SourceKey]
	if !ok {
		source = SourceCost{APIKeySource: entry.APIKeySource, Monthly: map[string]MonthlyCost{}}
	}
	if source.Monthly == nil {
		source.Monthly = map[string]MonthlyCost{}
	}

	monthKey := entry.Timestamp.UTC().Format("2006-01")
	monthly, ok := source.Monthly[monthKey]
	if !ok {
		monthly = MonthlyCost{APIKeySource: entry.APIKeySource}
	}

	source.TotalCostUSD += entry.CostUSD
	source.SummaryCount++
	source.LastUpdated = time.Now().UTC()

	monthly.CostUSD += entry.CostUSD
	monthly.Summaries++
	monthly.TokensInput += entry.TokensInput
	monthly.TokensOutput += entry.TokensOutput
	source.Monthly[monthKey] = monthly

	t.sources[entry.SourceKey] = source
	t.totalCostUSD += entry.CostUSD
	t.totalSummaries++

	return t.save()
}

// PricingTable returns the pricing table backing this tracker's cost
// calculations.
func (t *Tracker) PricingTable() *Table {
	return t.pricing
}

// SourceCost returns the recorded cost record for sourceKey, if any.
func (t *Tracker) SourceCost(sourceKey string) (SourceCost, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sc, ok := t.sources[sourceKey]
	return sc, ok
}

// MonthlyCost returns the month's cost record for sourceKey, if any.
func (t *Tracker) MonthlyCost(sourceKey string, year, month int) (MonthlyCost, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sc, ok := t.sources[sourceKey]
	if !ok {
		return MonthlyCost{}, false
	}
	mc, ok := sc.Monthly[fmt.Sprintf("%04d-%02d", year, month)]
	return mc, ok
}

// TotalCost returns the ledger-wide total spend.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCostUSD
}

// CurrentMonthCost returns sourceKey's spend for the current UTC month.
func (t *Tracker) CurrentMonthCost(sourceKey string) float64 {
	now := time.Now().UTC()
	mc, ok := t.MonthlyCost(sourceKey, now.Year(), int(now.Month()))
	if !ok {
		return 0
	}
	return mc.CostUSD
}

// EstimateBackfillCost projects the cost of running `periods` summary
// generations against model, assuming an 80/20 input/output token split.
func (t *Tracker) EstimateBackfillCost(periods int, modelName string, avgTokensPerSummary int) Estimate {
	if modelName == "" {
		modelName = "anthropic/claude-3-haiku"
	}
	if avgTokensPerSummary == 0 {
		avgTokensPerSummary = 5000
	}
	inputTokens := int(float64(avgTokensPerSummary) * 0.8)
	outputTokens := int(float64(avgTokensPerSummary) * 0.2)

	perSummaryCost, version := t.pricing.CalculateCost(modelName, inputTokens, outputTokens, time.Now().UTC())

	return Estimate{
		Periods:             periods,
		EstimatedCostUSD:    round(perSummaryCost*float64(periods), 4),
		AvgTokensPerSummary: avgTokensPerSummary,
		Model:               modelName,
		PricingVersion:      version,
	}
}

// CheckBudget reports whether sourceKey is within its monthly budget. A nil
// budget means unlimited: always within budget, remaining is +Inf.
func (t *Tracker) CheckBudget(sourceKey string, budgetMonthlyUSD *float64) (withinBudget bool, current, remaining float64) {
	if budgetMonthlyUSD == nil {
		return true, 0, math.Inf(1)
	}
	current = t.CurrentMonthCost(sourceKey)
	remaining = *budgetMonthlyUSD - current
	if remaining < 0 {
		remaining = 0
	}
	return current < *budgetMonthlyUSD, current, remaining
}

// Report builds a cost report across every tracked source for the current
// UTC month.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	monthKey := time.Now().UTC().Format("2006-01")
	r := Report{
		Period:         monthKey,
		TotalCostUSD:   round(t.totalCostUSD, 4),
		TotalSummaries: t.totalSummaries,
		Sources:        make([]SourceReport, 0, len(t.sources)),
	}
	for key, sc := range t.sources {
		r.Sources = append(r.Sources, SourceReport{
			SourceKey:    key,
			ServerName:   sc.ServerName,
			TotalCostUSD: round(sc.TotalCostUSD, 4),
			SummaryCount: sc.SummaryCount,
			CurrentMonth: sc.Monthly[monthKey],
			APIKeySource: sc.APIKeySource,
		})
	}
	return r
}

// save persists the ledger atomically. Callers must hold t.mu.
func (t *Tracker) save() error {
	out := make(map[string]SourceCost, len(t.sources))
	for k, v := range t.sources {
		v.TotalCostUSD = round(v.TotalCostUSD, 4)
		out[k] = v
	}
	f := ledgerFile{
		SchemaVersion:  "1.0.0",
		Currency:       "USD",
		TotalCostUSD:   round(t.totalCostUSD, 4),
		TotalSummaries: t.totalSummaries,
		Sources:        out,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cost ledger: %w", err)
	}
	return layout.AtomicWriteFile(t.path, data, 0o644)
}
