// Package cost implements the versioned pricing table and per-source cost
// ledger described in spec §4.4, grounded on
// original_source/archive/cost_tracker.py's PricingTable and CostTracker.
package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
)

// Rate is a per-1k-token input/output price pair.
type Rate struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// defaultRate is returned when a model has no pricing entry anywhere.
var defaultRate = Rate{Input: 0.003, Output: 0.015}

// staticPricing is the fallback table, effective from 2026-02-01, used when
// no pricing-history.json exists on disk yet.
var staticPricing = map[string]map[string]Rate{
	"2026-02-01": {
		"anthropic/claude-sonnet-4-20250514":  {Input: 0.003, Output: 0.015},
		"anthropic/claude-haiku-4-20250514":   {Input: 0.00025, Output: 0.00125},
		"anthropic/claude-3-haiku":            {Input: 0.00025, Output: 0.00125},
		"anthropic/claude-3.5-sonnet":         {Input: 0.003, Output: 0.015},
		"anthropic/claude-sonnet-4.5":         {Input: 0.003, Output: 0.015},
		"anthropic/claude-opus-4":             {Input: 0.015, Output: 0.075},
		"openai/gpt-4-turbo":                  {Input: 0.01, Output: 0.03},
	},
}

type pricingVersion struct {
	EffectiveFrom string          `json:"effective_from"`
	Models        map[string]Rate `json:"models"`
}

type pricingHistoryFile struct {
	SchemaVersion string           `json:"schema_version"`
	PricingSource string           `json:"pricing_source"`
	Versions      []pricingVersion `json:"versions"`
}

// Table is a versioned, date-indexed pricing lookup. Safe for concurrent use.
type Table struct {
	mu   sync.RWMutex
	path string
	byDate map[string]map[string]Rate // "2026-02-01" -> model -> rate
}

// NewTable loads a pricing table from path if it exists, falling back to the
// static table embedded above.
func NewTable(path string) (*Table, error) {
	t := &Table{path: path, byDate: map[string]map[string]Rate{}}
	if path == "" {
		t.byDate = cloneStatic()
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.byDate = cloneStatic()
			return t, nil
		}
		return nil, fmt.Errorf("read pricing history: %w", err)
	}
	var f pricingHistoryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pricing history: %w", err)
	}
	for _, v := range f.Versions {
		t.byDate[v.EffectiveFrom] = v.Models
	}
	if len(t.byDate) == 0 {
		t.byDate = cloneStatic()
	}
	return t, nil
}

func cloneStatic() map[string]map[string]Rate {
	out := make(map[string]map[string]Rate, len(staticPricing))
	for date, models := range staticPricing {
		m := make(map[string]Rate, len(models))
		for k, v := range models {
			m[k] = v
		}
		out[date] = m
	}
	return out
}

// GetPricing returns (inputPer1k, outputPer1k, pricingVersion) for model at
// timestamp. Walks versions newest-to-oldest and picks the last one not
// after timestamp, matching original_source's get_pricing.
func (t *Table) GetPricing(model string, timestamp time.Time) (input, output float64, version string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dates := make([]string, 0, len(t.byDate))
	for d := range t.byDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	var applicable map[string]Rate
	var applicableDate string
	for _, d := range dates {
		dt, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		if !dt.After(timestamp) {
			applicable = t.byDate[d]
			applicableDate = d
			break
		}
	}
	if applicable == nil && len(dates) > 0 {
		earliest := dates[len(dates)-1]
		applicable = t.byDate[earliest]
		applicableDate = earliest
	}
	if applicable == nil {
		return defaultRate.Input, defaultRate.Output, ""
	}
	if r, ok := applicable[model]; ok {
		return r.Input, r.Output, applicableDate
	}
	return defaultRate.Input, defaultRate.Output, applicableDate
}

// CalculateCost returns (costUSD rounded to 6 decimals, pricingVersion).
func (t *Table) CalculateCost(model string, tokensInput, tokensOutput int, timestamp time.Time) (float64, string) {
	inRate, outRate, version := t.GetPricing(model, timestamp)
	cost := (float64(tokensInput)/1000)*inRate + (float64(tokensOutput)/1000)*outRate
	return round(cost, 6), version
}

// RefreshFromOpenRouter fetches current model pricing from OpenRouter and
// records it under today's date, persisting to disk if a path was given.
// Returns whether the table was updated.
func (t *Table) RefreshFromOpenRouter(ctx context.Context, apiKey string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://openrouter.ai/api/v1/models", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch openrouter pricing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("openrouter pricing: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	var payload struct {
		Data []struct {
			ID      string `json:"id"`
			Pricing struct {
				Prompt     string `json:"prompt"`
				Completion string `json:"completion"`
			} `json:"pricing"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("parse openrouter response: %w", err)
	}

	models := map[string]Rate{}
	for _, m := range payload.Data {
		if m.ID == "" {
			continue
		}
		var prompt, completion float64
		fmt.Sscanf(m.Pricing.Prompt, "%g", &prompt)
		fmt.Sscanf(m.Pricing.Completion, "%g", &completion)
		if prompt == 0 && completion == 0 {
			continue
		}
		models[m.ID] = Rate{Input: prompt * 1000, Output: completion * 1000}
	}
	if len(models) == 0 {
		return false, nil
	}

	today := time.Now().UTC().Format("2006-01-02")

	t.mu.Lock()
	t.byDate[today] = models
	t.mu.Unlock()

	if t.path != "" {
		if err := t.save(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *Table) save() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dates := make([]string, 0, len(t.byDate))
	for d := range t.byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	f := pricingHistoryFile{
		SchemaVersion: "1.0.0",
		PricingSource: "openrouter",
		Versions:      make([]pricingVersion, 0, len(dates)),
	}
	for _, d := range dates {
		f.Versions = append(f.Versions, pricingVersion{EffectiveFrom: d, Models: t.byDate[d]})
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pricing history: %w", err)
	}
	return layout.AtomicWriteFile(t.path, data, 0o644)
}

func round(v float64, decimals int) float64 {
	scale := 1.0
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	return float64(int64(v*scale+sign(v)*0.5)) / scale
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
