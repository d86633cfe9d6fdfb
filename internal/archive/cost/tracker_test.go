package cost

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

func TestTracker_RecordCost_AccumulatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cost-ledger.json")

	pricing, err := NewTable("")
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	tracker, err := NewTracker(path, pricing)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	entry := model.CostEntry{
		SourceKey:    "discord:123",
		SummaryID:    "sum_1",
		Timestamp:    time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
		Model:        "anthropic/claude-3-haiku",
		TokensInput:  1000,
		TokensOutput: 200,
		CostUSD:      0.01,
		APIKeySource: "default",
	}
	if err := tracker.RecordCost(entry); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}
	if err := tracker.RecordCost(entry); err != nil {
		t.Fatalf("RecordCost (2nd): %v", err)
	}

	if total := tracker.TotalCost(); total != 0.02 {
		t.Errorf("TotalCost = %v, want 0.02", total)
	}

	sc, ok := tracker.SourceCost("discord:123")
	if !ok {
		t.Fatal("expected a recorded SourceCost")
	}
	if sc.SummaryCount != 2 {
		t.Errorf("SummaryCount = %d, want 2", sc.SummaryCount)
	}

	// Reload from disk to confirm persistence.
	reloaded, err := NewTracker(path, pricing)
	if err != nil {
		t.Fatalf("reload NewTracker: %v", err)
	}
	if reloaded.TotalCost() != 0.02 {
		t.Errorf("reloaded TotalCost = %v, want 0.02", reloaded.TotalCost())
	}
}

func TestTracker_CheckBudget(t *testing.T) {
	dir := t.TempDir()
	pricing, _ := NewTable("")
	tracker, err := NewTracker(filepath.Join(dir, "ledger.json"), pricing)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	within, _, _ := tracker.CheckBudget("discord:123", nil)
	if !within {
		t.Error("nil budget should always be within budget")
	}

	now := time.Now().UTC()
	if err := tracker.RecordCost(model.CostEntry{
		SourceKey: "discord:123", Timestamp: now, CostUSD: 5.0, APIKeySource: "default",
	}); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	budget := 10.0
	within, current, remaining := tracker.CheckBudget("discord:123", &budget)
	if !within {
		t.Error("expected to be within a 10 USD budget after spending 5")
	}
	if current != 5.0 {
		t.Errorf("current = %v, want 5", current)
	}
	if remaining != 5.0 {
		t.Errorf("remaining = %v, want 5", remaining)
	}

	tight := 3.0
	within, _, remaining = tracker.CheckBudget("discord:123", &tight)
	if within {
		t.Error("expected to be over a 3 USD budget after spending 5")
	}
	if remaining != 0 {
		t.Errorf("remaining should clamp to 0 when over budget, got %v", remaining)
	}
}

func TestTracker_TotalCostEqualsSumOfMonthlyBuckets(t *testing.T) {
	dir := t.TempDir()
	pricing, _ := NewTable("")
	tracker, err := NewTracker(filepath.Join(dir, "ledger.json"), pricing)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	entries := []model.CostEntry{
		{SourceKey: "discord:123", Timestamp: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), CostUSD: 1.25, APIKeySource: "default"},
		{SourceKey: "discord:123", Timestamp: time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC), CostUSD: 2.50, APIKeySource: "default"},
		{SourceKey: "discord:456", Timestamp: time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC), CostUSD: 0.75, APIKeySource: "default"},
	}
	for _, e := range entries {
		if err := tracker.RecordCost(e); err != nil {
			t.Fatalf("RecordCost: %v", err)
		}
	}

	var sumOfMonthly float64
	var summaryCount int
	for _, key := range []string{"discord:123", "discord:456"} {
		sc, ok := tracker.SourceCost(key)
		if !ok {
			continue
		}
		for _, m := range sc.Monthly {
			sumOfMonthly += m.CostUSD
			summaryCount += m.Summaries
		}
	}

	const tolerance = 1e-6
	if diff := tracker.TotalCost() - sumOfMonthly; diff > tolerance || diff < -tolerance {
		t.Errorf("TotalCost = %v, sum of monthly buckets = %v, want equal within %v", tracker.TotalCost(), sumOfMonthly, tolerance)
	}
	if summaryCount != len(entries) {
		t.Errorf("summary count across monthly buckets = %d, want %d", summaryCount, len(entries))
	}
}

func TestTracker_EstimateBackfillCost(t *testing.T) {
	pricing, _ := NewTable("")
	tracker, err := NewTracker(filepath.Join(t.TempDir(), "ledger.json"), pricing)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	estimate := tracker.EstimateBackfillCost(10, "anthropic/claude-3-haiku", 0)
	if estimate.Periods != 10 {
		t.Errorf("Periods = %d, want 10", estimate.Periods)
	}
	if estimate.EstimatedCostUSD <= 0 {
		t.Error("expected a positive cost estimate")
	}
	if estimate.AvgTokensPerSummary != 5000 {
		t.Errorf("AvgTokensPerSummary = %d, want default 5000", estimate.AvgTokensPerSummary)
	}
}
