package cost

import (
	"testing"
	"time"
)

func TestNewTable_FallsBackToStatic(t *testing.T) {
	table, err := NewTable("")
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	input, output, version := table.GetPricing("anthropic/claude-3-haiku", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if input != 0.00025 || output != 0.00125 {
		t.Errorf("rates = (%v, %v), want (0.00025, 0.00125)", input, output)
	}
	if version != "2026-02-01" {
		t.Errorf("version = %s, want 2026-02-01", version)
	}
}

func TestGetPricing_UnknownModelFallsBackToDefault(t *testing.T) {
	table, _ := NewTable("")
	input, output, _ := table.GetPricing("some/unknown-model", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if input != defaultRate.Input || output != defaultRate.Output {
		t.Errorf("rates = (%v, %v), want default (%v, %v)", input, output, defaultRate.Input, defaultRate.Output)
	}
}

func TestGetPricing_BeforeEarliestVersionUsesEarliest(t *testing.T) {
	table, _ := NewTable("")
	input, _, version := table.GetPricing("anthropic/claude-3-haiku", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	if version != "2026-02-01" {
		t.Errorf("version = %s, want earliest available (2026-02-01)", version)
	}
	if input != 0.00025 {
		t.Errorf("input rate = %v, want 0.00025", input)
	}
}

func TestCalculateCost(t *testing.T) {
	table, _ := NewTable("")
	cost, version := table.CalculateCost("anthropic/claude-3-haiku", 1000, 1000, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	want := 0.00025 + 0.00125
	if cost != want {
		t.Errorf("cost = %v, want %v", cost, want)
	}
	if version != "2026-02-01" {
		t.Errorf("version = %s, want 2026-02-01", version)
	}
}
