package planner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/cost"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/scanner"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/writer"
)

func testSource() model.Source {
	return model.Source{SourceType: model.SourceDiscord, ServerID: "123", ServerName: "My Server"}
}

func newPlanner(t *testing.T, root string) *Planner {
	t.Helper()
	pricing, err := cost.NewTable("")
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	tracker, err := cost.NewTracker(filepath.Join(root, "cost-ledger.json"), pricing)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return New(scanner.New(root), tracker)
}

func TestAnalyze_EstimatesCostForMissingDays(t *testing.T) {
	root := t.TempDir()
	p := newPlanner(t, root)
	source := testSource()

	report, err := p.Analyze(source, AnalyzeOptions{
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.BackfillDates) != 3 {
		t.Errorf("BackfillDates = %v, want 3 missing days", report.BackfillDates)
	}
	if report.EstimatedCostUSD <= 0 {
		t.Error("expected a positive cost estimate for 3 missing days")
	}
	if report.EstimatedTokens <= 0 {
		t.Error("expected a positive token estimate")
	}
}

func TestAnalyze_SkipsExistingCompleteDays(t *testing.T) {
	root := t.TempDir()
	w := writer.New(root)
	source := testSource()
	if _, err := w.WriteSummary(writer.WriteSummaryInput{
		Source: source,
		Period: model.NewDailyPeriod(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.UTC),
	}); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}

	p := newPlanner(t, root)
	report, err := p.Analyze(source, AnalyzeOptions{
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(report.BackfillDates) != 2 {
		t.Errorf("BackfillDates = %v, want 2 (day 2 already complete)", report.BackfillDates)
	}
}

func TestCreateJob_FromExplicitDates(t *testing.T) {
	root := t.TempDir()
	p := newPlanner(t, root)
	source := testSource()

	dates := []time.Time{
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	maxCost := 2.0
	job, err := p.CreateJob(source, CreateJobOptions{Dates: dates, MaxCostUSD: &maxCost})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.JobID == "" {
		t.Error("expected a non-empty job id")
	}
	if len(job.Dates) != 2 || !job.Dates[0].Before(job.Dates[1]) {
		t.Errorf("Dates = %v, want sorted ascending", job.Dates)
	}
	if job.MaxCostUSD == nil || *job.MaxCostUSD != 2.0 {
		t.Errorf("MaxCostUSD = %v, want 2.0", job.MaxCostUSD)
	}
}

func TestCreateJob_WeeklyGranularityExpandsRangeDirectly(t *testing.T) {
	root := t.TempDir()
	p := newPlanner(t, root)
	source := testSource()

	// 2026-02-11 is a Wednesday; range runs through the following Sunday.
	job, err := p.CreateJob(source, CreateJobOptions{
		StartDate:   time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC),
		Granularity: model.GranularityWeekly,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Granularity != model.GranularityWeekly {
		t.Errorf("Granularity = %s, want weekly", job.Granularity)
	}
	// First (partial) week starting Wednesday, then a full week: 2 periods.
	if len(job.Dates) != 2 {
		t.Fatalf("Dates = %v, want 2 period starts", job.Dates)
	}
	if job.Dates[0].Weekday() != time.Wednesday {
		t.Errorf("first period start weekday = %s, want Wednesday", job.Dates[0].Weekday())
	}
}

func TestCreateJob_MonthlyGranularityExpandsRangeDirectly(t *testing.T) {
	root := t.TempDir()
	p := newPlanner(t, root)
	source := testSource()

	job, err := p.CreateJob(source, CreateJobOptions{
		StartDate:   time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Granularity: model.GranularityMonthly,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if len(job.Dates) != 3 {
		t.Fatalf("Dates = %v, want 3 period starts (partial Jan, full Feb, partial Mar)", job.Dates)
	}
	if !job.RangeEnd.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("RangeEnd = %v, want the requested end date", job.RangeEnd)
	}
}

func TestCreateJob_WeeklyGranularityRequiresDateRange(t *testing.T) {
	root := t.TempDir()
	p := newPlanner(t, root)

	if _, err := p.CreateJob(testSource(), CreateJobOptions{Granularity: model.GranularityWeekly}); err == nil {
		t.Fatal("expected an error when weekly granularity is requested without --start/--end")
	}
}

func TestCreateJob_FromScanRange(t *testing.T) {
	root := t.TempDir()
	p := newPlanner(t, root)
	source := testSource()

	job, err := p.CreateJob(source, CreateJobOptions{
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if len(job.Dates) != 2 {
		t.Errorf("Dates = %v, want 2 candidate days", job.Dates)
	}
}
