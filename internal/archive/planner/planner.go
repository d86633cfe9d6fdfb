// Package planner turns scanner output into a prioritized, cost-estimated
// backfill plan, per spec §4.7. Grounded on
// original_source/archive/backfill.py's analyze_backfill and
// create_backfill_job.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/cost"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/scanner"
)

// Report summarizes a source's backfill potential: what's missing, and
// what it would cost to fill.
type Report struct {
	Source             model.Source
	Scan               scanner.Result
	BackfillDates      []time.Time
	EstimatedCostUSD    float64
	EstimatedTokens     int
}

// Job is a planned, not-yet-executed (or in-flight) backfill run.
type Job struct {
	JobID              string
	Source             model.Source
	Dates              []time.Time // period start dates, ascending
	Granularity        model.Granularity
	RangeEnd           time.Time // clamp for the last weekly/monthly period; unused for daily
	MaxCostUSD         *float64
	DryRun             bool
	RegenerateExisting bool
}

// Planner builds Reports and Jobs from scan results and cost estimates.
type Planner struct {
	scanner *scanner.Scanner
	tracker *cost.Tracker
}

// New returns a Planner backed by scanner and tracker.
func New(s *scanner.Scanner, tracker *cost.Tracker) *Planner {
	return &Planner{scanner: s, tracker: tracker}
}

// AnalyzeOptions configures Analyze.
type AnalyzeOptions struct {
	StartDate            time.Time
	EndDate              time.Time
	IncludeOutdated      bool
	CurrentPromptVersion string
	Model                string
}

// Analyze scans source and estimates the cost of filling every gap it finds.
func (p *Planner) Analyze(source model.Source, opts AnalyzeOptions) (Report, error) {
	scanOpts := scanner.Options{StartDate: opts.StartDate, EndDate: opts.EndDate}
	if opts.IncludeOutdated {
		scanOpts.CurrentPromptVersion = opts.CurrentPromptVersion
	}
	result, err := p.scanner.ScanSource(source, scanOpts)
	if err != nil {
		return Report{}, err
	}

	var dates []time.Time
	for _, gap := range result.Gaps {
		if !gap.BackfillEligible {
			continue
		}
		for d := gap.StartDate; !d.After(gap.EndDate); d = d.AddDate(0, 0, 1) {
			dates = append(dates, d)
		}
	}
	for _, o := range result.OutdatedSummaries {
		dates = append(dates, o.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	dates = filterRange(dates, opts.StartDate, opts.EndDate)

	modelName := opts.Model
	if modelName == "" {
		modelName = "anthropic/claude-3-haiku"
	}
	estimate := p.tracker.EstimateBackfillCost(len(dates), modelName, 0)

	return Report{
		Source:           source,
		Scan:             result,
		BackfillDates:    dates,
		EstimatedCostUSD: estimate.EstimatedCostUSD,
		EstimatedTokens:  estimate.AvgTokensPerSummary * len(dates),
	}, nil
}

// CreateJobOptions configures CreateJob.
type CreateJobOptions struct {
	Dates              []time.Time // explicit dates; takes precedence over the range below
	StartDate          time.Time
	EndDate            time.Time
	Granularity        model.Granularity // daily, weekly, or monthly; default daily
	Timezone           string            // IANA zone for weekly/monthly period boundaries; default UTC
	MaxCostUSD         *float64
	DryRun             bool
	RegenerateExisting bool
}

// CreateJob builds a Job either from an explicit date list or by scanning
// for backfill candidates within [StartDate, EndDate]. For weekly/monthly
// granularity, [StartDate, EndDate] is expanded directly into periods per
// spec §4.8's create_job — the scanner's gap detection is inherently daily
// and only consulted for the daily, range-based case.
func (p *Planner) CreateJob(source model.Source, opts CreateJobOptions) (Job, error) {
	jobID := "bf_" + uuidHex12()

	granularity := opts.Granularity
	if granularity == "" {
		granularity = model.GranularityDaily
	}

	tzName := opts.Timezone
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return Job{}, fmt.Errorf("load timezone %q: %w", tzName, err)
	}

	var dates []time.Time
	rangeEnd := opts.EndDate

	switch {
	case len(opts.Dates) > 0:
		dates = append([]time.Time(nil), opts.Dates...)
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		if rangeEnd.IsZero() {
			rangeEnd = dates[len(dates)-1]
		}
	case granularity != model.GranularityDaily:
		if opts.StartDate.IsZero() || opts.EndDate.IsZero() {
			return Job{}, fmt.Errorf("create job: --start and --end are required for %s granularity", granularity)
		}
		for _, period := range model.GeneratePeriods(opts.StartDate, opts.EndDate, granularity, loc) {
			dates = append(dates, period.Start)
		}
	default:
		result, err := p.scanner.ScanSource(source, scanner.Options{StartDate: opts.StartDate, EndDate: opts.EndDate})
		if err != nil {
			return Job{}, err
		}
		for _, gap := range result.Gaps {
			if !gap.BackfillEligible {
				continue
			}
			for d := gap.StartDate; !d.After(gap.EndDate); d = d.AddDate(0, 0, 1) {
				dates = append(dates, d)
			}
		}
		dates = filterRange(dates, opts.StartDate, opts.EndDate)
	}

	return Job{
		JobID:              jobID,
		Source:             source,
		Dates:              dates,
		Granularity:        granularity,
		RangeEnd:           rangeEnd,
		MaxCostUSD:         opts.MaxCostUSD,
		DryRun:             opts.DryRun,
		RegenerateExisting: opts.RegenerateExisting,
	}, nil
}

func filterRange(dates []time.Time, start, end time.Time) []time.Time {
	if start.IsZero() && end.IsZero() {
		return dates
	}
	out := dates[:0:0]
	for _, d := range dates {
		if !start.IsZero() && d.Before(start) {
			continue
		}
		if !end.IsZero() && d.After(end) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func uuidHex12() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:6])
}
