// Package executor runs a planned backfill job: one (source, date) slot at
// a time, cooperatively cancellable and pausable, per spec §4.8. Grounded
// on original_source/archive/backfill.py's BackfillManager.run_backfill_job,
// generalized to weekly/monthly periods.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/cost"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/lock"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/planner"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/writer"
	"github.com/nextlevelbuilder/archivekeeper/internal/fetch"
	"github.com/nextlevelbuilder/archivekeeper/internal/summarize"
	"github.com/nextlevelbuilder/archivekeeper/internal/telemetry"
)

// Status is a backfill job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// MinInterPeriodDelay is the floor on the pause between period generations,
// per spec §4.8.
const MinInterPeriodDelay = 250 * time.Millisecond

// PauseReasonBudgetExceeded is the only pause reason RunJob currently sets,
// per spec §4.8's budget_exceeded transition.
const PauseReasonBudgetExceeded = "budget_exceeded"

// Progress tracks a job's advancement through its planned dates.
type Progress struct {
	TotalPeriods  int
	Completed     int
	Failed        int
	Skipped       int
	CurrentPeriod string
	CostUSD       float64
	TokensInput   int
	TokensOutput  int
	PauseReason   string
}

// PercentComplete returns the share of planned periods that have reached a
// terminal per-period outcome.
func (p Progress) PercentComplete() float64 {
	if p.TotalPeriods == 0 {
		return 100
	}
	return float64(p.Completed+p.Failed+p.Skipped) / float64(p.TotalPeriods) * 100
}

// RunOptions parameterizes one job execution.
type RunOptions struct {
	Timezone       string
	PromptVersion  string
	PromptChecksum string
	Model          string
	APIKey         string
	SummaryType    string
	Perspective    string
}

// Executor runs planner.Jobs against a fetcher/summarizer pair, writing
// results through writer and recording cost through tracker.
type Executor struct {
	root             string
	writer           *writer.Writer
	locks            *lock.Manager
	tracker          *cost.Tracker
	fetcher          fetch.MessageFetcher
	summarizer       summarize.Summarizer
	interPeriodDelay time.Duration
}

// New returns an Executor. interPeriodDelay is clamped up to
// MinInterPeriodDelay if smaller.
func New(root string, w *writer.Writer, locks *lock.Manager, tracker *cost.Tracker, fetcher fetch.MessageFetcher, summarizer summarize.Summarizer, interPeriodDelay time.Duration) *Executor {
	if interPeriodDelay < MinInterPeriodDelay {
		interPeriodDelay = MinInterPeriodDelay
	}
	return &Executor{
		root:             root,
		writer:           w,
		locks:            locks,
		tracker:          tracker,
		fetcher:          fetcher,
		summarizer:       summarizer,
		interPeriodDelay: interPeriodDelay,
	}
}

// RunJob executes job's planned dates in order. It honors ctx cancellation
// (→ StatusCancelled), job.MaxCostUSD (→ StatusPaused), and a caller-closed
// pause channel (→ StatusPaused) checked between periods. Per-period
// failures are recorded in Progress and do not abort the run; only a
// fetcher/summarizer setup error or an unloadable timezone does.
func (e *Executor) RunJob(ctx context.Context, job planner.Job, opts RunOptions, pause <-chan struct{}) (Status, Progress, error) {
	if e.fetcher == nil || e.summarizer == nil {
		return StatusFailed, Progress{}, fmt.Errorf("executor: message fetcher and summarizer must be configured")
	}

	tz := opts.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return StatusFailed, Progress{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	tracer := telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "run_job",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID),
			attribute.String("source_key", job.Source.Key()),
			attribute.Int("total_periods", len(job.Dates)),
		),
	)
	defer span.End()

	progress := Progress{TotalPeriods: len(job.Dates)}
	status := StatusRunning

	for _, date := range job.Dates {
		select {
		case <-ctx.Done():
			status = StatusCancelled
		case <-pause:
			status = StatusPaused
		default:
		}
		if status != StatusRunning {
			break
		}

		if job.MaxCostUSD != nil && progress.CostUSD >= *job.MaxCostUSD {
			status = StatusPaused
			progress.PauseReason = PauseReasonBudgetExceeded
			break
		}

		progress.CurrentPeriod = date.Format("2006-01-02")

		outcome, spent, perr := e.backfillDate(ctx, job, date, loc, opts)
		switch outcome {
		case outcomeSkipped:
			progress.Skipped++
		case outcomeFailed:
			progress.Failed++
			slog.Error("backfill period failed", "job_id", job.JobID, "date", progress.CurrentPeriod, "error", perr)
		case outcomeCompleted:
			progress.Completed++
		}
		progress.CostUSD += spent.CostUSD
		progress.TokensInput += spent.TokensInput
		progress.TokensOutput += spent.TokensOutput
		if perr != nil {
			span.RecordError(perr)
		}

		if job.DryRun {
			continue
		}
		select {
		case <-ctx.Done():
			status = StatusCancelled
		case <-time.After(e.interPeriodDelay):
		}
		if status != StatusRunning {
			break
		}
	}

	if status == StatusRunning {
		status = StatusCompleted
	}
	progress.CurrentPeriod = ""

	span.SetAttributes(attribute.String("status", string(status)))
	if status == StatusFailed {
		span.SetStatus(codes.Error, "job failed")
	}

	return status, progress, nil
}

type periodOutcome int

const (
	outcomeSkipped periodOutcome = iota
	outcomeCompleted
	outcomeFailed
)

// periodCost is what one backfilled period spent, so RunJob can accumulate
// it into Progress and enforce job.MaxCostUSD.
type periodCost struct {
	CostUSD      float64
	TokensInput  int
	TokensOutput int
}

// buildPeriod constructs the period for one of job's planned dates, per
// job.Granularity. date is that period's start; job.RangeEnd clamps the
// last weekly/monthly period so it never runs past the job's requested end.
func buildPeriod(job planner.Job, date time.Time, loc *time.Location) model.Period {
	switch job.Granularity {
	case model.GranularityWeekly:
		return model.NewWeeklyPeriod(date, job.RangeEnd, loc)
	case model.GranularityMonthly:
		return model.NewMonthlyPeriod(date, job.RangeEnd, loc)
	default:
		return model.NewDailyPeriod(date, loc)
	}
}

// backfillDate generates (or skips) one day's summary. Grounded on
// original_source's _backfill_date, adapted so the lock is always
// released with the status the writer actually produced.
func (e *Executor) backfillDate(ctx context.Context, job planner.Job, date time.Time, loc *time.Location, opts RunOptions) (periodOutcome, periodCost, error) {
	tracer := telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "backfill_period",
		trace.WithAttributes(
			attribute.String("source_key", job.Source.Key()),
			attribute.String("period", date.Format("2006-01-02")),
		),
	)
	defer span.End()

	period := buildPeriod(job, date, loc)
	_, metaPath := layout.SummaryPaths(e.root, job.Source, period)

	lockJobID, err := e.locks.Acquire(metaPath, job.JobID)
	if err != nil {
		span.RecordError(err)
		return outcomeFailed, periodCost{}, fmt.Errorf("acquire lock: %w", err)
	}
	if lockJobID == "" {
		if !job.RegenerateExisting {
			span.SetAttributes(attribute.String("outcome", "skipped"))
			return outcomeSkipped, periodCost{}, nil
		}
		// Acquire refuses both a slot held by another worker and a slot that
		// is already complete, so a refused slot is skipped even when
		// RegenerateExisting is set.
		span.SetAttributes(attribute.String("outcome", "skipped_locked"))
		return outcomeSkipped, periodCost{}, nil
	}

	if job.DryRun {
		estimate := e.tracker.EstimateBackfillCost(1, opts.Model, 0)
		spent := periodCost{
			CostUSD:      estimate.EstimatedCostUSD,
			TokensInput:  int(float64(estimate.AvgTokensPerSummary) * 0.8),
			TokensOutput: int(float64(estimate.AvgTokensPerSummary) * 0.2),
		}
		if err := e.locks.Release(metaPath, model.StatusComplete); err != nil {
			return outcomeFailed, spent, err
		}
		return outcomeCompleted, spent, nil
	}

	status, spent, perr := e.generatePeriod(ctx, job.Source, period, opts)

	if releaseErr := e.locks.Release(metaPath, status); releaseErr != nil {
		slog.Error("release lock failed", "meta_path", metaPath, "error", releaseErr)
	}

	if perr != nil {
		span.RecordError(perr)
		return outcomeFailed, spent, perr
	}
	if status == model.StatusIncomplete {
		return outcomeCompleted, spent, nil // a recorded incomplete marker is still a handled period, not a failure
	}
	return outcomeCompleted, spent, nil
}

// generatePeriod fetches messages, summarizes, writes the artifact (or an
// incomplete marker for no messages), and records cost. Returns the status
// that was actually written to disk and what it cost.
func (e *Executor) generatePeriod(ctx context.Context, source model.Source, period model.Period, opts RunOptions) (model.SummaryStatus, periodCost, error) {
	messages, err := e.fetcher.Fetch(ctx, source, period.StartUTC(), period.EndUTC())
	if err != nil {
		if werr := e.writeIncomplete(source, period, model.ReasonSourceInaccessible, err.Error()); werr != nil {
			slog.Error("write incomplete marker failed", "source_key", source.Key(), "error", werr)
		}
		return model.StatusIncomplete, periodCost{}, fmt.Errorf("fetch messages: %w", err)
	}

	if len(messages) == 0 {
		if err := e.writeIncomplete(source, period, model.ReasonNoMessages, "No messages found in this period"); err != nil {
			return model.StatusIncomplete, periodCost{}, err
		}
		return model.StatusIncomplete, periodCost{}, nil
	}

	start := time.Now()
	result, err := e.summarizer.Summarize(ctx, messages, opts.APIKey, opts.SummaryType, opts.Perspective)
	if err != nil {
		if werr := e.writeIncomplete(source, period, model.ReasonAPIError, err.Error()); werr != nil {
			slog.Error("write incomplete marker failed", "source_key", source.Key(), "error", werr)
		}
		return model.StatusIncomplete, periodCost{}, fmt.Errorf("summarize: %w", err)
	}
	duration := time.Since(start).Seconds()

	costUSD, pricingVersion := e.tracker.PricingTable().CalculateCost(opts.Model, result.TokensInput, result.TokensOutput, time.Now().UTC())

	generation := model.GenerationInfo{
		PromptVersion:   opts.PromptVersion,
		PromptChecksum:  opts.PromptChecksum,
		Model:           opts.Model,
		Options:         result.Options,
		DurationSeconds: duration,
		TokensInput:     result.TokensInput,
		TokensOutput:    result.TokensOutput,
		CostUSD:         costUSD,
		PricingVersion:  pricingVersion,
		APIKeyUsed:      "default",
	}

	participants := map[string]struct{}{}
	for _, m := range messages {
		participants[m.AuthorID] = struct{}{}
	}
	stats := model.SummaryStatistics{
		MessageCount:     len(messages),
		ParticipantCount: len(participants),
	}

	spent := periodCost{CostUSD: costUSD, TokensInput: result.TokensInput, TokensOutput: result.TokensOutput}

	if _, err := e.writer.WriteSummary(writer.WriteSummaryInput{
		Source:         source,
		Period:         period,
		Content:        result.Content,
		Statistics:     stats,
		Generation:     generation,
		IsBackfill:     true,
		BackfillReason: "historical_archive",
	}); err != nil {
		return model.StatusIncomplete, spent, fmt.Errorf("write summary: %w", err)
	}

	if err := e.tracker.RecordCost(model.CostEntry{
		SourceKey:      source.Key(),
		SummaryID:      fmt.Sprintf("sum_%s", period.Start.Format("2006-01-02")),
		Timestamp:      time.Now().UTC(),
		Model:          opts.Model,
		TokensInput:    result.TokensInput,
		TokensOutput:   result.TokensOutput,
		CostUSD:        costUSD,
		PricingVersion: pricingVersion,
		APIKeySource:   "default",
	}); err != nil {
		slog.Error("record cost failed", "source_key", source.Key(), "error", err)
	}

	return model.StatusComplete, spent, nil
}

func (e *Executor) writeIncomplete(source model.Source, period model.Period, code model.IncompleteReasonCode, message string) error {
	_, err := e.writer.WriteIncompleteMarker(writer.WriteIncompleteMarkerInput{
		Source:           source,
		Period:           period,
		ReasonCode:       code,
		ReasonMessage:    message,
		BackfillEligible: code != model.ReasonNoMessages,
	})
	return err
}
