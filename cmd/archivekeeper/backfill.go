package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/archivekeeper/internal/apikey"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/cost"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/executor"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/lock"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/planner"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/registry"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/scanner"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/writer"
	"github.com/nextlevelbuilder/archivekeeper/internal/config"
	"github.com/nextlevelbuilder/archivekeeper/internal/fetch"
	"github.com/nextlevelbuilder/archivekeeper/internal/fetch/discordfetch"
	"github.com/nextlevelbuilder/archivekeeper/internal/fetch/telegramfetch"
	"github.com/nextlevelbuilder/archivekeeper/internal/fetch/whatsappimport"
	"github.com/nextlevelbuilder/archivekeeper/internal/summarize"
)

func backfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Plan, run, and eligibility-flag backfills of missing summaries",
	}
	cmd.AddCommand(backfillPlanCmd())
	cmd.AddCommand(backfillRunCmd())
	cmd.AddCommand(backfillMarkEligibleCmd())
	return cmd
}

func backfillPlanCmd() *cobra.Command {
	var flags sourceFlags
	var startStr, endStr string
	var model_ string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Estimate the cost of filling a source's coverage gaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			source, err := flags.toSource()
			if err != nil {
				return err
			}

			opts, err := parseDateRange(startStr, endStr)
			if err != nil {
				return err
			}

			pricing, err := cost.NewTable(cfg.PricingHistoryPath)
			if err != nil {
				return fmt.Errorf("load pricing table: %w", err)
			}
			tracker, err := cost.NewTracker(filepath.Join(cfg.ArchiveRoot, "cost-ledger.json"), pricing)
			if err != nil {
				return fmt.Errorf("load cost ledger: %w", err)
			}
			p := planner.New(scanner.New(cfg.ArchiveRoot), tracker)

			report, err := p.Analyze(source, planner.AnalyzeOptions{
				StartDate: opts.start,
				EndDate:   opts.end,
				Model:     model_,
			})
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}

			fmt.Printf("Source: %s\n", source.Key())
			fmt.Printf("  Backfill candidates: %d\n", len(report.BackfillDates))
			fmt.Printf("  Estimated tokens:    %d\n", report.EstimatedTokens)
			fmt.Printf("  Estimated cost USD:  %.4f\n", report.EstimatedCostUSD)
			return nil
		},
	}

	addSourceFlags(cmd, &flags)
	cmd.Flags().StringVar(&startStr, "start", "", "range start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "range end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&model_, "model", "", "model to estimate against (default anthropic/claude-3-haiku)")
	return cmd
}

func backfillRunCmd() *cobra.Command {
	var flags sourceFlags
	var startStr, endStr string
	var modelName, granularity, summaryType, perspective, timezone string
	var maxCostUSD float64
	var dryRun, regenerate bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a backfill job against a live fetcher and summarizer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			source, err := flags.toSource()
			if err != nil {
				return err
			}

			opts, err := parseDateRange(startStr, endStr)
			if err != nil {
				return err
			}

			pricing, err := cost.NewTable(cfg.PricingHistoryPath)
			if err != nil {
				return fmt.Errorf("load pricing table: %w", err)
			}
			tracker, err := cost.NewTracker(filepath.Join(cfg.ArchiveRoot, "cost-ledger.json"), pricing)
			if err != nil {
				return fmt.Errorf("load cost ledger: %w", err)
			}
			p := planner.New(scanner.New(cfg.ArchiveRoot), tracker)

			job, err := p.CreateJob(source, planner.CreateJobOptions{
				StartDate:          opts.start,
				EndDate:            opts.end,
				Granularity:        model.Granularity(granularity),
				Timezone:           timezone,
				RegenerateExisting: regenerate,
				DryRun:             dryRun,
			})
			if err != nil {
				return fmt.Errorf("create job: %w", err)
			}
			if len(job.Dates) == 0 {
				fmt.Println("no backfill candidates in range")
				return nil
			}
			if maxCostUSD > 0 {
				job.MaxCostUSD = &maxCostUSD
			}

			fetcher, err := buildFetcher(cfg, source)
			if err != nil {
				return fmt.Errorf("build fetcher: %w", err)
			}

			reg := registry.New(cfg.ArchiveRoot)
			reg.RegisterSource(source)
			manifest, _, err := reg.GetManifest(source.Key())
			if err != nil {
				return fmt.Errorf("load manifest: %w", err)
			}

			resolver := apikey.NewResolver(cfg.OpenRouterAPIKey, apikey.BackendConfig{
				KeysDir:         cfg.APIKeys.FileBackendDir,
				FileMasterKey:   cfg.TokenEncryptionKey,
				VaultAddr:       cfg.APIKeys.VaultAddr,
				VaultPathPrefix: cfg.APIKeys.VaultPathPrefix,
			})
			resolved, err := resolver.GetKeyForSource(cmd.Context(), source.Key(), &manifest)
			if err != nil {
				return fmt.Errorf("resolve api key: %w", err)
			}

			summarizerModel := modelName
			if summarizerModel == "" {
				summarizerModel = cfg.Summarizer.Model
			}
			summarizer := summarize.NewOpenRouterSummarizer(cfg.Summarizer.APIBase, summarizerModel)

			w := writer.New(cfg.ArchiveRoot)
			locks := lock.New(time.Duration(cfg.LockTTLSeconds)*time.Second, "archivekeeper-cli")
			exec := executor.New(cfg.ArchiveRoot, w, locks, tracker, fetcher, summarizer,
				time.Duration(cfg.Executor.InterPeriodDelayMS)*time.Millisecond)

			status, progress, err := exec.RunJob(cmd.Context(), job, executor.RunOptions{
				Timezone:    timezone,
				Model:       summarizerModel,
				APIKey:      resolved.Key,
				SummaryType: summaryType,
				Perspective: perspective,
			}, nil)
			if err != nil {
				return fmt.Errorf("run job: %w", err)
			}

			fmt.Printf("Job %s: %s\n", job.JobID, status)
			if progress.PauseReason != "" {
				fmt.Printf("  Pause reason: %s\n", progress.PauseReason)
			}
			fmt.Printf("  Completed: %d/%d  Failed: %d  Skipped: %d\n",
				progress.Completed, progress.TotalPeriods, progress.Failed, progress.Skipped)
			fmt.Printf("  Cost USD: %.4f (key source: %s)\n", progress.CostUSD, resolved.APIKeyUsed())
			return nil
		},
	}

	addSourceFlags(cmd, &flags)
	cmd.Flags().StringVar(&startStr, "start", "", "range start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "range end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&modelName, "model", "", "summarization model (provider/model, e.g. anthropic/claude-sonnet-4-5)")
	cmd.Flags().StringVar(&granularity, "granularity", "daily", "period size to backfill: daily, weekly, or monthly")
	cmd.Flags().StringVar(&summaryType, "summary-type", "detailed", "brief, detailed, or comprehensive")
	cmd.Flags().StringVar(&perspective, "perspective", "", "optional narrative perspective for the summary prompt")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA timezone used to bucket periods")
	cmd.Flags().Float64Var(&maxCostUSD, "max-cost-usd", 0, "pause the job before the next period once accumulated spend reaches this (0 = unbounded)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan the job without writing summaries")
	cmd.Flags().BoolVar(&regenerate, "regenerate-existing", false, "recorded on the job; dates that already have a complete summary are still skipped")
	return cmd
}

func backfillMarkEligibleCmd() *cobra.Command {
	var flags sourceFlags
	var dateStr string

	cmd := &cobra.Command{
		Use:   "mark-eligible",
		Short: "Flip backfill_eligible=true on a NO_MESSAGES sidecar (no automatic promotion exists)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			source, err := flags.toSource()
			if err != nil {
				return err
			}
			day, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}

			period := model.NewDailyPeriod(day, time.UTC)
			w := writer.New(cfg.ArchiveRoot)
			if err := w.MarkBackfillEligible(source, period); err != nil {
				return fmt.Errorf("mark eligible: %w", err)
			}
			_, metaPath := layout.SummaryPaths(cfg.ArchiveRoot, source, period)
			fmt.Printf("marked %s backfill_eligible=true\n", metaPath)
			return nil
		},
	}

	addSourceFlags(cmd, &flags)
	cmd.Flags().StringVar(&dateStr, "date", "", "the day whose sidecar should be marked eligible (YYYY-MM-DD)")
	cmd.MarkFlagRequired("date")
	return cmd
}

type dateRange struct {
	start, end time.Time
}

func parseDateRange(startStr, endStr string) (dateRange, error) {
	var r dateRange
	var err error
	if startStr != "" {
		r.start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return r, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if endStr != "" {
		r.end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return r, fmt.Errorf("invalid --end: %w", err)
		}
	}
	return r, nil
}

// buildFetcher selects the reference MessageFetcher implementation for
// source's platform, per spec §6.4's closed fetcher set.
func buildFetcher(cfg *config.Config, source model.Source) (fetch.MessageFetcher, error) {
	switch source.SourceType {
	case model.SourceDiscord:
		return discordfetch.New(cfg.Fetchers.DiscordBotToken)
	case model.SourceTelegram:
		return telegramfetch.New(cfg.Fetchers.TelegramBotToken, func(s model.Source) string {
			return filepath.Join(layout.ImportsDir(cfg.ArchiveRoot, s), "result.json")
		})
	case model.SourceWhatsApp:
		return whatsappimport.NewImporter(cfg.ArchiveRoot), nil
	default:
		return nil, fmt.Errorf("no fetcher for source type %q", source.SourceType)
	}
}
