package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/scanner"
)

func scanCmd() *cobra.Command {
	var flags sourceFlags
	var startStr, endStr string
	var promptVersion string
	var includeOutdated bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Report coverage gaps and outdated summaries for a source",
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

			opts := scanner.Options{CurrentPromptVersion: promptVersion}
			if startStr != "" {
				opts.StartDate, err = time.Parse("2006-01-02", startStr)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}
			if endStr != "" {
				opts.EndDate, err = time.Parse("2006-01-02", endStr)
				if err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
			}

			s := scanner.New(cfg.ArchiveRoot)
			result, err := s.ScanSource(source, opts)
			if err != nil {
				return fmt.Errorf("scan source: %w", err)
			}

			fmt.Printf("Source: %s\n", source.Key())
			fmt.Printf("  Range:    %s .. %s\n", result.EarliestDate.Format("2006-01-02"), result.LatestDate.Format("2006-01-02"))
			fmt.Printf("  Total:    %d days\n", result.TotalDays)
			fmt.Printf("  Complete: %d\n", result.Complete)
			fmt.Printf("  Failed:   %d\n", result.Failed)
			fmt.Printf("  Missing:  %d\n", result.Missing)
			if includeOutdated {
				fmt.Printf("  Outdated: %d\n", result.Outdated)
			}
			if len(result.Gaps) > 0 {
				fmt.Println("  Gaps:")
				for _, gap := range result.Gaps {
					fmt.Printf("    %s .. %s (%s, %d days, backfill_eligible=%t)\n",
						gap.StartDate.Format("2006-01-02"), gap.EndDate.Format("2006-01-02"),
						gap.Reason, gap.Days, gap.BackfillEligible)
				}
			}
			return nil
		},
	}

	addSourceFlags(cmd, &flags)
	cmd.Flags().StringVar(&startStr, "start", "", "range start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "range end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&promptVersion, "current-prompt-version", "", "flag complete summaries generated against an older prompt version")
	cmd.Flags().BoolVar(&includeOutdated, "include-outdated", false, "check for outdated summaries against --current-prompt-version")
	return cmd
}
