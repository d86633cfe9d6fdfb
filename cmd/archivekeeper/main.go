// Command archivekeeper drives the retrospective summary archive: scanning
// for coverage gaps, planning and running backfills, applying retention
// policy, and mirroring the archive to a sync provider. One-shot operator
// commands, no daemon mode — per SPEC_FULL.md §1's process shape, mirroring
// the teacher's cmd/doctor.go and cmd/migrate.go rather than its gateway's
// long-running cmd/gateway.go.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/archivekeeper/internal/config"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "archivekeeper",
	Short: "Retrospective chat-history summary archive",
	Long:  "archivekeeper scans, plans, and backfills retrospective summaries of archived chat history, with retention and off-site sync.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $ARCHIVEKEEPER_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(retentionCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(lockCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("archivekeeper %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("ARCHIVEKEEPER_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if verbose || cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
