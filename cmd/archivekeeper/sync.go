package main

import (
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/registry"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/sync"
	"github.com/nextlevelbuilder/archivekeeper/internal/config"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the archive to the configured off-site bucket",
	}
	cmd.AddCommand(syncRunCmd())
	cmd.AddCommand(syncStatusCmd())
	return cmd
}

func syncRunCmd() *cobra.Command {
	var sourceKey string
	var ifDue bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync every discovered source, or one given by --source-key",
		Long: "Sync every discovered source, or one given by --source-key.\n" +
			"With --if-due, skips the run unless sync.sync_frequency's cron\n" +
			"expression has a tick since the last recorded sync — lets a single\n" +
			"tight external cron entry drive several differently-scheduled\n" +
			"sources without archivekeeper running as a daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			mgr, reg, err := buildSyncManager(cmd, cfg)
			if err != nil {
				return err
			}
			if _, err := reg.DiscoverSources(); err != nil {
				return fmt.Errorf("discover sources: %w", err)
			}

			dueCheck := func(key string) (bool, error) {
				if !ifDue {
					return true, nil
				}
				due, err := sync.Due(cfg.Sync.SyncFrequency, mgr.LastSyncFor(key), time.Now().UTC())
				if err != nil {
					return false, err
				}
				if !due {
					fmt.Printf("%s: not due yet (sync_frequency=%q)\n", key, cfg.Sync.SyncFrequency)
				}
				return due, nil
			}

			if sourceKey != "" {
				source, ok := reg.GetSource(sourceKey)
				if !ok {
					return fmt.Errorf("unknown source key %q", sourceKey)
				}
				due, err := dueCheck(sourceKey)
				if err != nil {
					return err
				}
				if !due {
					return nil
				}
				result, err := mgr.SyncSource(cmd.Context(), sourceKey, layout.SourceDir(cfg.ArchiveRoot, source))
				if err != nil {
					return fmt.Errorf("sync source: %w", err)
				}
				printSyncResult(sourceKey, result)
				return nil
			}

			for _, source := range reg.ListSources("") {
				due, err := dueCheck(source.Key())
				if err != nil {
					return err
				}
				if !due {
					continue
				}
				result, err := mgr.SyncSource(cmd.Context(), source.Key(), layout.SourceDir(cfg.ArchiveRoot, source))
				if err != nil {
					fmt.Printf("%s: sync failed: %v\n", source.Key(), err)
					continue
				}
				printSyncResult(source.Key(), result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceKey, "source-key", "", "sync only this source (default: every discovered source)")
	cmd.Flags().BoolVar(&ifDue, "if-due", false, "skip the run unless sync.sync_frequency's cron schedule is due")
	return cmd
}

func syncStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded sync outcome per source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			mgr, _, err := buildSyncManager(cmd, cfg)
			if err != nil {
				return err
			}

			for _, state := range mgr.ListStates() {
				fmt.Printf("%s: %s (files=%d bytes=%d last_sync=%s)\n",
					state.SourceKey, state.LastStatus, state.FilesSynced, state.TotalBytes,
					state.LastSync.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
	return cmd
}

func buildSyncManager(cmd *cobra.Command, cfg *config.Config) (*sync.Manager, *registry.Registry, error) {
	if cfg.Sync.Bucket == "" {
		return nil, nil, fmt.Errorf("sync: no bucket configured (set sync.bucket in config)")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context(), awsconfig.WithRegion(cfg.Sync.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Sync.Endpoint != "" {
			o.BaseEndpoint = &cfg.Sync.Endpoint
		}
	})

	provider := sync.NewS3Provider(client, sync.S3Config{
		Bucket:            cfg.Sync.Bucket,
		PreserveStructure: true,
		ConflictStrategy:  sync.ConflictStrategy(cfg.Sync.ConflictPolicy),
	})

	reg := registry.New(cfg.ArchiveRoot)
	return sync.NewManager(cfg.ArchiveRoot, provider, reg), reg, nil
}

func printSyncResult(key string, result sync.Result) {
	fmt.Printf("%s: %s (synced=%d failed=%d bytes=%d)\n",
		key, result.Status, result.FilesSynced, result.FilesFailed, result.BytesUploaded)
	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
