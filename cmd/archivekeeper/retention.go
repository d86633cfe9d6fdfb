package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/retention"
	"github.com/nextlevelbuilder/archivekeeper/internal/config"
)

func retentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Apply retention policy and manage soft-deleted summaries",
	}
	cmd.AddCommand(retentionApplyCmd())
	cmd.AddCommand(retentionListDeletedCmd())
	cmd.AddCommand(retentionRecoverCmd())
	cmd.AddCommand(retentionDeleteCmd())
	return cmd
}

func retentionApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Soft-delete summaries past retention_days and purge expired grace periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			mgr := retentionManagerFromConfig(cfg)

			applied, err := mgr.ApplyRetentionPolicy()
			if err != nil {
				return fmt.Errorf("apply retention policy: %w", err)
			}
			purged, err := mgr.CleanupExpired()
			if err != nil {
				return fmt.Errorf("cleanup expired: %w", err)
			}
			fmt.Printf("soft-deleted %d summaries past retention, permanently purged %d past grace\n", applied, purged)
			return nil
		},
	}
}

func retentionListDeletedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-deleted",
		Short: "List soft-deleted summaries awaiting recovery or purge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			mgr := retentionManagerFromConfig(cfg)
			deleted, err := mgr.ListDeleted()
			if err != nil {
				return fmt.Errorf("list deleted: %w", err)
			}
			for _, d := range deleted {
				fmt.Printf("%s  source=%s period=%s deleted_at=%s permanent_at=%s reason=%q\n",
					d.SummaryID, d.SourceKey, d.Period,
					d.DeletedAt.Format("2006-01-02"), d.PermanentDeleteAt.Format("2006-01-02"), d.Reason)
			}
			return nil
		},
	}
}

func retentionRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <summary-id>",
		Short: "Restore a soft-deleted summary to its original location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			mgr := retentionManagerFromConfig(cfg)
			found, err := mgr.Recover(args[0])
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}
			if !found {
				return fmt.Errorf("no soft-deleted summary with id %q", args[0])
			}
			fmt.Printf("recovered %s\n", args[0])
			return nil
		},
	}
}

func retentionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <summary-id>",
		Short: "Permanently delete a soft-deleted summary, archiving it first if configured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			mgr := retentionManagerFromConfig(cfg)
			found, err := mgr.PermanentDelete(args[0])
			if err != nil {
				return fmt.Errorf("permanent delete: %w", err)
			}
			if !found {
				return fmt.Errorf("no soft-deleted summary with id %q", args[0])
			}
			fmt.Printf("permanently deleted %s\n", args[0])
			return nil
		},
	}
}

func retentionManagerFromConfig(cfg *config.Config) *retention.Manager {
	return retention.New(cfg.ArchiveRoot, retention.Config{
		RetentionDays:       cfg.RetentionDays,
		SoftDeleteGraceDays: cfg.SoftDeleteGraceDays,
		ArchiveBeforeDelete: cfg.ArchiveBeforeDelete,
		ArchiveFormat:       retention.FormatZip,
	})
}
