package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/lock"
)

func lockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and clean up stale generation locks",
	}
	cmd.AddCommand(lockCleanupCmd())
	return cmd
}

func lockCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Force-release any lock whose TTL has expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			mgr := lock.New(time.Duration(cfg.LockTTLSeconds)*time.Second, "archivekeeper-cli")
			n, err := mgr.CleanupExpiredLocks(cfg.ArchiveRoot)
			if err != nil {
				return fmt.Errorf("cleanup expired locks: %w", err)
			}
			fmt.Printf("released %d expired lock(s)\n", n)
			return nil
		},
	}
}
