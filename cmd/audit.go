/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"time"

	"github.com/headless-cms/authserver/internal/storage"
	"github.com/spf13/cobra"
)

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Manage the authentication audit trail",
}

var auditArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move old auth events to object storage",
	Long: `Writes auth events older than --older-than to the configured object store
as JSON Lines and deletes them from the database once the upload succeeds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, err := cmd.Flags().GetDuration("older-than")
		if err != nil {
			return err
		}
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, closeFn, err := openServices(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		objects, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer func() {
			if err := objects.Close(); err != nil {
				logger.Warn("close object storage", "error", err)
			}
		}()

		result, err := svc.Audit.Archive(ctx, objects, olderThan, time.Now())
		if err != nil {
			return err
		}
		if result.Events == 0 {
			logger.Info("no auth events to archive", "older_than", olderThan)
			return nil
		}
		logger.Info("auth events archived",
			"bucket", objects.Bucket(),
			"key", result.Key,
			"events", result.Events,
			"deleted", result.Deleted,
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditArchiveCmd)
	auditArchiveCmd.Flags().Duration("older-than", 30*24*time.Hour, "archive events older than this")
}
