/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/headless-cms/authserver/internal/server"
	"github.com/spf13/cobra"
)

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deletes expired codes and magic links",
	Long: `Deletes expired one-time codes and magic links, plus consumed ones past
their retention period. With --every the cleanup repeats until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		every, err := cmd.Flags().GetDuration("every")
		if err != nil {
			return err
		}
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, closeFn, err := openServices(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := runCleanup(ctx, svc, logger); err != nil || every <= 0 {
			return err
		}

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := runCleanup(ctx, svc, logger); err != nil {
					logger.Error("cleanup failed", "error", err)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().Duration("every", 0, "repeat at this interval instead of running once")
}

func runCleanup(ctx context.Context, svc server.Services, logger *slog.Logger) error {
	now := time.Now().UTC()
	codes, err := svc.OTP.Cleanup(ctx, now)
	if err != nil {
		return err
	}
	links, err := svc.MagicLink.Cleanup(ctx, now)
	if err != nil {
		return err
	}
	logger.Info("cleanup finished", "otp_codes_deleted", codes, "magic_links_deleted", links)
	return nil
}
