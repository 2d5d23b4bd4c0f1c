/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/headless-cms/authserver/internal/mailer"
	"github.com/headless-cms/authserver/internal/mq"
	"github.com/headless-cms/authserver/internal/worker"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Delivers queued sign-in emails",
	Long: `Consumes OTP and magic-link notifications from the message broker
and sends them through the configured SMTP relay. Usage:

	MQ_BACKEND=rabbitmq authserver worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg.MQ)
		if errors.Is(err, mq.ErrDisabled) {
			return errors.New("worker needs a message broker: set MQ_BACKEND")
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := broker.Close(); err != nil {
				logger.Warn("close message broker", "error", err)
			}
		}()

		sender, err := mailer.New(cfg.SMTP)
		if err != nil {
			return err
		}

		return worker.NewNotificationWorker(broker, sender, logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
