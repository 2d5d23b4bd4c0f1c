/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"
	"os"

	"github.com/headless-cms/authserver/config"
	"github.com/headless-cms/authserver/internal/logging"
	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "authserver",
	Short: "Authentication service for the headless CMS",
	Long: `Authentication service for the headless CMS: password, emailed code
and magic-link sign-in, session tokens and the admin auth settings.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().Int("port", 0, "HTTP port (overrides SERVER_PORT)")
	rootCmd.PersistentFlags().String("environment", "", "development or production")
	rootCmd.PersistentFlags().String("log-format", "", "json or text")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
}

// loadConfig reads the configuration for cmd and installs the default logger.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.SetDefault(cfg.Log.Format, cfg.Log.Level)
	return cfg, logger, nil
}
