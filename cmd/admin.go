/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// adminCmd represents the admin command
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage CMS accounts",
}

var adminSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create an admin account or promote an existing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if email == "" {
			return errors.New("--email is required")
		}

		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, closeFn, err := openServices(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		var hash string
		if password != "" {
			if hash, err = svc.Auth.HashPassword(password); err != nil {
				return err
			}
		}

		user, created, err := svc.Users.EnsureAdmin(cmd.Context(), email, username, hash)
		if err != nil {
			return err
		}
		if created {
			cmd.Printf("created admin %s (%s)\n", user.Email, user.ID)
		} else {
			cmd.Printf("promoted %s (%s) to admin\n", user.Email, user.ID)
		}
		return nil
	},
}

var adminDeactivateCmd = &cobra.Command{
	Use:   "deactivate EMAIL",
	Short: "Block an account from signing in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], false)
	},
}

var adminActivateCmd = &cobra.Command{
	Use:   "activate EMAIL",
	Short: "Allow a deactivated account to sign in again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], true)
	},
}

var adminDeleteCmd = &cobra.Command{
	Use:   "delete EMAIL",
	Short: "Remove an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, closeFn, err := openServices(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := svc.Users.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminSeedCmd, adminDeactivateCmd, adminActivateCmd, adminDeleteCmd)
	adminSeedCmd.Flags().String("email", "", "admin email address")
	adminSeedCmd.Flags().String("username", "", "username for a new account (derived from the email when empty)")
	adminSeedCmd.Flags().String("password", "", "password; leave empty for passwordless sign-in")
}

func setActive(cmd *cobra.Command, email string, active bool) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, closeFn, err := openServices(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	user, err := svc.Users.SetActive(cmd.Context(), email, active)
	if err != nil {
		return err
	}
	cmd.Printf("%s active: %t\n", user.Email, user.IsActive)
	return nil
}
