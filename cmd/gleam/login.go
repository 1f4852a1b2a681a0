package main

import (
	"context"
	"fmt"
	"time"

	gleam "github.com/gleam-social/gleam-go"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <user-id> <token>",
	Short: "Store credentials and verify them against the API",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, token := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var opts []gleam.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, gleam.WithBaseURL(cfg.Default.BaseURL))
		}
		client := gleam.NewClient(userID, token, opts...)

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		// A lightweight authenticated call doubles as credential check.
		if _, err := client.UnreadTotal(ctx); err != nil {
			return fmt.Errorf("credential check failed: %w", err)
		}

		cfg.Auth.UserID = userID
		cfg.Auth.Token = token
		if err := saveConfig(cfg); err != nil {
			return err
		}

		fmt.Printf("Logged in as %s\n", userID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
