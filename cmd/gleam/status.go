package main

import (
	"context"
	"fmt"
	"time"

	gleam "github.com/gleam-social/gleam-go"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show login state and unread totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		baseURL := cfg.Default.BaseURL
		if baseURL == "" {
			baseURL = gleam.DefaultBaseURL
		}
		fmt.Printf("API:  %s\n", baseURL)

		if cfg.Auth.UserID == "" {
			fmt.Println("Auth: not logged in")
			return nil
		}
		fmt.Printf("Auth: %s (%s)\n", cfg.Auth.UserID, maskToken(cfg.Auth.Token))

		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		unread, err := client.UnreadTotal(ctx)
		if err != nil {
			fmt.Printf("Server: unreachable (%v)\n", err)
			return nil
		}
		fmt.Printf("Unread messages: %d\n", unread.Count)

		store, storage, err := getNotificationStore()
		if err == nil {
			defer storage.Close()
			if n, err := store.UnreadCount(ctx); err == nil {
				fmt.Printf("Unread notifications: %d\n", n)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
