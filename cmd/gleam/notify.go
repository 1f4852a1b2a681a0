package main

import (
	"context"
	"fmt"
	"time"

	gleam "github.com/gleam-social/gleam-go"
	"github.com/spf13/cobra"
)

var (
	notifyAddCategory string
	notifyAddDeeplink string
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Inspect and manage the local notification log",
}

var notifyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, storage, err := getNotificationStore()
		if err != nil {
			return err
		}
		defer storage.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		list, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range list {
			marker := "*"
			if n.Read {
				marker = " "
			}
			fmt.Printf("%s [%s] %-8s %s - %s\n", marker, n.Timestamp, n.Category, n.Title, n.Message)
			fmt.Printf("    id=%s\n", n.ID)
		}
		return nil
	},
}

var notifyAddCmd = &cobra.Command{
	Use:   "add <title> <message>",
	Short: "Append a notification to the log",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, storage, err := getNotificationStore()
		if err != nil {
			return err
		}
		defer storage.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		added, err := store.Add(ctx, gleam.Notification{
			Title:    args[0],
			Message:  args[1],
			Category: gleam.NotificationCategory(notifyAddCategory),
			Deeplink: notifyAddDeeplink,
		})
		if err != nil {
			return err
		}
		if !added {
			fmt.Println("Skipped: duplicate notification")
			return nil
		}
		fmt.Println("Added")
		return nil
	},
}

var notifyReadCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Mark one notification read, or all when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, storage, err := getNotificationStore()
		if err != nil {
			return err
		}
		defer storage.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if len(args) == 1 {
			if err := store.MarkRead(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("Marked read")
			return nil
		}
		if err := store.MarkAllRead(ctx); err != nil {
			return err
		}
		fmt.Println("Marked all read")
		return nil
	},
}

var notifyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every notification",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, storage, err := getNotificationStore()
		if err != nil {
			return err
		}
		defer storage.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if err := store.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Println("Cleared")
		return nil
	},
}

func init() {
	notifyAddCmd.Flags().StringVar(&notifyAddCategory, "category", string(gleam.CategorySystem), "notification category")
	notifyAddCmd.Flags().StringVar(&notifyAddDeeplink, "deeplink", "", "deeplink used for duplicate suppression")
	notifyCmd.AddCommand(notifyListCmd)
	notifyCmd.AddCommand(notifyAddCmd)
	notifyCmd.AddCommand(notifyReadCmd)
	notifyCmd.AddCommand(notifyClearCmd)
	rootCmd.AddCommand(notifyCmd)
}
