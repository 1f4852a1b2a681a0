package main

import (
	"context"
	"fmt"
	"time"

	gleam "github.com/gleam-social/gleam-go"
	"github.com/spf13/cobra"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		index := gleam.NewConversationIndex(client)
		summaries, err := index.Summaries(ctx)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}

		for _, s := range summaries {
			name := s.OtherUserName
			if name == "" {
				name = s.OtherUserID
			}
			marker := " "
			if s.UnreadCount > 0 {
				marker = fmt.Sprintf("(%d)", s.UnreadCount)
			}
			fmt.Printf("%-20s %-3s %s  %s\n",
				name, marker, s.LastMessageAt.Local().Format("Jan 02 15:04"), truncate(s.LastMessage, 60))
		}
		return nil
	},
}

var inboxReadCmd = &cobra.Command{
	Use:   "read <user-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		index := gleam.NewConversationIndex(client)
		index.SetActive(args[0])
		if err := index.MarkRead(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Marked conversation with %s as read\n", args[0])
		return nil
	},
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	inboxCmd.AddCommand(inboxReadCmd)
	rootCmd.AddCommand(inboxCmd)
}
