package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	gleam "github.com/gleam-social/gleam-go"
	"github.com/spf13/cobra"
)

var (
	chatHistoryLimit int
	chatPollInterval time.Duration
	chatNoPush       bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <user-id>",
	Short: "Open a live conversation",
	Long: `Open a conversation with another user: loads recent history, keeps the
view current over push and poll, and sends lines typed on stdin.
Type /quit to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		otherUserID := args[0]

		client, err := getClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		store := gleam.NewMessageStore()
		index := gleam.NewConversationIndex(client)
		index.SetActive(otherUserID)

		sender := gleam.NewOptimisticSendManager(client, store, otherUserID,
			gleam.WithActivityHook(index.Invalidate))

		var push *gleam.PushClient
		schedOpts := []gleam.SchedulerOption{
			gleam.WithPollInterval(chatPollInterval),
			gleam.WithTypingCallback(func(p gleam.TypingPayload) {
				if p.IsTyping {
					fmt.Printf("  %s is typing...\n", p.UserID)
				}
			}),
			gleam.WithReadReceiptCallback(sender.ApplyReadReceipt),
			gleam.WithUpdateCallback(func() { printTranscript(client.UserID(), store) }),
		}

		if !chatNoPush {
			push = gleam.NewPushClient(client, nil)
			if err := push.Connect(ctx); err != nil {
				slog.Warn("push unavailable, continuing poll-only", "error", err)
				push = nil
			} else {
				defer push.Disconnect()
				schedOpts = append(schedOpts, gleam.WithPushSource(push))
			}
		}

		scheduler := gleam.NewSyncScheduler(client, store, otherUserID, schedOpts...)

		histCtx, histCancel := context.WithTimeout(ctx, 30*time.Second)
		if _, err := scheduler.LoadHistory(histCtx, chatHistoryLimit); err != nil {
			histCancel()
			return fmt.Errorf("load history: %w", err)
		}
		histCancel()

		scheduler.Start(ctx)
		defer scheduler.Stop()

		printTranscript(client.UserID(), store)
		_ = index.MarkRead(ctx, otherUserID)

		fmt.Printf("-- chatting with %s, /quit to leave --\n", otherUserID)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				break
			}
			sendCtx, sendCancel := context.WithTimeout(ctx, 15*time.Second)
			if _, err := sender.Send(sendCtx, line); err != nil {
				fmt.Printf("  send failed: %v\n", err)
			}
			sendCancel()
			printTranscript(client.UserID(), store)
		}
		return scanner.Err()
	},
}

// printTranscript redraws the full conversation, oldest first.
func printTranscript(selfID string, store *gleam.MessageStore) {
	msgs := store.Messages()
	fmt.Println(strings.Repeat("-", 60))
	for _, m := range msgs {
		who := m.SenderID
		if m.SenderID == selfID {
			who = "me"
		}
		state := ""
		if m.SenderID == selfID {
			state = " [" + string(m.State) + "]"
		}
		fmt.Printf("%s %-12s %s%s\n",
			m.CreatedAt.Local().Format("15:04"), who, m.Content, state)
	}
}

func init() {
	chatCmd.Flags().IntVar(&chatHistoryLimit, "limit", 50, "number of history messages to load")
	chatCmd.Flags().DurationVar(&chatPollInterval, "poll-interval", gleam.DefaultPollInterval, "incremental poll cadence")
	chatCmd.Flags().BoolVar(&chatNoPush, "no-push", false, "disable the realtime push channel")
	rootCmd.AddCommand(chatCmd)
}
