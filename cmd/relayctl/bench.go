package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatwave/relay/internal/loadtest"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Connect simulated users and measure broadcast echo latency",
	RunE: func(cmd *cobra.Command, _ []string) error {
		wsURL, err := websocketURL(baseURL(cmd))
		if err != nil {
			return err
		}

		users, _ := cmd.Flags().GetInt("users")
		messages, _ := cmd.Flags().GetInt("messages")
		interval, _ := cmd.Flags().GetDuration("interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		col := loadtest.NewCollector()
		runErr := loadtest.Run(ctx, loadtest.Config{
			URL:      wsURL,
			Users:    users,
			Messages: messages,
			Interval: interval,
			Timeout:  timeout,
		}, col)
		col.Report(os.Stdout)

		if runErr == context.Canceled {
			return nil
		}
		return runErr
	},
}

func init() {
	benchCmd.Flags().Int("users", 50, "concurrent users")
	benchCmd.Flags().Int("messages", 10, "messages per user")
	// The default stays under the relay's default 20 messages per 10s.
	benchCmd.Flags().Duration("interval", 600*time.Millisecond, "pause between a user's messages")
	benchCmd.Flags().Duration("timeout", 15*time.Second, "wait for outstanding echoes")
}
