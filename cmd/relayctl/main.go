package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatwave/relay/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Inspect and exercise a running chat relay",
	Long: `relayctl reads presence, history and health from a chat relay's HTTP
API, follows the live event stream over WebSocket and runs load benchmarks.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// RELAY_URL (or .env) supplies the default; --url wins.
	defaultURL := "http://localhost:8080"
	if cfg, err := config.Load(); err == nil {
		defaultURL = cfg.RelayURL
	}
	rootCmd.PersistentFlags().String("url", defaultURL, "relay base URL")

	rootCmd.AddCommand(usersCmd, messagesCmd, healthCmd, watchCmd, benchCmd)
}

func baseURL(cmd *cobra.Command) string {
	u, _ := cmd.Flags().GetString("url")
	return u
}
