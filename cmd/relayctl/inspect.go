package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/chatwave/relay/internal/chat"
	"github.com/chatwave/relay/internal/presence"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List joined users and their presence status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var users []presence.Connection
		if err := getJSON(cmd.Context(), baseURL(cmd)+"/api/users", &users); err != nil {
			return err
		}

		table := newTable([]string{"ID", "Username", "Status", "Joined"})
		for _, u := range users {
			table.Append([]string{u.ID, u.Username, statusCell(u.Status), u.JoinedAt.Local().Format(time.Kitchen)})
		}
		table.Render()
		fmt.Printf("%d joined\n", len(users))
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Print the broadcast message log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var messages []chat.Message
		if err := getJSON(cmd.Context(), baseURL(cmd)+"/api/messages", &messages); err != nil {
			return err
		}

		last, _ := cmd.Flags().GetInt("last")
		if last > 0 && len(messages) > last {
			messages = messages[len(messages)-last:]
		}

		table := newTable([]string{"ID", "Time", "User", "Type", "Content", "Reactions"})
		for _, m := range messages {
			table.Append([]string{
				m.ID,
				m.Timestamp.Local().Format(time.TimeOnly),
				m.User.Username,
				string(m.Kind),
				summarize(m),
				reactionSummary(m.Reactions),
			})
		}
		table.Render()
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show relay health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var health map[string]interface{}
		if err := getJSON(cmd.Context(), baseURL(cmd)+"/health", &health); err != nil {
			fmt.Println(color.Red.Sprint("DOWN"))
			return err
		}

		table := newTable([]string{"Field", "Value"})
		for _, key := range []string{"status", "connections", "uptime", "goroutines", "rss_bytes", "cpu_percent"} {
			v, ok := health[key]
			if !ok {
				continue
			}
			cell := fmt.Sprint(v)
			if key == "status" && cell == "ok" {
				cell = color.Green.Sprint(cell)
			}
			if key == "rss_bytes" {
				if n, ok := v.(float64); ok {
					cell = fmt.Sprintf("%.1f MiB", n/(1<<20))
				}
			}
			table.Append([]string{key, cell})
		}
		table.Render()
		return nil
	},
}

func init() {
	messagesCmd.Flags().Int("last", 0, "show only the newest N messages")
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func getJSON(ctx context.Context, url string, v interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func statusCell(s presence.Status) string {
	if s == presence.StatusOnline {
		return color.Green.Sprint(s)
	}
	return color.Gray.Sprint(s)
}

func summarize(m chat.Message) string {
	switch m.Kind {
	case chat.KindImage, chat.KindFile:
		label := fmt.Sprintf("[%s %s]", m.FileType, m.FileName)
		if m.Content != "" {
			label += " " + m.Content
		}
		return label
	case chat.KindSystem:
		return color.Gray.Sprint(m.Content)
	}
	if r := []rune(m.Content); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return m.Content
}

func reactionSummary(reactions map[string][]string) string {
	var parts []string
	for emoji, users := range reactions {
		if len(users) > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", emoji, len(users)))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
