package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/chatwave/relay/internal/chat"
	"github.com/chatwave/relay/internal/presence"
	"github.com/chatwave/relay/internal/protocol"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join the chat and print live events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("name")

		wsURL, err := websocketURL(baseURL(cmd))
		if err != nil {
			return err
		}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", wsURL, err)
		}
		defer conn.Close()

		join, _ := json.Marshal(map[string]interface{}{
			"type": protocol.TypeJoin,
			"data": protocol.JoinMsg{Username: name},
		})
		if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
			return err
		}

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		go func() {
			<-interrupt
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) || strings.Contains(err.Error(), "use of closed") {
					return nil
				}
				return err
			}
			printEvent(data)
		}
	},
}

func init() {
	watchCmd.Flags().String("name", "relayctl", "username to join with")
}

// websocketURL turns an http(s) base URL into the relay's /ws endpoint.
func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func printEvent(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fmt.Println(color.Red.Sprintf("invalid frame: %s", data))
		return
	}

	stamp := color.Gray.Sprint(time.Now().Format(time.TimeOnly))
	switch env.Type {
	case protocol.TypeConnected:
		var m protocol.ConnectedMsg
		_ = json.Unmarshal(env.Data, &m)
		fmt.Printf("%s connected as %s\n", stamp, color.Cyan.Sprint(m.ID))

	case protocol.TypeMessage:
		var m chat.Message
		_ = json.Unmarshal(env.Data, &m)
		fmt.Printf("%s #%s %s: %s %s\n", stamp, m.ID, color.Bold.Sprint(m.User.Username), summarize(m), reactionSummary(m.Reactions))

	case protocol.TypeMessageHistory:
		var history []chat.Message
		_ = json.Unmarshal(env.Data, &history)
		fmt.Printf("%s history: %d messages\n", stamp, len(history))

	case protocol.TypePresenceList:
		var users []presence.Connection
		_ = json.Unmarshal(env.Data, &users)
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.Username+"("+statusCell(u.Status)+")")
		}
		fmt.Printf("%s presence: %s\n", stamp, strings.Join(names, ", "))

	case protocol.TypeUserTyping, protocol.TypeUserStopTyping:
		var u presence.Connection
		_ = json.Unmarshal(env.Data, &u)
		fmt.Printf("%s %s %s\n", stamp, u.Username, strings.ReplaceAll(env.Type, "_", " "))

	default:
		fmt.Printf("%s %s %s\n", stamp, color.Yellow.Sprint(env.Type), env.Data)
	}
}
