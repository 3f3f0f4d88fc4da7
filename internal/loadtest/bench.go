package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatwave/relay/internal/chat"
	"github.com/chatwave/relay/internal/protocol"
)

const benchPrefix = "bench:"

// Config describes one bench run.
type Config struct {
	URL      string        // ws://host:port/ws
	Users    int           // concurrent simulated users
	Messages int           // broadcast messages per user
	Interval time.Duration // pause between a user's messages
	Timeout  time.Duration // how long to wait for outstanding echoes
}

// Run connects cfg.Users clients, joins each one, has every client send
// cfg.Messages broadcast messages and waits for their echoes. Results go to
// col.
func Run(ctx context.Context, cfg Config, col *Collector) error {
	if cfg.Users <= 0 {
		return fmt.Errorf("loadtest: users must be positive")
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := runUser(ctx, cfg, col, fmt.Sprintf("bench-%d", n)); err != nil {
				col.AddError()
			}
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func runUser(ctx context.Context, cfg Config, col *Collector, username string) error {
	c, err := Dial(ctx, cfg.URL)
	if err != nil {
		return err
	}
	defer c.Close()
	col.AddConnect(c.Metrics().ConnectLatency)

	var (
		mu      sync.Mutex
		pending = make(map[string]time.Time)
		echoed  int
	)
	joined := make(chan struct{})
	allEchoed := make(chan struct{})
	var joinOnce, echoOnce sync.Once

	c.On(protocol.TypeMessageHistory, func(json.RawMessage) {
		joinOnce.Do(func() { close(joined) })
	})
	c.On(protocol.TypeRateLimited, func(json.RawMessage) {
		col.AddRateLimited()
	})
	c.On(protocol.TypeMessage, func(data json.RawMessage) {
		var m chat.Message
		if err := json.Unmarshal(data, &m); err != nil || !strings.HasPrefix(m.Content, benchPrefix) {
			return
		}
		col.AddDelivered()
		if m.User.ID != c.ID() {
			return
		}

		mu.Lock()
		sentAt, ok := pending[m.Content]
		if ok {
			delete(pending, m.Content)
			echoed++
		}
		done := echoed == cfg.Messages
		mu.Unlock()
		if ok {
			col.AddEcho(time.Since(sentAt))
		}
		if done {
			echoOnce.Do(func() { close(allEchoed) })
		}
	})
	c.Run()

	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	if err := c.Join(username); err != nil {
		return err
	}
	select {
	case <-joined:
	case <-c.Done():
		return fmt.Errorf("loadtest: %s disconnected before join completed", username)
	case <-ctx.Done():
		return ctx.Err()
	}

	if cfg.Messages <= 0 {
		return nil
	}

	for i := 0; i < cfg.Messages; i++ {
		content := fmt.Sprintf("%s%s:%d", benchPrefix, c.ID(), i)
		mu.Lock()
		pending[content] = time.Now()
		mu.Unlock()
		if err := c.Emit(protocol.TypeSendMessage, protocol.SendMessageMsg{Content: content}); err != nil {
			return err
		}
		col.AddSent()

		if i < cfg.Messages-1 && cfg.Interval > 0 {
			select {
			case <-time.After(cfg.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-allEchoed:
		return nil
	case <-time.After(timeout):
		mu.Lock()
		missing := cfg.Messages - echoed
		mu.Unlock()
		return fmt.Errorf("loadtest: %s missing %d echoes", username, missing)
	case <-c.Done():
		return fmt.Errorf("loadtest: %s disconnected", username)
	case <-ctx.Done():
		return ctx.Err()
	}
}
