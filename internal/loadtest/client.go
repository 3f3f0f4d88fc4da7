// Package loadtest drives simulated chat users against a running relay. Each
// Client connects with gobwas/ws, learns its id from the connected event and
// tracks its own traffic; a Collector aggregates latencies across clients.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/chatwave/relay/internal/protocol"
)

// Metrics tracks per-connection counters.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client is one simulated user. Handlers run on the read goroutine and
// should not block.
type Client struct {
	conn      net.Conn
	writeMu   sync.Mutex
	mu        sync.Mutex
	id        string
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay's /ws endpoint. Register handlers with On
// before calling Run.
func Dial(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)
	return c, nil
}

// On registers the handler for a server event type. The handler receives
// the event's data field. A second registration replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// Run starts the read goroutine.
func (c *Client) Run() {
	go c.readLoop()
}

// Emit sends an event with the given payload. It is goroutine-safe.
func (c *Client) Emit(msgType string, payload interface{}) error {
	data, err := json.Marshal(map[string]interface{}{"type": msgType, "data": payload})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		c.addError()
		return err
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return nil
}

// Join emits a join event with username.
func (c *Client) Join(username string) error {
	return c.Emit(protocol.TypeJoin, protocol.JoinMsg{Username: username})
}

// WaitReady blocks until the server has sent the connection id.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed before connected event")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID returns the connection id assigned by the server.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Metrics returns a copy of the client's counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) addError() {
	c.mu.Lock()
	c.metrics.Errors++
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Closed on purpose.
			default:
				c.addError()
			}
			return
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		c.mu.Unlock()

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.addError()
			continue
		}

		if env.Type == protocol.TypeConnected {
			var hello protocol.ConnectedMsg
			if err := json.Unmarshal(env.Data, &hello); err == nil && hello.ID != "" {
				c.mu.Lock()
				first := c.id == ""
				c.id = hello.ID
				c.mu.Unlock()
				if first {
					close(c.ready)
				}
			}
		}

		if handler, ok := c.handlers[env.Type]; ok {
			handler(env.Data)
		}
	}
}
