package ws

import (
	"log"
	"time"

	"github.com/chatwave/relay/internal/metrics"
	"github.com/chatwave/relay/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.JoinMsg, protocol.SignalMsg, etc.).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the event type. It answers the built-in ping keepalive itself.
// Malformed or unsupported frames are logged and dropped: the protocol has
// no error reply.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a MessageDispatcher bound to the given server.
// The server reference is used to send responses back to clients.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

// SetServer assigns the Server reference on the dispatcher. This supports the
// initialization pattern where the dispatcher is created before the server
// (since NewServer requires the Dispatch callback).
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates a MessageHandler with an event type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	start := time.Now()
	defer func() { metrics.EventLatency.Observe(time.Since(start).Seconds()) }()

	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error session=%s: %v", conn.ID, err)
		metrics.DroppedEventsTotal.WithLabelValues("parse_error").Inc()
		return
	}
	metrics.EventsTotal.WithLabelValues(msgType).Inc()

	// Built-in ping handler: respond immediately without requiring registration.
	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q session=%s", msgType, conn.ID)
		metrics.DroppedEventsTotal.WithLabelValues("unsupported_type").Inc()
		return
	}

	handler(conn, msg)
}

// sendPong responds to a client ping with a pong event.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	data, err := protocol.NewServerMessage(protocol.TypePong, nil)
	if err != nil {
		log.Printf("ws: failed to build pong message session=%s: %v", conn.ID, err)
		return
	}

	if d.server != nil {
		d.server.Send(conn.ID, data)
		return
	}
	conn.Enqueue(data)
}
