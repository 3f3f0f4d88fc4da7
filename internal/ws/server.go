// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, maintaining active client connections, reading frames
// through an epoll loop and delivering outbound frames through per-connection
// send queues.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/chatwave/relay/internal/metrics"
	"github.com/chatwave/relay/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string          // address to listen on, e.g. ":8080"
	WorkerPoolSize int             // max concurrent read-worker goroutines
	MaxConnections int             // hard cap on total connections
	ReadTimeout    time.Duration   // timeout for WebSocket read operations
	WriteTimeout   time.Duration   // timeout for WebSocket write operations
	SendQueueSize  int             // outbound frames buffered per connection
	MaxFrameBytes  int64           // inbound frames above this close the connection
	AllowedOrigins []string        // CORS origins for the HTTP API ("*" for any)
	ReleaseMode    bool            // gin release mode
	Heartbeat      HeartbeatConfig // protocol-level ping schedule
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  256,
		MaxFrameBytes:  8 << 20,
		AllowedOrigins: []string{"*"},
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections to WebSocket, registers them with an epoll
// instance for I/O readiness notifications, and dispatches ready connections
// to a bounded worker pool for frame reading.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(connID string)                 // called when a connection is removed
	routes       []func(gin.IRouter)
	httpServer   *http.Server
	done         chan struct{}
	stopOnce     sync.Once
	startedAt    time.Time // server start time for uptime calculation
}

// NewServer creates a Server with the given configuration and message
// callback. The onMessage function is called from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
// Frames from one connection are never handled concurrently.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = 1
	}
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// Open initializes the epoll instance and starts the event loop and the
// heartbeat monitor. Start calls it; tests that serve Handler themselves
// call it directly.
func (s *Server) Open() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()

	// Start the epoll event loop in the background.
	go s.startEventLoop()

	// Start the heartbeat monitor to detect and close dead connections.
	StartHeartbeat(s, s.config.Heartbeat)
	return nil
}

// Start opens the server and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	if err := s.Open(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Handler(),
	}

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d, send_queue=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections, s.config.SendQueueSize)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader. On success it creates a Connection, starts
// its writer, registers it with the connection manager and epoll instance,
// and tells the client its id.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Enforce maximum connection limit.
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	// Upgrade the HTTP connection to WebSocket.
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	conn = wrapConn(conn)
	fd := socketFD(conn)
	connID := uuid.New().String()
	c := newConnection(connID, conn, fd, s.config.SendQueueSize)
	go c.writeLoop(s.config.WriteTimeout, s.writeFailed)

	// Tell the client its id before any other frame can be queued.
	connected, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{ID: connID})
	if err != nil {
		log.Printf("ws: failed to build connected for session %s: %v", connID, err)
	} else {
		c.Enqueue(connected)
	}

	// Register the connection in the manager and epoll.
	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("ws: epoll add failed for session %s: %v", connID, err)
		s.conns.Remove(connID)
		return
	}
	metrics.ConnectionsTotal.Inc()

	log.Printf("ws: new connection session=%s fd=%d (total=%d)", connID, fd, s.conns.Count())
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Printf("ws: epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn // capture for goroutine

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error, etc.) the connection is removed from
// epoll and the connection manager.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// Don't kill the connection; the heartbeat handles dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Clear read deadline after successful frame read.
	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.Touch()

	// Handle control frames without removing the connection.
	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
			return
		}
		// Pong/ping: connection is alive, discard any payload.
		if header.Length > 0 {
			_, _ = io.CopyN(io.Discard, reader, header.Length)
		}
		return
	}

	if s.config.MaxFrameBytes > 0 && header.Length > s.config.MaxFrameBytes {
		log.Printf("ws: frame of %d bytes exceeds limit session=%s", header.Length, c.ID)
		metrics.DroppedEventsTotal.WithLabelValues("frame_too_large").Inc()
		s.RemoveConnection(c)
		return
	}

	// Read data frame payload.
	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// SetOnDisconnect registers a callback invoked once when a connection is
// removed (due to read error, heartbeat timeout, full send queue or graceful
// close).
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, and closes the underlying network connection. It is exported so
// that the heartbeat monitor can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when multiple goroutines race to remove
	// the same connection (e.g., read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	log.Printf("ws: connection closed session=%s (total=%d)", c.ID, s.conns.Count())
}

// Send queues a frame for the connection identified by connID. It never
// blocks. A recipient whose queue is full is considered stuck: the frame is
// dropped and the connection is closed from a separate goroutine, because
// callers may hold locks that the disconnect callback needs.
func (s *Server) Send(connID string, data []byte) bool {
	c := s.conns.Get(connID)
	if c == nil {
		metrics.OutboundDroppedTotal.Inc()
		return false
	}
	if c.Enqueue(data) {
		return true
	}

	metrics.OutboundDroppedTotal.Inc()
	if !c.IsClosed() {
		log.Printf("ws: send queue full session=%s, closing", c.ID)
		go s.RemoveConnection(c)
	}
	return false
}

// writeFailed is called by a connection's writer goroutine when a write
// fails.
func (s *Server) writeFailed(c *Connection, err error) {
	if !c.IsClosed() {
		log.Printf("ws: write failed session=%s: %v", c.ID, err)
	}
	s.RemoveConnection(c)
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, closes all active connections,
// and cleans up the epoll instance.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	// Signal the event loop to stop.
	s.stopOnce.Do(func() { close(s.done) })

	// Stop accepting new HTTP connections with a deadline.
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	// Close all active WebSocket connections.
	for _, c := range s.conns.All() {
		if s.epoll != nil {
			_ = s.epoll.Remove(c.Conn)
		}
		if s.conns.Remove(c.ID) {
			metrics.ConnectionsTotal.Dec()
		}
	}

	// Close the epoll instance.
	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EINTR) ||
		err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
