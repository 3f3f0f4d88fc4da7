package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// associated metadata. Outbound frames go through a bounded queue drained by
// one writer goroutine, so producers never block on a slow client.
type Connection struct {
	ID         string     // connection ID (UUID)
	Conn       net.Conn   // underlying TCP connection
	Fd         int        // file descriptor for epoll lookups
	CreatedAt  time.Time  // when the connection was established
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
	lastSeen   int64      // unix nanos of the last frame received
	send       chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
}

func newConnection(id string, conn net.Conn, fd int, queueSize int) *Connection {
	now := time.Now()
	return &Connection{
		ID:        id,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: now,
		lastSeen:  now.UnixNano(),
		send:      make(chan []byte, queueSize),
		closed:    make(chan struct{}),
	}
}

// Enqueue queues a text frame for the writer goroutine. It never blocks and
// reports false when the queue is full or the connection is closed.
func (c *Connection) Enqueue(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// writeLoop drains the send queue until the connection closes. A failed
// write is reported to onError once and ends the loop.
func (c *Connection) writeLoop(writeTimeout time.Duration, onError func(*Connection, error)) {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			if writeTimeout > 0 {
				_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			}
			err := c.WriteMessage(data)
			// Clear the deadline so it doesn't affect heartbeat pings.
			_ = c.Conn.SetWriteDeadline(time.Time{})
			if err != nil {
				onError(c, err)
				return
			}
		}
	}
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Touch records that a frame was just received.
func (c *Connection) Touch() {
	atomic.StoreInt64(&c.lastSeen, time.Now().UnixNano())
}

// LastSeen returns when the last frame was received.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastSeen))
}

// Close stops the writer and closes the underlying network connection. It
// is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// file descriptors to their respective Connection objects. It supports O(1)
// lookups by both ID and fd.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection // connection id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	if conn.Fd >= 0 {
		cm.byFd[conn.Fd] = conn
	}
	cm.mu.Unlock()
}

// Remove removes a connection by ID, closes it, and removes it from both
// lookup maps. Returns true if the connection was found and removed, false
// if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if cm.byFd[conn.Fd] == conn {
			delete(cm.byFd, conn.Fd)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	if fd < 0 {
		return cm.getByNetConn(c)
	}
	return cm.GetByFd(fd)
}

// getByNetConn is the lookup used where file descriptors are unavailable.
func (cm *ConnectionManager) getByNetConn(c net.Conn) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, conn := range cm.byID {
		if conn.Conn == c {
			return conn
		}
	}
	return nil
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
