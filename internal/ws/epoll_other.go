//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// Epoll provides a goroutine-per-connection fallback for non-Linux platforms.
// On Linux, this is replaced by the real epoll implementation. This fallback
// allows developers on macOS/Windows to run the server without the epoll
// optimization.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn // channel that receives connections with pending data
	done    chan struct{}
}

// NewEpoll creates a new fallback epoll instance that uses goroutines to
// monitor each connection for incoming data.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection and starts a goroutine that waits for it to
// become readable. conn must come from wrapConn so that waiting does not
// consume any bytes.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(conn)
	return nil
}

// monitor peeks at the connection until data or an error is available and
// then reports it ready. Like level-triggered epoll, it keeps reporting while
// unread data remains buffered.
func (e *Epoll) monitor(conn net.Conn) {
	pc, ok := conn.(*peekConn)
	if !ok {
		return
	}
	for {
		err := pc.wait()
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			// A worker's read deadline expired while we were waiting.
			_ = pc.Conn.SetReadDeadline(time.Time{})
			continue
		}

		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
		if err != nil || !e.registered(conn) {
			return
		}
		// Give the worker a moment to drain what it was handed.
		time.Sleep(time.Millisecond)
	}
}

func (e *Epoll) registered(conn net.Conn) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.conns[conn]
	return ok
}

// Remove unregisters a connection from the fallback epoll.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready for reading. It
// collects all currently ready connections from the channel and returns them.
func (e *Epoll) Wait() ([]net.Conn, error) {
	// Block until at least one connection is ready.
	first, ok := <-e.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}

	// Drain any additional ready connections without blocking.
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD is a no-op on non-Linux platforms since we don't need file
// descriptors for the goroutine-based fallback.
func socketFD(conn net.Conn) int {
	return -1
}

// peekConn buffers reads so the fallback can wait for data without taking
// it away from the frame reader.
type peekConn struct {
	net.Conn
	mu sync.Mutex
	br *bufio.Reader
}

func wrapConn(conn net.Conn) net.Conn {
	return &peekConn{Conn: conn, br: bufio.NewReader(conn)}
}

func (c *peekConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.br.Read(p)
}

// wait blocks until at least one byte is buffered or the connection fails.
func (c *peekConn) wait() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.br.Peek(1)
	return err
}
