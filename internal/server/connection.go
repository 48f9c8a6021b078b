package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/infodancer/mailserv/internal/logging"
)

// Connection wraps a net.Conn with idle-timeout management and optional
// full-transcript transaction logging, shared by the SMTP and POP3
// listeners.
type Connection struct {
	conn        net.Conn
	reader      *bufio.Reader
	writer      *bufio.Writer
	logger      *slog.Logger
	idleTimeout time.Duration
	logTx       bool

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool
}

// ConnectionConfig holds configuration for a new connection.
type ConnectionConfig struct {
	IdleTimeout    time.Duration
	LogTransaction bool
	Logger         *slog.Logger
}

// NewConnection creates a new Connection wrapper.
func NewConnection(conn net.Conn, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	connLogger := logging.WithConnection(logger, conn.RemoteAddr().String())

	c := &Connection{
		conn:         conn,
		logger:       connLogger,
		idleTimeout:  cfg.IdleTimeout,
		logTx:        cfg.LogTransaction,
		lastActivity: time.Now(),
	}

	var r io.Reader = conn
	var w io.Writer = conn
	if cfg.LogTransaction {
		r = logging.NewTransactionReader(conn, connLogger, "recv")
		w = logging.NewTransactionWriter(conn, connLogger, "send")
	}

	c.reader = bufio.NewReader(r)
	c.writer = bufio.NewWriter(w)

	return c
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger { return c.logger }

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Reader returns the buffered reader for the connection.
func (c *Connection) Reader() *bufio.Reader { return c.reader }

// Writer returns the buffered writer for the connection.
func (c *Connection) Writer() *bufio.Writer { return c.writer }

// Flush flushes the write buffer.
func (c *Connection) Flush() error { return c.writer.Flush() }

// ResetIdleTimeout resets the idle timeout deadline. The SMTP and POP3
// handlers call it after every command line they read; writes do not
// reset it.
func (c *Connection) ResetIdleTimeout() error {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	if c.idleTimeout > 0 {
		return c.conn.SetDeadline(time.Now().Add(c.idleTimeout))
	}
	return nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Debug("connection closed")
	return c.conn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// IdleMonitor runs in a goroutine and closes the connection once it has
// been idle for longer than idleTimeout. Spec.md §5 specifies no network
// timeout; this is a safety net, disabled by setting idleTimeout to 0.
func (c *Connection) IdleMonitor(ctx context.Context) {
	if c.idleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(c.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			idle := time.Since(c.lastActivity)
			c.mu.Unlock()

			if idle >= c.idleTimeout {
				c.logger.Info("closing idle connection", slog.Duration("idle_time", idle))
				_ = c.Close()
				return
			}
		}
	}
}
