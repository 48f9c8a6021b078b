package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/infodancer/mailserv/internal/logging"
)

// ConnectionHandler handles one accepted connection. It should return
// once the session is complete; the listener closes the connection
// afterward.
type ConnectionHandler func(ctx context.Context, conn *Connection)

// Listener manages a single TCP listener accepting connections for one
// protocol (SMTP or POP3).
type Listener struct {
	address string
	name    string
	connCfg ConnectionConfig
	handler ConnectionHandler
	logger  *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

// ListenerConfig holds configuration for creating a new Listener.
type ListenerConfig struct {
	Address        string
	Name           string
	IdleTimeout    time.Duration
	LogTransaction bool
	Logger         *slog.Logger
	Handler        ConnectionHandler
}

// NewListener creates a new Listener with the given configuration.
func NewListener(cfg ListenerConfig) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		address: cfg.Address,
		name:    cfg.Name,
		connCfg: ConnectionConfig{
			IdleTimeout:    cfg.IdleTimeout,
			LogTransaction: cfg.LogTransaction,
			Logger:         logger,
		},
		handler: cfg.Handler,
		logger:  logging.WithListener(logger, cfg.Address, cfg.Name),
	}
}

// Start begins listening for connections. It returns at once if the
// address cannot be bound; otherwise it blocks until ctx is cancelled.
// An unrecoverable accept error is logged and stops accepting, but does
// not make Start return.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info("listener started", slog.String("address", l.address))

	go l.acceptLoop(ctx)

	<-ctx.Done()

	l.logger.Info("listener shutting down")
	if err := l.Close(); err != nil {
		l.logger.Debug("error closing listener", slog.String("error", err.Error()))
	}

	l.wg.Wait()

	l.logger.Info("listener stopped")
	return ctx.Err()
}

func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				l.logger.Warn("temporary accept error", slog.String("error", err.Error()))
				time.Sleep(5 * time.Millisecond)
				continue
			}

			l.logger.Error("accept error", slog.String("error", err.Error()))
			return
		}

		l.wg.Add(1)
		go l.handleConnection(ctx, conn)
	}
}

func (l *Listener) handleConnection(ctx context.Context, netConn net.Conn) {
	defer l.wg.Done()

	conn := NewConnection(netConn, l.connCfg)
	conn.Logger().Info("connection accepted")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	connCtx = logging.NewContext(connCtx, conn.Logger())

	if err := conn.ResetIdleTimeout(); err != nil {
		conn.Logger().Error("failed to set initial timeout", slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	go conn.IdleMonitor(connCtx)

	if l.handler != nil {
		l.handler(connCtx, conn)
	}

	_ = conn.Close()
	conn.Logger().Info("connection closed")
}

// Close stops the listener from accepting new connections. In-flight
// connections are not interrupted; the acceptor's next idle wakeup
// observes the stop per spec.md §5's cancellation model.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// Address returns the listener's bound address.
func (l *Listener) Address() string { return l.address }
