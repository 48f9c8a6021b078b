// Package logging provides centralized logging for mailserv: an
// append-only formatted writer with optional size-based rotation,
// wrapped as a log/slog.Logger so every component logs through the
// same structured sink.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// contextKey is used for storing loggers in context.
type contextKey struct{}

var loggerKey = contextKey{}

// connectionCounter generates unique connection IDs for log correlation.
var connectionCounter atomic.Uint64

// Config controls where and how the logger writes.
type Config struct {
	// File is the log file path. If empty, logs go to stderr.
	File string
	// Level is one of debug, info, warn, error.
	Level string
	// Timestamp adds a timestamp attribute to every record when true.
	Timestamp bool
	// MaxBytes rotates File once it would exceed this size. Zero disables
	// rotation.
	MaxBytes int64
}

// New creates a slog.Logger per cfg. If cfg.File is set, writes go
// through a RotatingWriter; otherwise they go to stderr.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxBytes)
		if err != nil {
			return nil, nil, err
		}
		w = rw
		closer = rw
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if !cfg.Timestamp {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}

	handler := slog.NewTextHandler(w, opts)
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithConnection returns a new logger with connection-specific
// attributes, generating a unique connection ID for log correlation.
func WithConnection(logger *slog.Logger, remoteAddr string) *slog.Logger {
	connID := connectionCounter.Add(1)
	return logger.With(
		slog.Uint64("conn_id", connID),
		slog.String("remote_addr", remoteAddr),
	)
}

// WithListener returns a new logger with listener-specific attributes.
func WithListener(logger *slog.Logger, address, protocol string) *slog.Logger {
	return logger.With(
		slog.String("listener", address),
		slog.String("protocol", protocol),
	)
}

// FromContext retrieves the logger from the context, or the default
// logger if none is attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewContext returns a new context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// TransactionWriter wraps an io.Writer to log all data written, used
// for full-transcript debug logging of a protocol session.
type TransactionWriter struct {
	w      io.Writer
	logger *slog.Logger
	prefix string
}

// NewTransactionWriter creates a writer that logs all data.
func NewTransactionWriter(w io.Writer, logger *slog.Logger, prefix string) *TransactionWriter {
	return &TransactionWriter{w: w, logger: logger, prefix: prefix}
}

func (tw *TransactionWriter) Write(p []byte) (int, error) {
	n, err := tw.w.Write(p)
	if n > 0 {
		tw.logger.Debug("transaction", slog.String("direction", tw.prefix), slog.String("data", string(p[:n])))
	}
	return n, err
}

// TransactionReader wraps an io.Reader to log all data read.
type TransactionReader struct {
	r      io.Reader
	logger *slog.Logger
	prefix string
}

// NewTransactionReader creates a reader that logs all data.
func NewTransactionReader(r io.Reader, logger *slog.Logger, prefix string) *TransactionReader {
	return &TransactionReader{r: r, logger: logger, prefix: prefix}
}

func (tr *TransactionReader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	if n > 0 {
		tr.logger.Debug("transaction", slog.String("direction", tr.prefix), slog.String("data", string(p[:n])))
	}
	return n, err
}
