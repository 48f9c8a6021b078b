package logging

import (
	"fmt"
	"os"
	"sync"
)

// RotatingWriter is an append-only log file writer that rotates to a
// single ".1" backup once the file would exceed maxBytes, grounded on
// original_source/src/log.cpp's size-based rotation (rename current to
// backup, unlink any prior backup, reopen fresh). Every write happens
// under the writer's own mutex, matching the "logger holds its own
// mutex" shape in spec.md §9's Globals note.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	f        *os.File
	size     int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, maxBytes int64) (*RotatingWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &RotatingWriter{path: path, maxBytes: maxBytes, f: f, size: info.Size()}, nil
}

// Write appends p, rotating first if the write would exceed maxBytes.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) rotateLocked() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("logging: closing %s before rotation: %w", w.path, err)
	}

	backup := w.path + ".1"
	os.Remove(backup)
	if err := os.Rename(w.path, backup); err != nil {
		return fmt.Errorf("logging: rotating %s: %w", w.path, err)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logging: reopening %s after rotation: %w", w.path, err)
	}
	w.f = f
	w.size = 0
	return nil
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
