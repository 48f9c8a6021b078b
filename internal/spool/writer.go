package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Writer atomically materializes a file in dir: bytes are written to a
// NEW-prefixed file, which becomes visible to readers only once Commit
// renames it to the matching MSG-prefixed name. Abort (or a failed
// Commit) unlinks the NEW file instead, per spec.md §4.3/§4.5.
type Writer struct {
	f       *os.File
	newPath string
	msgPath string
	done    bool
}

// NewWriter opens a new NEW-prefixed file in dir with a unique suffix.
// Uniqueness is delegated to a random UUID rather than hand-rolled
// counters, mirroring the "platform's tempfile facility" referenced in
// spec.md §4.3.
func NewWriter(dir string) (*Writer, error) {
	suffix := uuid.New().String()
	newPath := filepath.Join(dir, NewPrefix+suffix)
	msgPath := filepath.Join(dir, MsgPrefix+suffix)

	f, err := os.OpenFile(newPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("spool: creating %s: %w", newPath, err)
	}

	return &Writer{f: f, newPath: newPath, msgPath: msgPath}, nil
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Commit closes the NEW file and renames it to its MSG name, returning
// the final path. On any failure the NEW file is unlinked.
func (w *Writer) Commit() (string, error) {
	if w.done {
		return "", fmt.Errorf("spool: writer already finalized")
	}
	w.done = true

	if err := w.f.Close(); err != nil {
		os.Remove(w.newPath)
		return "", fmt.Errorf("spool: closing %s: %w", w.newPath, err)
	}
	if err := os.Rename(w.newPath, w.msgPath); err != nil {
		os.Remove(w.newPath)
		return "", fmt.Errorf("spool: renaming %s to %s: %w", w.newPath, w.msgPath, err)
	}
	return w.msgPath, nil
}

// Abort closes and unlinks the NEW file without making it visible.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.f.Close()
	os.Remove(w.newPath)
}

// WriteMessage writes a complete spool file (header, payload, and
// terminator) to a new MSG file in dir, following the NEW->MSG commit
// protocol. The payload must already be CRLF-formatted; WriteMessage
// appends the terminator verbatim without further framing, consistent
// with spec.md §3's "stored verbatim" rule for DATA payloads.
func WriteMessage(dir string, header Header, payload io.Reader) (string, error) {
	w, err := NewWriter(dir)
	if err != nil {
		return "", err
	}

	if err := writeHeader(w, header); err != nil {
		w.Abort()
		return "", err
	}
	if _, err := io.Copy(w, payload); err != nil {
		w.Abort()
		return "", fmt.Errorf("spool: copying payload: %w", err)
	}
	if _, err := w.Write(Terminator); err != nil {
		w.Abort()
		return "", fmt.Errorf("spool: writing terminator: %w", err)
	}

	return w.Commit()
}

func writeHeader(w io.Writer, header Header) error {
	if len(header.Recipients) == 0 {
		return fmt.Errorf("spool: at least one recipient is required")
	}

	lines := make([]string, 0, 4+2*len(header.Recipients))
	lines = append(lines, Magic, header.Sender.Local, header.Sender.Domain)
	for _, rcpt := range header.Recipients {
		lines = append(lines, rcpt.Local, rcpt.Domain)
	}
	lines = append(lines, endMarker)

	for _, line := range lines {
		if _, err := fmt.Fprintf(w, "%s\r\n", line); err != nil {
			return err
		}
	}
	return nil
}

// CopyPayload delivers a raw message payload (no spool header) into a
// local mailbox directory using the same NEW->MSG rename protocol.
func CopyPayload(dir string, payload io.Reader) (string, error) {
	w, err := NewWriter(dir)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, payload); err != nil {
		w.Abort()
		return "", fmt.Errorf("spool: copying payload: %w", err)
	}
	return w.Commit()
}
