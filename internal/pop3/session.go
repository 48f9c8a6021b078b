// Package pop3 implements the POP3 session engine of spec.md §4.7: a
// per-connection state machine over an authenticated snapshot of a
// mailbox, applying deletions only at QUIT.
package pop3

import (
	"log/slog"
	"os"

	"github.com/infodancer/mailserv/internal/lockreg"
	"github.com/infodancer/mailserv/internal/mailbox"
)

// State is one of the three POP3 session states.
type State int

const (
	StateAuthorization State = iota
	StateTransaction
	StateUpdate
)

func (s State) String() string {
	switch s {
	case StateAuthorization:
		return "AUTHORIZATION"
	case StateTransaction:
		return "TRANSACTION"
	case StateUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// MessageInfo is one message in a session's snapshot. Only Deleted may
// change after the snapshot is taken.
type MessageInfo struct {
	Path    string
	Size    int64
	Deleted bool
}

// Session is the per-connection POP3 state machine.
type Session struct {
	state State

	Registry *mailbox.Registry
	Locks    *lockreg.Registry
	Logger   *slog.Logger

	local  string
	domain string

	mailboxDir string
	messages   []MessageInfo
	locked     bool
}

// NewSession builds a Session in the AUTHORIZATION state.
func NewSession(registry *mailbox.Registry, locks *lockreg.Registry, logger *slog.Logger) *Session {
	return &Session{state: StateAuthorization, Registry: registry, Locks: locks, Logger: logger}
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// nonDeletedCount returns the number and total size of non-deleted
// messages. STAT/LIST use it, counting only non-deleted messages per
// RFC 1939 (the documented Open Question decision: see DESIGN.md).
func (s *Session) nonDeletedCount() (count int, totalSize int64) {
	for _, m := range s.messages {
		if !m.Deleted {
			count++
			totalSize += m.Size
		}
	}
	return
}

// valid reports whether n is a valid, not-yet-deleted 1-based message
// number.
func (s *Session) valid(n int) bool {
	return n >= 1 && n <= len(s.messages) && !s.messages[n-1].Deleted
}

// Close releases the mailbox lock if held. It never touches message
// files: deletions are applied only by QUIT (applyDeletions), so on an
// abrupt connection drop no deletions are committed (spec.md §4.7 "lock
// release must also happen on abnormal termination"). It is safe to call
// more than once; QUIT calls it and the handler's deferred call runs it
// again.
func (s *Session) Close() {
	if s.locked {
		s.Locks.Release(s.local, s.domain)
		s.locked = false
	}
}

// applyDeletions unlinks every message marked deleted. Returns an error
// describing the first failure, if any; per spec.md §4.7 a single
// unlink failure turns the UPDATE reply into -ERR.
func (s *Session) applyDeletions() error {
	for i := range s.messages {
		if !s.messages[i].Deleted {
			continue
		}
		if err := os.Remove(s.messages[i].Path); err != nil {
			return err
		}
	}
	return nil
}
