// Package smtp implements the inbound SMTP protocol engine of spec.md
// §4.4: one instance per accepted connection, single-threaded, driving
// the spool writer to materialize accepted transactions.
package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/infodancer/mailserv/internal/mailbox"
	"github.com/infodancer/mailserv/internal/metrics"
	"github.com/infodancer/mailserv/internal/server"
	"github.com/infodancer/mailserv/internal/spool"
)

const (
	maxCommandLine = 512
	maxDataLine    = 1000
)

// transaction holds the in-progress MAIL/RCPT/DATA state for one SMTP
// transaction. Reset after a successful DATA or by RSET.
type transaction struct {
	haveSender bool
	sender     spool.Address
	senderNull bool
	recipients []spool.Address
}

func (t *transaction) reset() { *t = transaction{} }

// Session drives one SMTP connection to completion.
type Session struct {
	conn     *server.Connection
	registry *mailbox.Registry
	spoolDir string
	hostname string
	metrics  metrics.Collector
	logger   *slog.Logger

	helo string
	tx   transaction
}

// Config supplies a Session's dependencies.
type Config struct {
	Registry *mailbox.Registry
	SpoolDir string
	Hostname string
	Metrics  metrics.Collector
}

// NewHandler returns a server.ConnectionHandler that runs the SMTP
// engine over each accepted connection.
func NewHandler(cfg Config) server.ConnectionHandler {
	m := cfg.Metrics
	if m == nil {
		m = metrics.NoopCollector{}
	}
	return func(ctx context.Context, conn *server.Connection) {
		s := &Session{
			conn:     conn,
			registry: cfg.Registry,
			spoolDir: cfg.SpoolDir,
			hostname: cfg.Hostname,
			metrics:  m,
			logger:   conn.Logger(),
		}
		s.run()
	}
}

// run reads and dispatches commands until QUIT or an unrecoverable I/O
// error.
func (s *Session) run() {
	s.metrics.SMTPConnectionOpened()
	defer s.metrics.SMTPConnectionClosed()

	if err := s.reply(220, fmt.Sprintf("%s mailserv ready", s.hostname)); err != nil {
		return
	}

	for {
		line, overflowed, err := readCommandLine(s.conn.Reader(), maxCommandLine)
		if err != nil {
			return
		}
		_ = s.conn.ResetIdleTimeout()

		if overflowed {
			if err := s.reply(500, "line too long"); err != nil {
				return
			}
			continue
		}

		keyword, arg := splitCommand(line)
		s.metrics.SMTPCommandProcessed(strings.ToUpper(keyword))

		quit, err := s.dispatch(keyword, arg)
		if err != nil {
			return
		}
		if quit {
			return
		}
	}
}

func (s *Session) dispatch(keyword, arg string) (quit bool, err error) {
	switch strings.ToUpper(keyword) {
	case "HELO":
		s.helo = arg
		return false, s.reply(250, s.hostname)
	case "EHLO":
		s.helo = arg
		return false, s.reply(250, s.hostname)
	case "MAIL":
		return false, s.handleMail(arg)
	case "RCPT":
		return false, s.handleRcpt(arg)
	case "DATA":
		return false, s.handleData()
	case "RSET":
		s.tx.reset()
		return false, s.reply(250, "OK")
	case "NOOP":
		return false, s.reply(250, "OK")
	case "VRFY":
		return false, s.reply(502, "not implemented")
	case "QUIT":
		_ = s.reply(221, fmt.Sprintf("%s closing connection", s.hostname))
		return true, nil
	default:
		return false, s.reply(500, "unrecognized command")
	}
}

func (s *Session) handleMail(arg string) error {
	path, ok := stripPrefixFold(arg, "FROM:")
	if !ok {
		return s.reply(501, "syntax error in MAIL FROM")
	}
	addr, isNull, ok := ParsePath(strings.TrimSpace(path))
	if !ok {
		return s.reply(553, "invalid mailbox")
	}

	s.tx.reset()
	s.tx.haveSender = true
	s.tx.senderNull = isNull
	s.tx.sender = addr
	return s.reply(250, "OK")
}

func (s *Session) handleRcpt(arg string) error {
	if !s.tx.haveSender {
		return s.reply(503, "need MAIL before RCPT")
	}
	path, ok := stripPrefixFold(arg, "TO:")
	if !ok {
		return s.reply(501, "syntax error in RCPT TO")
	}
	addr, isNull, ok := ParsePath(strings.TrimSpace(path))
	if !ok || isNull {
		return s.reply(553, "invalid mailbox")
	}

	if s.registry != nil {
		_, result := s.registry.Lookup(addr.Domain, addr.Local)
		if result == mailbox.MailboxNotFound {
			return s.reply(550, "mailbox not found")
		}
	}

	s.tx.recipients = append(s.tx.recipients, addr)
	return s.reply(250, "OK")
}

func (s *Session) handleData() error {
	if !s.tx.haveSender {
		return s.reply(503, "need MAIL before DATA")
	}
	if len(s.tx.recipients) == 0 {
		return s.reply(554, "no valid recipients")
	}

	if err := s.reply(354, "start mail input; end with <CRLF>.<CRLF>"); err != nil {
		return err
	}

	payload, err := readDataPayload(s.conn.Reader(), maxDataLine)
	if err != nil {
		if err == ErrDataLineTooLong {
			s.tx.reset()
			return s.reply(500, "line too long")
		}
		return err
	}

	header := spool.Header{Sender: s.tx.sender, Recipients: s.tx.recipients}
	if _, err := spool.WriteMessage(s.spoolDir, header, strings.NewReader(payload)); err != nil {
		s.logger.Error("spool write failed", slog.String("error", err.Error()))
		s.tx.reset()
		return s.reply(452, "unable to store message")
	}

	s.metrics.MessageAccepted(int64(len(payload)))
	s.tx.reset()
	return s.reply(250, "OK")
}

// reply writes a single-line SMTP reply and flushes.
func (s *Session) reply(code int, text string) error {
	if _, err := fmt.Fprintf(s.conn.Writer(), "%d %s\r\n", code, text); err != nil {
		return err
	}
	return s.conn.Flush()
}

// stripPrefixFold strips a case-insensitive prefix (e.g. "FROM:") and
// returns the remainder, trimmed. ok is false if arg does not begin
// with prefix.
func stripPrefixFold(arg, prefix string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	return arg[len(prefix):], true
}

// splitCommand splits a command line into its keyword and argument.
func splitCommand(line string) (keyword, arg string) {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx+1:])
}
