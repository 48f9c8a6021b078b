package pop3

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/infodancer/mailserv/internal/lockreg"
	"github.com/infodancer/mailserv/internal/mailbox"
	"github.com/infodancer/mailserv/internal/metrics"
	"github.com/infodancer/mailserv/internal/server"
)

// Config supplies a session's dependencies.
type Config struct {
	Registry *mailbox.Registry
	Locks    *lockreg.Registry
	Hostname string
	Metrics  metrics.Collector
}

// NewHandler returns a server.ConnectionHandler that runs the POP3
// engine over each accepted connection.
func NewHandler(cfg Config) server.ConnectionHandler {
	m := cfg.Metrics
	if m == nil {
		m = metrics.NoopCollector{}
	}
	return func(ctx context.Context, conn *server.Connection) {
		sess := NewSession(cfg.Registry, cfg.Locks, conn.Logger())
		h := &handler{sess: sess, conn: conn, hostname: cfg.Hostname, metrics: m}
		h.run()
	}
}

type handler struct {
	sess     *Session
	conn     *server.Connection
	hostname string
	metrics  metrics.Collector

	pendingUser string
	haveUser    bool
}

func (h *handler) run() {
	h.metrics.POP3SessionOpened()
	defer h.metrics.POP3SessionClosed()
	defer h.sess.Close()

	if err := h.writeResponse(ok("%s POP3 server ready", h.hostname)); err != nil {
		return
	}

	for {
		line, err := h.conn.Reader().ReadString('\n')
		if err != nil {
			return
		}
		_ = h.conn.ResetIdleTimeout()

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		name := strings.ToUpper(fields[0])
		args := fields[1:]

		quit, err := h.dispatch(name, args)
		if err != nil {
			return
		}
		if quit {
			return
		}
	}
}

// dispatch handles one command and writes its response(s) directly,
// since RETR streams message bytes inline rather than through a single
// buffered Response. It returns quit=true once the connection should
// close.
func (h *handler) dispatch(name string, args []string) (quit bool, err error) {
	switch h.sess.state {
	case StateAuthorization:
		resp, quit := h.dispatchAuthorization(name, args)
		return quit, h.writeResponse(resp)
	case StateTransaction:
		return h.dispatchTransaction(name, args)
	default:
		return true, h.writeResponse(errResp("session already closing"))
	}
}

func (h *handler) dispatchAuthorization(name string, args []string) (Response, bool) {
	switch name {
	case "USER":
		if len(args) != 1 {
			return errResp("USER requires exactly one argument"), false
		}
		local, domain, ok := strings.Cut(args[0], "@")
		if !ok || local == "" || domain == "" {
			return errResp("malformed mailbox"), false
		}
		if _, result := h.sess.Registry.Lookup(domain, local); result != mailbox.Ok {
			return errResp("no such mailbox"), false
		}
		h.pendingUser = args[0]
		h.haveUser = true
		return ok("send PASS"), false

	case "PASS":
		if !h.haveUser {
			return errResp("USER required first"), false
		}
		if len(args) != 1 {
			return errResp("PASS requires exactly one argument"), false
		}
		return h.handlePass(args[0])

	case "QUIT":
		h.sess.state = StateUpdate
		return ok("bye"), true

	default:
		return errResp("unknown command in AUTHORIZATION state"), false
	}
}

func (h *handler) handlePass(password string) (Response, bool) {
	local, domain, _ := strings.Cut(h.pendingUser, "@")
	mboxDir, result := h.sess.Registry.Lookup(domain, local)
	if result != mailbox.Ok {
		return errResp("no such mailbox"), false
	}

	uc, err := mailbox.LoadUserConf(mboxDir)
	if err != nil || uc.Password != password {
		return errResp("authentication failed"), false
	}

	if !h.sess.Locks.Acquire(local, domain) {
		h.metrics.POP3LockContended()
		return errResp("mailbox locked by another session"), false
	}
	h.sess.locked = true
	h.sess.local = local
	h.sess.domain = domain
	h.sess.mailboxDir = mboxDir

	files, err := mailbox.Scan(mboxDir)
	if err != nil {
		h.sess.Locks.Release(local, domain)
		h.sess.locked = false
		return errResp("unable to read mailbox"), false
	}
	h.sess.messages = make([]MessageInfo, len(files))
	for i, f := range files {
		h.sess.messages[i] = MessageInfo{Path: f.Path, Size: f.Size}
	}

	h.sess.state = StateTransaction
	return ok("mailbox ready"), false
}

// dispatchTransaction handles TRANSACTION-state commands. RETR is
// special-cased since it streams bytes directly rather than returning a
// buffered Response.
func (h *handler) dispatchTransaction(name string, args []string) (quit bool, err error) {
	if name == "RETR" {
		return false, h.handleRetr(args)
	}

	var resp Response
	switch name {
	case "STAT":
		count, size := h.sess.nonDeletedCount()
		resp = ok("%d %d", count, size)

	case "LIST":
		resp = h.handleList(args)

	case "DELE":
		resp = h.handleDele(args)

	case "NOOP":
		resp = ok("")

	case "RSET":
		for i := range h.sess.messages {
			h.sess.messages[i].Deleted = false
		}
		resp = ok("")

	case "QUIT":
		h.sess.state = StateUpdate
		if delErr := h.sess.applyDeletions(); delErr != nil {
			h.sess.Close()
			return true, h.writeResponse(errResp("failed removing some messages"))
		}
		h.sess.Close()
		return true, h.writeResponse(ok("bye"))

	default:
		resp = errResp("unknown command in TRANSACTION state")
	}

	return false, h.writeResponse(resp)
}

func (h *handler) handleList(args []string) Response {
	if len(args) == 0 {
		lines := []string{}
		for i, m := range h.sess.messages {
			if m.Deleted {
				continue
			}
			lines = append(lines, fmt.Sprintf("%d %d", i+1, m.Size))
		}
		count, size := h.sess.nonDeletedCount()
		return Response{OK: true, Message: fmt.Sprintf("%d messages (%d octets)", count, size), Lines: lines}
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || !h.sess.valid(n) {
		return errResp("no such message")
	}
	return ok("%d %d", n, h.sess.messages[n-1].Size)
}

func (h *handler) handleRetr(args []string) error {
	if len(args) != 1 {
		return h.writeResponse(errResp("RETR requires a message number"))
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || !h.sess.valid(n) {
		return h.writeResponse(errResp("no such message"))
	}

	msg := h.sess.messages[n-1]
	f, err := os.Open(msg.Path)
	if err != nil {
		return h.writeResponse(errResp("unable to read message"))
	}
	defer f.Close()

	if _, err := fmt.Fprintf(h.conn.Writer(), "+OK %d octets\r\n", msg.Size); err != nil {
		return err
	}
	if _, err := io.Copy(h.conn.Writer(), f); err != nil {
		return err
	}
	if _, err := h.conn.Writer().WriteString(".\r\n"); err != nil {
		return err
	}
	return h.conn.Flush()
}

func (h *handler) handleDele(args []string) Response {
	if len(args) != 1 {
		return errResp("DELE requires a message number")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || !h.sess.valid(n) {
		return errResp("no such message")
	}
	h.sess.messages[n-1].Deleted = true
	return ok("message %d deleted", n)
}

func (h *handler) writeResponse(resp Response) error {
	if _, err := h.conn.Writer().WriteString(resp.String()); err != nil {
		return err
	}
	return h.conn.Flush()
}
