package dispatch

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/mailserv/internal/mailbox"
	"github.com/infodancer/mailserv/internal/mxresolve"
	"github.com/infodancer/mailserv/internal/spool"
)

type rejectDialer struct{}

func (rejectDialer) Dial(network, address string) (net.Conn, error) {
	return nil, os.ErrDeadlineExceeded
}

func writeSpoolFile(t *testing.T, dir string, header spool.Header, payload string) string {
	t.Helper()
	path, err := spool.WriteMessage(dir, header, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("writing spool file: %v", err)
	}
	return path
}

func TestDispatcherLocalDelivery(t *testing.T) {
	spoolDir := t.TempDir()
	mailRoot := t.TempDir()
	if err := os.MkdirAll(mailRoot+"/alice", 0700); err != nil {
		t.Fatal(err)
	}

	registry := mailbox.NewRegistry([]mailbox.Domain{{Name: "example.com", Root: mailRoot}})

	writeSpoolFile(t, spoolDir, spool.Header{
		Sender:     spool.Address{Local: "bob", Domain: "other.net"},
		Recipients: []spool.Address{{Local: "alice", Domain: "example.com"}},
	}, "Subject: hi\r\n\r\nbody\r\n")

	d := &Dispatcher{
		SpoolDir:     spoolDir,
		Registry:     registry,
		Resolver:     mxresolveStub(t),
		Hostname:     "mail.example.com",
		Workers:      2,
		ScanInterval: 20 * time.Millisecond,
		Dialer:       rejectDialer{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	entries, err := os.ReadDir(mailRoot + "/alice")
	if err != nil {
		t.Fatalf("reading mailbox: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(entries))
	}

	remaining, err := os.ReadDir(spoolDir)
	if err != nil {
		t.Fatalf("reading spool dir: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected spool file to be unlinked, found %d", len(remaining))
	}
}

func mxresolveStub(t *testing.T) *mxresolve.Resolver {
	t.Helper()
	// A resolver with no usable servers; remote lookups will fail and
	// are exercised separately in TestDispatcherRemoteFailureBounces.
	r, err := mxresolve.New(os.DevNull)
	if err != nil {
		t.Fatalf("building resolver: %v", err)
	}
	return r
}

func TestDispatcherRemoteFailureBounces(t *testing.T) {
	spoolDir := t.TempDir()
	mailRoot := t.TempDir()
	if err := os.MkdirAll(mailRoot+"/bob", 0700); err != nil {
		t.Fatal(err)
	}
	registry := mailbox.NewRegistry([]mailbox.Domain{{Name: "example.com", Root: mailRoot}})

	writeSpoolFile(t, spoolDir, spool.Header{
		Sender:     spool.Address{Local: "bob", Domain: "example.com"},
		Recipients: []spool.Address{{Local: "x", Domain: "remote.invalid"}},
	}, "Subject: hi\r\n\r\nbody\r\n")

	d := &Dispatcher{
		SpoolDir:     spoolDir,
		Registry:     registry,
		Resolver:     mxresolveStub(t),
		Hostname:     "mail.example.com",
		Workers:      1,
		ScanInterval: 20 * time.Millisecond,
		Dialer:       rejectDialer{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	remaining, err := os.ReadDir(spoolDir)
	if err != nil {
		t.Fatalf("reading spool dir: %v", err)
	}
	// The original message is unlinked; the bounce addressed back to
	// bob@example.com is spooled in its place, picked up by the next scan,
	// delivered to bob's local mailbox, and unlinked in turn.
	if len(remaining) != 0 {
		t.Fatalf("expected original and bounce spool files to be unlinked, found %d", len(remaining))
	}

	bounces, err := os.ReadDir(mailRoot + "/bob")
	if err != nil {
		t.Fatalf("reading sender mailbox: %v", err)
	}
	if len(bounces) != 1 {
		t.Fatalf("expected exactly 1 bounce delivered to the sender, got %d", len(bounces))
	}
}
