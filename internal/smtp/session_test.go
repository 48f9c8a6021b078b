package smtp

import (
	"bufio"
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/mailserv/internal/mailbox"
	"github.com/infodancer/mailserv/internal/server"
)

func newTestRegistry(t *testing.T) (*mailbox.Registry, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(root+"/alice", 0700); err != nil {
		t.Fatal(err)
	}
	return mailbox.NewRegistry([]mailbox.Domain{{Name: "example.com", Root: root}}), root
}

func runSession(t *testing.T, cfg Config) (client net.Conn) {
	t.Helper()
	client, srv := net.Pipe()
	conn := server.NewConnection(srv, server.ConnectionConfig{})
	go func() {
		NewHandler(cfg)(context.Background(), conn)
	}()
	return client
}

func TestSMTPLocalDelivery(t *testing.T) {
	registry, _ := newTestRegistry(t)
	spoolDir := t.TempDir()

	client := runSession(t, Config{Registry: registry, SpoolDir: spoolDir, Hostname: "mail.example.com"})
	defer client.Close()
	r := bufio.NewReader(client)

	expect := func(prefix string) {
		t.Helper()
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !strings.HasPrefix(line, prefix) {
			t.Fatalf("got %q, want prefix %q", line, prefix)
		}
	}
	send := func(s string) {
		t.Helper()
		if _, err := client.Write([]byte(s + "\r\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	expect("220")
	send("HELO there")
	expect("250")
	send("MAIL FROM:<bob@other.net>")
	expect("250")
	send("RCPT TO:<alice@example.com>")
	expect("250")
	send("DATA")
	expect("354")
	send("Subject: hi")
	send("")
	send("body")
	send(".")
	expect("250")
	send("QUIT")
	expect("221")

	entries, err := os.ReadDir(spoolDir)
	if err != nil {
		t.Fatalf("spool dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 spool file, got %d", len(entries))
	}
}

func TestSMTPUnknownMailboxRejected(t *testing.T) {
	registry, _ := newTestRegistry(t)
	spoolDir := t.TempDir()

	client := runSession(t, Config{Registry: registry, SpoolDir: spoolDir, Hostname: "mail.example.com"})
	defer client.Close()
	r := bufio.NewReader(client)

	read := func() string {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, _ := r.ReadString('\n')
		return line
	}
	send := func(s string) { client.Write([]byte(s + "\r\n")) }

	read() // 220
	send("HELO x")
	read()
	send("MAIL FROM:<bob@other.net>")
	read()
	send("RCPT TO:<carol@example.com>")
	if got := read(); !strings.HasPrefix(got, "550") {
		t.Fatalf("got %q, want 550", got)
	}
}

func TestSMTPOverlongCommandLineRejected(t *testing.T) {
	registry, _ := newTestRegistry(t)
	spoolDir := t.TempDir()

	client := runSession(t, Config{Registry: registry, SpoolDir: spoolDir, Hostname: "mail.example.com"})
	defer client.Close()
	r := bufio.NewReader(client)

	read := func() string {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, _ := r.ReadString('\n')
		return line
	}

	read() // 220
	long := "HELO " + strings.Repeat("a", 600)
	client.Write([]byte(long + "\r\n"))
	if got := read(); !strings.HasPrefix(got, "500") {
		t.Fatalf("got %q, want 500", got)
	}

	// connection remains usable
	client.Write([]byte("NOOP\r\n"))
	if got := read(); !strings.HasPrefix(got, "250") {
		t.Fatalf("got %q, want 250", got)
	}
}

func TestSMTPOverlongDataLineRejected(t *testing.T) {
	registry, _ := newTestRegistry(t)
	spoolDir := t.TempDir()

	client := runSession(t, Config{Registry: registry, SpoolDir: spoolDir, Hostname: "mail.example.com"})
	defer client.Close()
	r := bufio.NewReader(client)

	read := func() string {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, _ := r.ReadString('\n')
		return line
	}
	send := func(s string) { client.Write([]byte(s + "\r\n")) }

	read() // 220
	send("HELO there")
	read()
	send("MAIL FROM:<bob@other.net>")
	read()
	send("RCPT TO:<alice@example.com>")
	read()
	send("DATA")
	if got := read(); !strings.HasPrefix(got, "354") {
		t.Fatalf("got %q, want 354", got)
	}

	send(strings.Repeat("a", 1100))
	send(".")
	if got := read(); !strings.HasPrefix(got, "500") {
		t.Fatalf("got %q, want 500", got)
	}

	entries, err := os.ReadDir(spoolDir)
	if err != nil {
		t.Fatalf("spool dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no spool file for rejected message, got %d", len(entries))
	}

	// connection remains usable and the transaction was reset
	send("MAIL FROM:<bob@other.net>")
	if got := read(); !strings.HasPrefix(got, "250") {
		t.Fatalf("got %q, want 250", got)
	}
}
