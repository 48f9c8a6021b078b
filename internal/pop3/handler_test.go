package pop3

import (
	"bufio"
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/mailserv/internal/lockreg"
	"github.com/infodancer/mailserv/internal/mailbox"
	"github.com/infodancer/mailserv/internal/server"
)

func setupMailbox(t *testing.T) (*mailbox.Registry, string) {
	t.Helper()
	root := t.TempDir()
	mboxDir := root + "/alice"
	if err := os.MkdirAll(mboxDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mboxDir+"/userconf.txt", []byte("password:secret\r\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mboxDir+"/MSG1", []byte("Subject: hi\r\n\r\nbody\r\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return mailbox.NewRegistry([]mailbox.Domain{{Name: "example.com", Root: root}}), mboxDir
}

func dialSession(t *testing.T, cfg Config) net.Conn {
	t.Helper()
	client, srv := net.Pipe()
	conn := server.NewConnection(srv, server.ConnectionConfig{})
	go NewHandler(cfg)(context.Background(), conn)
	return client
}

func TestPOP3AuthStatAndRset(t *testing.T) {
	registry, _ := setupMailbox(t)
	locks := lockreg.New()

	client := dialSession(t, Config{Registry: registry, Locks: locks, Hostname: "pop.example.com"})
	defer client.Close()
	r := bufio.NewReader(client)

	read := func() string {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		l, _ := r.ReadString('\n')
		return l
	}
	send := func(s string) { client.Write([]byte(s + "\r\n")) }

	read() // greeting
	send("USER alice@example.com")
	if got := read(); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("USER: got %q", got)
	}
	send("PASS secret")
	if got := read(); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("PASS: got %q", got)
	}

	send("STAT")
	if got := read(); !strings.HasPrefix(got, "+OK 1 ") {
		t.Fatalf("STAT: got %q", got)
	}

	send("DELE 1")
	read()
	send("RSET")
	read()
	send("STAT")
	if got := read(); !strings.HasPrefix(got, "+OK 1 ") {
		t.Fatalf("STAT after RSET: got %q, want count restored to 1", got)
	}

	send("QUIT")
	if got := read(); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("QUIT: got %q", got)
	}
}

func TestPOP3LockContention(t *testing.T) {
	registry, _ := setupMailbox(t)
	locks := lockreg.New()
	cfg := Config{Registry: registry, Locks: locks, Hostname: "pop.example.com"}

	first := dialSession(t, cfg)
	defer first.Close()
	r1 := bufio.NewReader(first)
	read1 := func() string {
		first.SetReadDeadline(time.Now().Add(2 * time.Second))
		l, _ := r1.ReadString('\n')
		return l
	}
	read1()
	first.Write([]byte("USER alice@example.com\r\n"))
	read1()
	first.Write([]byte("PASS secret\r\n"))
	if got := read1(); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("first PASS: got %q", got)
	}

	second := dialSession(t, cfg)
	defer second.Close()
	r2 := bufio.NewReader(second)
	read2 := func() string {
		second.SetReadDeadline(time.Now().Add(2 * time.Second))
		l, _ := r2.ReadString('\n')
		return l
	}
	read2()
	second.Write([]byte("USER alice@example.com\r\n"))
	read2()
	second.Write([]byte("PASS secret\r\n"))
	if got := read2(); !strings.HasPrefix(got, "-ERR") {
		t.Fatalf("expected second PASS to be rejected while first session is open, got %q", got)
	}
}
