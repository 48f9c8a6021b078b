package server

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestConnectionReadWrite(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()

	conn := NewConnection(srv, ConnectionConfig{})
	defer conn.Close()

	go func() {
		_, _ = client.Write([]byte("hello\r\n"))
	}()

	line, err := conn.Reader().ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "hello\r\n" {
		t.Errorf("got %q, want %q", line, "hello\r\n")
	}
}

func TestConnectionIdleMonitorCloses(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()

	conn := NewConnection(srv, ConnectionConfig{IdleTimeout: 20 * time.Millisecond})
	_ = conn.ResetIdleTimeout()

	done := make(chan struct{})
	go func() {
		conn.IdleMonitor(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle monitor did not close the connection")
	}

	if !conn.IsClosed() {
		t.Error("expected connection to be closed after idle timeout")
	}
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	_, srv := net.Pipe()
	conn := NewConnection(srv, ConnectionConfig{})

	if err := conn.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
