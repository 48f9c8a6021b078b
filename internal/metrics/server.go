package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NoopServer never listens; Start blocks until ctx is done.
type NoopServer struct{}

func (NoopServer) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (NoopServer) Shutdown(context.Context) error { return nil }

// HTTPServer serves Prometheus metrics at /metrics and an arbitrary set
// of additional handlers (the status page) on the same address.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer builds a server listening on address. extra registers
// additional handlers (path -> handler) alongside /metrics, e.g. the
// status page's /status.json.
func NewHTTPServer(address string, extra map[string]http.Handler) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}

	return &HTTPServer{server: &http.Server{Addr: address, Handler: mux}}
}

// Start begins serving and blocks until ctx is canceled or the server
// fails to start.
func (s *HTTPServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
