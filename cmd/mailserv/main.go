// Command mailserv runs the combined SMTP receiver, spool dispatcher,
// and POP3 server described in spec.md.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/infodancer/mailserv/internal/config"
	"github.com/infodancer/mailserv/internal/dispatch"
	"github.com/infodancer/mailserv/internal/lockreg"
	"github.com/infodancer/mailserv/internal/logging"
	"github.com/infodancer/mailserv/internal/mailbox"
	"github.com/infodancer/mailserv/internal/metrics"
	"github.com/infodancer/mailserv/internal/mxresolve"
	"github.com/infodancer/mailserv/internal/pop3"
	"github.com/infodancer/mailserv/internal/remote"
	"github.com/infodancer/mailserv/internal/server"
	"github.com/infodancer/mailserv/internal/smtp"
	"github.com/infodancer/mailserv/internal/statuspage"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	flags := config.ParseFlags()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(logging.Config{
		File:      cfg.LogFile,
		Level:     cfg.LogLevel,
		Timestamp: cfg.LogTimestamp,
		MaxBytes:  cfg.LogMaxBytes,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	domains := make([]mailbox.Domain, len(cfg.Domains))
	for i, d := range cfg.Domains {
		domains[i] = mailbox.Domain{Name: d.Name, Root: d.Mailboxes}
	}
	registry := mailbox.NewRegistry(domains)
	locks := lockreg.New()

	resolver, err := mxresolve.New("/etc/resolv.conf")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating MX resolver: %v\n", err)
		os.Exit(1)
	}

	var collector metrics.Collector = metrics.NoopCollector{}
	if cfg.MetricsEnabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}
	tracker := newStatusTracker(collector)

	smtpListener := server.NewListener(server.ListenerConfig{
		Address:        fmt.Sprintf(":%d", cfg.SMTPPort),
		Name:           "smtp",
		IdleTimeout:    5 * time.Minute,
		LogTransaction: cfg.LogLevel == "debug",
		Logger:         logger,
		Handler: smtp.NewHandler(smtp.Config{
			Registry: registry,
			SpoolDir: cfg.SendDir,
			Hostname: cfg.Hostname,
			Metrics:  tracker,
		}),
	})

	pop3Listener := server.NewListener(server.ListenerConfig{
		Address:        fmt.Sprintf(":%d", cfg.POP3Port),
		Name:           "pop3",
		IdleTimeout:    10 * time.Minute,
		LogTransaction: cfg.LogLevel == "debug",
		Logger:         logger,
		Handler: pop3.NewHandler(pop3.Config{
			Registry: registry,
			Locks:    locks,
			Hostname: cfg.Hostname,
			Metrics:  tracker,
		}),
	})

	dispatcher := &dispatch.Dispatcher{
		SpoolDir:     cfg.SendDir,
		Registry:     registry,
		Resolver:     resolver,
		Hostname:     cfg.Hostname,
		Workers:      cfg.SenderThreads,
		ScanInterval: cfg.ScanInterval,
		Dialer:       remote.NewDialer(30 * time.Second),
		Metrics:      tracker,
		Logger:       logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, finishing in-flight work before exit", "signal", sig.String())
		cancel()
	}()

	start := time.Now()
	listenerNames := []string{smtpListener.Address(), pop3Listener.Address()}

	var metricsServer metrics.Server = metrics.NoopServer{}
	if cfg.MetricsEnabled {
		extra := map[string]http.Handler{
			"/status.json": statuspage.Handler(start, listenerNames, tracker.reader()),
		}
		metricsServer = metrics.NewHTTPServer(cfg.MetricsAddress, extra)
	}

	errCh := make(chan error, 4)
	go func() { errCh <- smtpListener.Start(ctx) }()
	go func() { errCh <- pop3Listener.Start(ctx) }()
	go func() { errCh <- dispatcher.Run(ctx) }()
	go func() { errCh <- metricsServer.Start(ctx) }()

	logger.Info("mailserv started",
		"hostname", cfg.Hostname,
		"smtp_addr", smtpListener.Address(),
		"pop3_addr", pop3Listener.Address(),
		"domains", len(cfg.Domains))

	for i := 0; i < 4; i++ {
		if err := <-errCh; err != nil && err != context.Canceled {
			logger.Error("component exited with error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = smtpListener.Close()
	_ = pop3Listener.Close()

	logger.Info("mailserv stopped")
}

// statusTracker wraps a metrics.Collector, also keeping the live counts
// the status page reports (spec.md §1/§3) since Collector itself is
// write-only. It provides statuspage.Source through reader(), which
// returns a statusReader, since Collector and Source both define a
// method named SpoolQueueDepth with different signatures.
type statusTracker struct {
	metrics.Collector
	spoolDepth   int64
	pop3Sessions int64
}

func newStatusTracker(inner metrics.Collector) *statusTracker {
	return &statusTracker{Collector: inner}
}

func (t *statusTracker) SpoolQueueDepth(n int) {
	atomic.StoreInt64(&t.spoolDepth, int64(n))
	t.Collector.SpoolQueueDepth(n)
}

func (t *statusTracker) POP3SessionOpened() {
	atomic.AddInt64(&t.pop3Sessions, 1)
	t.Collector.POP3SessionOpened()
}

func (t *statusTracker) POP3SessionClosed() {
	atomic.AddInt64(&t.pop3Sessions, -1)
	t.Collector.POP3SessionClosed()
}

func (t *statusTracker) reader() statuspage.Source {
	return statusReader{t}
}

// statusReader adapts statusTracker's atomic counters to
// statuspage.Source without colliding with the Collector method names
// statusTracker also implements.
type statusReader struct {
	t *statusTracker
}

func (r statusReader) SpoolQueueDepth() int {
	return int(atomic.LoadInt64(&r.t.spoolDepth))
}

func (r statusReader) POP3SessionsActive() int {
	return int(atomic.LoadInt64(&r.t.pop3Sessions))
}

var _ statuspage.Source = statusReader{}
