// Package dispatch implements the spool dispatcher of spec.md §4.5: a
// directory scanner and worker pool that fans out each accepted spool
// file to local mailboxes and remote MX hosts, generating bounces on
// remote failure.
package dispatch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"

	"github.com/infodancer/mailserv/internal/bounce"
	"github.com/infodancer/mailserv/internal/mailbox"
	"github.com/infodancer/mailserv/internal/metrics"
	"github.com/infodancer/mailserv/internal/mxresolve"
	"github.com/infodancer/mailserv/internal/remote"
	"github.com/infodancer/mailserv/internal/spool"
)

// Dispatcher scans SpoolDir for MSG* files and fans each one out.
type Dispatcher struct {
	SpoolDir     string
	Registry     *mailbox.Registry
	Resolver     *mxresolve.Resolver
	Hostname     string
	Workers      int
	ScanInterval time.Duration
	Dialer       remote.Dialer
	Metrics      metrics.Collector
	Logger       *slog.Logger

	busy    int64
	pending int64
}

// Run starts the scanner and worker pool. It blocks until ctx is
// cancelled; in-flight workers finish their current spool file before
// returning, per spec.md §5's cancellation model.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.Metrics == nil {
		d.Metrics = metrics.NoopCollector{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	workers := d.Workers
	if workers <= 0 {
		workers = 5
	}

	paths := make(chan string, 4096)
	// rescanSem is the "queue is empty; rescan needed" signal of spec.md
	// §4.5, not a worker concurrency limiter (worker count is already
	// bounded by the fixed pool of goroutines below). Weight 1: the
	// scanner acquires it before every scan pass ("wait on queue empty",
	// step 1) and it is released either by the scanner itself when a
	// pass finds nothing, or by the last-to-finish worker once the
	// queue has fully drained (step 5), whichever the spec calls for.
	rescanSem := semaphore.NewWeighted(1)

	var watcher *fsnotify.Watcher
	if w, err := fsnotify.NewWatcher(); err == nil {
		watcher = w
		if err := watcher.Add(d.SpoolDir); err != nil {
			d.Logger.Warn("fsnotify watch failed, falling back to polling only",
				slog.String("error", err.Error()))
		}
		defer watcher.Close()
	} else {
		d.Logger.Warn("fsnotify unavailable, falling back to polling only",
			slog.String("error", err.Error()))
	}

	var scanWG sync.WaitGroup
	scanWG.Add(1)
	go func() {
		defer scanWG.Done()
		d.scan(ctx, paths, watcher, rescanSem)
	}()

	var workerWG sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case p, ok := <-paths:
					if !ok {
						return
					}
					n := atomic.AddInt64(&d.busy, 1)
					d.Metrics.WorkersBusy(int(n))
					d.process(p)
					atomic.AddInt64(&d.busy, -1)
					d.finishPath(rescanSem)
				}
			}
		}()
	}

	<-ctx.Done()
	scanWG.Wait()
	workerWG.Wait()
	return ctx.Err()
}

// scan enumerates MSG* files and feeds their paths to the queue,
// following spec.md §4.5's scanner steps directly: (1) wait on queue
// empty — rescanSem.Acquire, held by the scanner until the queue
// drains again; (2)-(3) enumerate and push; (4) if none were found,
// release the permit immediately (the queue was already empty) and
// sleep scan_interval, or wake early on an fsnotify event; (5) when
// files were pushed, rescanSem stays held until finishPath's
// last-to-finish worker releases it, which is what unblocks this
// loop's next Acquire.
func (d *Dispatcher) scan(ctx context.Context, out chan<- string, watcher *fsnotify.Watcher, rescanSem *semaphore.Weighted) {
	interval := d.ScanInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		if err := rescanSem.Acquire(ctx, 1); err != nil {
			return
		}

		files, err := mailbox.Scan(d.SpoolDir)
		if err != nil {
			d.Logger.Error("spool scan failed", slog.String("error", err.Error()))
			files = nil
		}

		if len(files) == 0 {
			d.Metrics.SpoolQueueDepth(0)
			rescanSem.Release(1)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-events:
			}
			continue
		}

		d.Metrics.SpoolQueueDepth(len(files))
		atomic.StoreInt64(&d.pending, int64(len(files)))
		for _, f := range files {
			select {
			case out <- f.Path:
			case <-ctx.Done():
				return
			}
		}
		// rescanSem remains held: finishPath releases it once every
		// pushed path has been processed, re-arming the next Acquire.
	}
}

// finishPath records that one queued path has finished processing
// (successfully or not) and, if it was the last outstanding one,
// releases rescanSem — the "last-to-finish worker re-signals the
// scanner" rule of spec.md §4.5 step 5.
func (d *Dispatcher) finishPath(rescanSem *semaphore.Weighted) {
	if atomic.AddInt64(&d.pending, -1) == 0 {
		rescanSem.Release(1)
	}
}

// process handles one spool file per spec.md §4.5 steps 1-5.
func (d *Dispatcher) process(path string) {
	parsed, err := spool.Parse(path)
	if err != nil {
		if err == spool.ErrIncomplete {
			return
		}
		d.Logger.Warn("unlinking corrupt spool file",
			slog.String("path", path), slog.String("error", err.Error()))
		_ = os.Remove(path)
		return
	}
	defer parsed.Close()

	var failures []bounce.Failure
	for _, rcpt := range parsed.Header.Recipients {
		if mboxPath, result := d.Registry.Lookup(rcpt.Domain, rcpt.Local); result != mailbox.DomainNotLocal {
			d.deliverLocal(mboxPath, rcpt, parsed, result)
			continue
		}
		d.deliverRemote(rcpt, parsed, &failures)
	}

	if len(failures) > 0 {
		d.generateBounce(parsed, failures)
	}

	if err := os.Remove(path); err != nil {
		d.Logger.Error("failed to unlink dispatched spool file",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) deliverLocal(mboxPath string, rcpt spool.Address, parsed *spool.Parsed, result mailbox.LookupResult) {
	if result == mailbox.MailboxNotFound {
		d.Logger.Info("local mailbox not found, dropping recipient",
			slog.String("recipient", rcpt.String()))
		d.Metrics.LocalDeliveryCompleted(false)
		return
	}

	if _, err := spool.CopyPayload(mboxPath, parsed.Payload()); err != nil {
		d.Logger.Error("local delivery failed",
			slog.String("recipient", rcpt.String()), slog.String("error", err.Error()))
		d.Metrics.LocalDeliveryCompleted(false)
		return
	}
	d.Metrics.LocalDeliveryCompleted(true)
}

func (d *Dispatcher) deliverRemote(rcpt spool.Address, parsed *spool.Parsed, failures *[]bounce.Failure) {
	mxHost, err := d.Resolver.Lookup(rcpt.Domain)
	if err != nil {
		d.Logger.Warn("mx lookup failed", slog.String("domain", rcpt.Domain), slog.String("error", err.Error()))
		d.Metrics.MXLookupFailed()
		d.Metrics.RemoteDeliveryCompleted(false)
		*failures = append(*failures, bounce.Failure{Recipient: rcpt, Reason: bounce.ReasonHostNotFound, Detail: err.Error()})
		return
	}

	// A bounce's null envelope sender goes out as "<>", not "<@>".
	sender := parsed.Header.Sender.String()
	if parsed.Header.Sender.Local == "" && parsed.Header.Sender.Domain == "" {
		sender = ""
	}
	// remote.Send expects the payload to end in CRLF.CRLF; Payload()
	// excludes the terminator, so append the file's own terminator bytes.
	payload := io.MultiReader(parsed.Payload(), bytes.NewReader(spool.Terminator))
	result := remote.Send(d.Dialer, mxHost, d.Hostname, sender, rcpt.String(), payload)
	d.Metrics.RemoteDeliveryCompleted(result.Delivered)
	if !result.Delivered {
		*failures = append(*failures, bounce.Failure{Recipient: rcpt, Reason: result.Reason, Detail: result.Detail})
	}
}

// generateBounce builds and spools an RFC 3462 failure report for
// failures, addressed back to the original sender. A bounce whose own
// remote send later fails is logged and dropped, never re-bounced, per
// spec.md §4.5's loop-avoidance rule.
func (d *Dispatcher) generateBounce(parsed *spool.Parsed, failures []bounce.Failure) {
	if parsed.Header.Sender.Local == "" && parsed.Header.Sender.Domain == "" {
		d.Logger.Info("suppressing bounce for a message with an empty sender")
		d.Metrics.BounceDropped()
		return
	}

	header, payload, err := bounce.Build(bounce.Context{
		Hostname:       d.Hostname,
		OriginalSender: parsed.Header.Sender,
		Failures:       failures,
		OriginalHeader: parsed.Header,
		Now:            time.Now(),
	})
	if err != nil {
		d.Logger.Warn("bounce generation failed", slog.String("error", err.Error()))
		d.Metrics.BounceDropped()
		return
	}

	if _, err := spool.WriteMessage(d.SpoolDir, header, bytes.NewReader(payload)); err != nil {
		d.Logger.Warn("failed to spool bounce message", slog.String("error", err.Error()))
		d.Metrics.BounceDropped()
		return
	}
	d.Metrics.BounceGenerated()
}
