// Package metrics provides interfaces and implementations for
// collecting mailserv metrics: SMTP reception, the spool dispatcher,
// and the POP3 session engine all report through a single Collector.
package metrics

import "context"

// Collector records counters and gauges for every core component.
type Collector interface {
	// SMTP reception
	SMTPConnectionOpened()
	SMTPConnectionClosed()
	SMTPCommandProcessed(command string)
	MessageAccepted(sizeBytes int64)
	MessageRejected(reason string)

	// Spool dispatcher
	SpoolQueueDepth(n int)
	WorkersBusy(n int)
	LocalDeliveryCompleted(success bool)
	RemoteDeliveryCompleted(success bool)
	BounceGenerated()
	BounceDropped()
	MXLookupFailed()

	// POP3 session engine
	POP3SessionOpened()
	POP3SessionClosed()
	POP3LockContended()
}

// Server exposes metrics (and the status snapshot) over HTTP. It blocks
// until the context is canceled or an error occurs.
type Server interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
