package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector with real Prometheus metrics.
type PrometheusCollector struct {
	smtpConnectionsTotal  prometheus.Counter
	smtpConnectionsActive prometheus.Gauge
	smtpCommandsTotal     *prometheus.CounterVec
	messagesAcceptedTotal prometheus.Counter
	messagesSizeBytes     prometheus.Histogram
	messagesRejectedTotal *prometheus.CounterVec

	spoolQueueDepth   prometheus.Gauge
	workersBusy       prometheus.Gauge
	localDeliveries   *prometheus.CounterVec
	remoteDeliveries  *prometheus.CounterVec
	bouncesGenerated  prometheus.Counter
	bouncesDropped    prometheus.Counter
	mxLookupFailures  prometheus.Counter

	pop3SessionsTotal  prometheus.Counter
	pop3SessionsActive prometheus.Gauge
	pop3LockContention prometheus.Counter
}

// NewPrometheusCollector creates and registers every metric against reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		smtpConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailserv_smtp_connections_total",
			Help: "Total number of SMTP connections accepted.",
		}),
		smtpConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailserv_smtp_connections_active",
			Help: "Number of currently open SMTP connections.",
		}),
		smtpCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailserv_smtp_commands_total",
			Help: "Total number of SMTP commands processed, by command.",
		}, []string{"command"}),
		messagesAcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailserv_messages_accepted_total",
			Help: "Total number of messages accepted for spooling.",
		}),
		messagesSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailserv_message_size_bytes",
			Help:    "Size of accepted messages in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760},
		}),
		messagesRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailserv_messages_rejected_total",
			Help: "Total number of messages rejected, by reason.",
		}, []string{"reason"}),

		spoolQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailserv_spool_queue_depth",
			Help: "Number of spool files currently queued for dispatch.",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailserv_dispatch_workers_busy",
			Help: "Number of dispatcher workers currently processing a spool file.",
		}),
		localDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailserv_local_deliveries_total",
			Help: "Total number of local mailbox delivery attempts, by result.",
		}, []string{"result"}),
		remoteDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailserv_remote_deliveries_total",
			Help: "Total number of remote SMTP delivery attempts, by result.",
		}, []string{"result"}),
		bouncesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailserv_bounces_generated_total",
			Help: "Total number of bounce messages generated.",
		}),
		bouncesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailserv_bounces_dropped_total",
			Help: "Total number of bounce messages dropped after a failed send.",
		}),
		mxLookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailserv_mx_lookup_failures_total",
			Help: "Total number of failed MX lookups.",
		}),

		pop3SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailserv_pop3_sessions_total",
			Help: "Total number of POP3 sessions accepted.",
		}),
		pop3SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailserv_pop3_sessions_active",
			Help: "Number of currently open POP3 sessions.",
		}),
		pop3LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailserv_pop3_lock_contention_total",
			Help: "Total number of PASS attempts rejected because the mailbox lock was already held.",
		}),
	}

	reg.MustRegister(
		c.smtpConnectionsTotal, c.smtpConnectionsActive, c.smtpCommandsTotal,
		c.messagesAcceptedTotal, c.messagesSizeBytes, c.messagesRejectedTotal,
		c.spoolQueueDepth, c.workersBusy, c.localDeliveries, c.remoteDeliveries,
		c.bouncesGenerated, c.bouncesDropped, c.mxLookupFailures,
		c.pop3SessionsTotal, c.pop3SessionsActive, c.pop3LockContention,
	)

	return c
}

func (c *PrometheusCollector) SMTPConnectionOpened() {
	c.smtpConnectionsTotal.Inc()
	c.smtpConnectionsActive.Inc()
}

func (c *PrometheusCollector) SMTPConnectionClosed() {
	c.smtpConnectionsActive.Dec()
}

func (c *PrometheusCollector) SMTPCommandProcessed(command string) {
	c.smtpCommandsTotal.WithLabelValues(command).Inc()
}

func (c *PrometheusCollector) MessageAccepted(sizeBytes int64) {
	c.messagesAcceptedTotal.Inc()
	c.messagesSizeBytes.Observe(float64(sizeBytes))
}

func (c *PrometheusCollector) MessageRejected(reason string) {
	c.messagesRejectedTotal.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) SpoolQueueDepth(n int) {
	c.spoolQueueDepth.Set(float64(n))
}

func (c *PrometheusCollector) WorkersBusy(n int) {
	c.workersBusy.Set(float64(n))
}

func (c *PrometheusCollector) LocalDeliveryCompleted(success bool) {
	c.localDeliveries.WithLabelValues(resultLabel(success)).Inc()
}

func (c *PrometheusCollector) RemoteDeliveryCompleted(success bool) {
	c.remoteDeliveries.WithLabelValues(resultLabel(success)).Inc()
}

func (c *PrometheusCollector) BounceGenerated() {
	c.bouncesGenerated.Inc()
}

func (c *PrometheusCollector) BounceDropped() {
	c.bouncesDropped.Inc()
}

func (c *PrometheusCollector) MXLookupFailed() {
	c.mxLookupFailures.Inc()
}

func (c *PrometheusCollector) POP3SessionOpened() {
	c.pop3SessionsTotal.Inc()
	c.pop3SessionsActive.Inc()
}

func (c *PrometheusCollector) POP3SessionClosed() {
	c.pop3SessionsActive.Dec()
}

func (c *PrometheusCollector) POP3LockContended() {
	c.pop3LockContention.Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
