package metrics

// NoopCollector discards every metric. Used when metrics are disabled.
type NoopCollector struct{}

func (NoopCollector) SMTPConnectionOpened()             {}
func (NoopCollector) SMTPConnectionClosed()              {}
func (NoopCollector) SMTPCommandProcessed(string)        {}
func (NoopCollector) MessageAccepted(int64)              {}
func (NoopCollector) MessageRejected(string)              {}
func (NoopCollector) SpoolQueueDepth(int)                {}
func (NoopCollector) WorkersBusy(int)                    {}
func (NoopCollector) LocalDeliveryCompleted(bool)        {}
func (NoopCollector) RemoteDeliveryCompleted(bool)       {}
func (NoopCollector) BounceGenerated()                   {}
func (NoopCollector) BounceDropped()                     {}
func (NoopCollector) MXLookupFailed()                    {}
func (NoopCollector) POP3SessionOpened()                 {}
func (NoopCollector) POP3SessionClosed()                 {}
func (NoopCollector) POP3LockContended()                 {}
