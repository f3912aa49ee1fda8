package metrics

type QueueRecorder interface {
	ObserveQueueDepth(depth int)
	ObserveQueueCapacity(capacity int)
	IncQueueDrops()
}

type NoopQueueRecorder struct{}

func (NoopQueueRecorder) ObserveQueueDepth(depth int)       {}
func (NoopQueueRecorder) ObserveQueueCapacity(capacity int) {}
func (NoopQueueRecorder) IncQueueDrops()                    {}

// ProbeRecorder counts completed probes by outcome.
type ProbeRecorder interface {
	ObserveProbe(outcome string, authTested bool, elapsedMs float64)
}

type NoopProbeRecorder struct{}

func (NoopProbeRecorder) ObserveProbe(outcome string, authTested bool, elapsedMs float64) {}

// SinkRecorder tracks delivery of result batches.
type SinkRecorder interface {
	ObserveSend(results int, err error)
}

type NoopSinkRecorder struct{}

func (NoopSinkRecorder) ObserveSend(results int, err error) {}
