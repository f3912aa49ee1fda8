package worker

import (
	"context"
	"io"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/pingsantohq/pptpagent/internal/events"
	"github.com/pingsantohq/pptpagent/internal/metrics"
	"github.com/pingsantohq/pptpagent/internal/pptp"
	"github.com/pingsantohq/pptpagent/internal/probe"
	"github.com/pingsantohq/pptpagent/internal/queue"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

type ResultSink interface {
	Enqueue(types.ProbeResult) bool
}

type Batcher func(context.Context, []probe.Request) ([]types.ProbeResult, error)

type Pool struct {
	jobs        <-chan Job
	results     ResultSink
	workerCount int
	batcher     Batcher
	probes      metrics.ProbeRecorder
	events      events.Recorder
	logger      *log.Logger
}

type PoolOption func(*Pool)

func WithWorkerCount(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

func WithBatcher(fn Batcher) PoolOption {
	return func(p *Pool) {
		if fn != nil {
			p.batcher = fn
		}
	}
}

func WithProbeRecorder(rec metrics.ProbeRecorder) PoolOption {
	return func(p *Pool) {
		if rec != nil {
			p.probes = rec
		}
	}
}

func WithEventRecorder(rec events.Recorder) PoolOption {
	return func(p *Pool) {
		if rec != nil {
			p.events = rec
		}
	}
}

func WithLogger(logger *log.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPool(jobs <-chan Job, results ResultSink, opts ...PoolOption) *Pool {
	p := &Pool{
		jobs:        jobs,
		results:     results,
		workerCount: runtime.NumCPU(),
		batcher:     probe.Batch,
		probes:      metrics.NoopProbeRecorder{},
		events:      events.NoopRecorder{},
		logger:      log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	if p.results == nil {
		p.results = queue.NewResultQueue(1024)
	}
	return p
}

func (p *Pool) Start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}
	return &wg
}

func (p *Pool) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.handleJob(ctx, job)
		}
	}
}

func (p *Pool) handleJob(ctx context.Context, job Job) {
	req := probe.RequestFor(job.Target, job.Timeout, job.ReadTimeout)

	results, err := p.batcher(ctx, []probe.Request{req})
	if err != nil {
		p.logger.Printf("probe %s: %v", job.Target.ID, err)
		return
	}

	for _, res := range results {
		p.probes.ObserveProbe(res.Outcome, res.AuthTested, res.ElapsedMs)
		p.recordOutcome(res)
		p.results.Enqueue(res)
	}
}

func (p *Pool) recordOutcome(res types.ProbeResult) {
	var eventType types.EventType
	switch res.Outcome {
	case pptp.KindCredentialRejected.String():
		eventType = types.EventCredentialRejected
	case pptp.KindConnectTimeout.String():
		eventType = types.EventTargetUnreachable
	default:
		return
	}
	p.events.Record(types.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TargetID:  res.TargetID,
		Details: map[string]any{
			"host":    res.Host,
			"login":   res.Login,
			"message": res.Message,
		},
	})
}
