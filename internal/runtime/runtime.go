package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/pingsantohq/pptpagent/internal/events"
	"github.com/pingsantohq/pptpagent/internal/metrics"
	"github.com/pingsantohq/pptpagent/internal/queue"
	"github.com/pingsantohq/pptpagent/internal/scheduler"
	"github.com/pingsantohq/pptpagent/internal/transmit"
	"github.com/pingsantohq/pptpagent/internal/worker"
)

type Option func(*config)

type config struct {
	queueCapacity int
	jobBuffer     int
	schedulerOpts []scheduler.Option
	workerOpts    []worker.PoolOption
	metricsStore  *metrics.Store
	events        events.Recorder
}

func WithQueueCapacity(cap int) Option {
	return func(c *config) {
		if cap > 0 {
			c.queueCapacity = cap
		}
	}
}

func WithJobBuffer(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.jobBuffer = size
		}
	}
}

func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(c *config) {
		c.schedulerOpts = append(c.schedulerOpts, opts...)
	}
}

func WithWorkerOptions(opts ...worker.PoolOption) Option {
	return func(c *config) {
		c.workerOpts = append(c.workerOpts, opts...)
	}
}

func WithMetricsStore(store *metrics.Store) Option {
	return func(c *config) {
		c.metricsStore = store
	}
}

func WithEventRecorder(rec events.Recorder) Option {
	return func(c *config) {
		c.events = rec
	}
}

// Runtime wires the scheduler, the worker pool and the result queue.
type Runtime struct {
	jobs      chan worker.Job
	results   *queue.ResultQueue
	scheduler *scheduler.Scheduler
	pool      *worker.Pool
	metrics   *metrics.Store
}

func New(opts ...Option) *Runtime {
	cfg := config{
		queueCapacity: 1024,
		jobBuffer:     64,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	jobs := make(chan worker.Job, cfg.jobBuffer)
	results := queue.NewResultQueue(cfg.queueCapacity)
	workerOpts := append([]worker.PoolOption(nil), cfg.workerOpts...)
	if cfg.metricsStore != nil {
		results.SetMetricsRecorder(cfg.metricsStore.QueueRecorder())
		workerOpts = append(workerOpts, worker.WithProbeRecorder(cfg.metricsStore.ProbeRecorder()))
	}
	if cfg.events != nil {
		results.SetEventRecorder(cfg.events)
		workerOpts = append(workerOpts, worker.WithEventRecorder(cfg.events))
	}

	return &Runtime{
		jobs:      jobs,
		results:   results,
		scheduler: scheduler.New(jobs, cfg.schedulerOpts...),
		pool:      worker.NewPool(jobs, results, workerOpts...),
		metrics:   cfg.metricsStore,
	}
}

// Start launches the workers and the scheduler. The returned function waits
// for both to stop after ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) func() {
	workerWG := r.pool.Start(ctx)
	var schedWG sync.WaitGroup
	schedWG.Add(1)
	go func() {
		defer schedWG.Done()
		r.scheduler.Start(ctx)
	}()

	return func() {
		workerWG.Wait()
		schedWG.Wait()
	}
}

func (r *Runtime) UpdateTargets(specs []scheduler.TargetSpec) {
	r.scheduler.Update(specs)
}

func (r *Runtime) ScheduledTargets() int {
	return r.scheduler.Len()
}

func (r *Runtime) ResultsQueue() *queue.ResultQueue {
	return r.results
}

func (r *Runtime) JobsChannel() chan<- worker.Job {
	return r.jobs
}

// NewTransmitter builds a transmitter draining this runtime's queue. Sends
// are reported to the metrics store when one is attached.
func (r *Runtime) NewTransmitter(sink transmit.Sink, opts ...transmit.Option) *transmit.Transmitter {
	options := append([]transmit.Option(nil), opts...)
	if r.metrics != nil {
		options = append(options, transmit.WithSendRecorder(r.metrics.SinkRecorder()))
	}
	return transmit.New(r.results, sink, options...)
}

func WithTickResolution(d time.Duration) Option {
	return WithSchedulerOptions(scheduler.WithTickResolution(d))
}

func WithNow(now func() time.Time) Option {
	return WithSchedulerOptions(scheduler.WithNow(now))
}
