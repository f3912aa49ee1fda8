package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingsantohq/pptpagent/internal/worker"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

const defaultCadence = time.Minute

// TargetSpec is one target and how often to probe it.
type TargetSpec struct {
	Target      types.Target
	Cadence     time.Duration
	Timeout     time.Duration
	ReadTimeout time.Duration
}

// SpecFor derives a spec from a configured target, falling back to the
// agent-wide cadence and timeout. readTimeout is agent-wide.
func SpecFor(t types.Target, cadence, timeout, readTimeout time.Duration) TargetSpec {
	if t.CadenceMillis > 0 {
		cadence = time.Duration(t.CadenceMillis) * time.Millisecond
	}
	if t.TimeoutMillis > 0 {
		timeout = time.Duration(t.TimeoutMillis) * time.Millisecond
	}
	return TargetSpec{Target: t, Cadence: cadence, Timeout: timeout, ReadTimeout: readTimeout}
}

func (s TargetSpec) interval() time.Duration {
	if s.Cadence <= 0 {
		return defaultCadence
	}
	return s.Cadence
}

type Scheduler struct {
	jobCh          chan<- worker.Job
	tickResolution time.Duration

	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	skipped atomic.Uint64
}

type entry struct {
	spec TargetSpec
	next time.Time
}

type Option func(*Scheduler)

func WithTickResolution(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickResolution = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(jobCh chan<- worker.Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobCh:          jobCh,
		tickResolution: 100 * time.Millisecond,
		now:            time.Now,
		entries:        make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update replaces the scheduled target set. New targets are due
// immediately; targets that were already scheduled keep their next run
// unless their cadence changed. Disabled targets are dropped.
func (s *Scheduler) Update(specs []TargetSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	nextEntries := make(map[string]*entry, len(specs))
	for _, spec := range specs {
		if spec.Target.Disabled {
			continue
		}
		id := spec.Target.ID
		if prev, ok := s.entries[id]; ok && prev.spec.interval() == spec.interval() {
			nextEntries[id] = &entry{spec: spec, next: prev.next}
			continue
		}
		nextEntries[id] = &entry{spec: spec, next: now}
	}
	s.entries = nextEntries
}

// Len reports how many targets are scheduled.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Skipped reports jobs dropped because every worker was busy.
func (s *Scheduler) Skipped() uint64 {
	return s.skipped.Load()
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tickResolution)
	defer ticker.Stop()

	s.tick(s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.now())
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		job := worker.Job{
			Target:       e.spec.Target,
			Timeout:      e.spec.Timeout,
			ReadTimeout:  e.spec.ReadTimeout,
			ScheduledFor: e.next,
		}
		select {
		case s.jobCh <- job:
		default:
			s.skipped.Add(1)
		}
		interval := e.spec.interval()
		for !now.Before(e.next) {
			e.next = e.next.Add(interval)
		}
	}
}
