package transmit

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/pingsantohq/pptpagent/internal/metrics"
	"github.com/pingsantohq/pptpagent/internal/queue"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

// Sink defines the downstream consumer for probe results (e.g. HTTPS uploader).
type Sink interface {
	Send(ctx context.Context, results []types.ProbeResult) error
}

// Option configures a Transmitter instance.
type Option func(*Transmitter)

// WithBatchSize overrides the number of probe results flushed per send.
func WithBatchSize(size int) Option {
	return func(t *Transmitter) {
		if size > 0 {
			t.batchSize = size
		}
	}
}

// WithIdleSleep customises the sleep interval when no data is available.
func WithIdleSleep(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.idleSleep = d
		}
	}
}

// WithRetrySleep customises the backoff applied after a failed send attempt.
func WithRetrySleep(d time.Duration) Option {
	return func(t *Transmitter) {
		if d > 0 {
			t.retrySleep = d
		}
	}
}

// WithSendRecorder reports every send attempt, e.g. to metrics and the
// readiness checker.
func WithSendRecorder(recs ...metrics.SinkRecorder) Option {
	return func(t *Transmitter) {
		for _, rec := range recs {
			if rec != nil {
				t.recorders = append(t.recorders, rec)
			}
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(t *Transmitter) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transmitter drains results from the in-memory queue and hands them to a
// downstream sink. Failed batches go back to the head of the queue.
type Transmitter struct {
	queue      *queue.ResultQueue
	sink       Sink
	batchSize  int
	idleSleep  time.Duration
	retrySleep time.Duration
	recorders  []metrics.SinkRecorder
	logger     *log.Logger
}

// New constructs a Transmitter. The queue and sink are required.
func New(queue *queue.ResultQueue, sink Sink, opts ...Option) *Transmitter {
	t := &Transmitter{
		queue:      queue,
		sink:       sink,
		batchSize:  256,
		idleSleep:  100 * time.Millisecond,
		retrySleep: 2 * time.Second,
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run blocks until the context is cancelled.
func (t *Transmitter) Run(ctx context.Context) error {
	if t.queue == nil {
		return errors.New("transmitter queue is nil")
	}
	if t.sink == nil {
		return errors.New("transmitter sink is nil")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sent, err := t.flushOnce(ctx)
		if err != nil {
			t.sleep(ctx, t.retrySleep)
			continue
		}
		if sent {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.idleSleep):
		}
	}
}

// Flush sends everything currently queued, stopping at the first failure.
// It is used on shutdown with a fresh context.
func (t *Transmitter) Flush(ctx context.Context) error {
	for {
		sent, err := t.flushOnce(ctx)
		if err != nil || !sent {
			return err
		}
	}
}

func (t *Transmitter) flushOnce(ctx context.Context) (bool, error) {
	results := t.queue.Drain(t.batchSize)
	if len(results) == 0 {
		return false, nil
	}

	err := t.sink.Send(ctx, results)
	for _, rec := range t.recorders {
		rec.ObserveSend(len(results), err)
	}
	if err != nil {
		t.logger.Printf("send %d results: %v", len(results), err)
		t.queue.Requeue(results)
		return true, err
	}
	return true, nil
}

func (t *Transmitter) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
