package transmit

import (
	"context"
	"errors"
	"fmt"

	"github.com/pingsantohq/pptpagent/pkg/types"
)

// MultiSink delivers every batch to each sink in turn. A failing sink does
// not stop the others; the joined error is returned so the batch is retried.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, results []types.ProbeResult) error {
	var errs []error
	for i, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Send(ctx, results); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, results []types.ProbeResult) error

func (f SinkFunc) Send(ctx context.Context, results []types.ProbeResult) error {
	return f(ctx, results)
}
