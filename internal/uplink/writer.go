package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/pingsantohq/pptpagent/internal/transmit"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

// WriterSink writes each result as one JSON line. It is the sink used when no
// collector is configured.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

func (s *WriterSink) Send(ctx context.Context, results []types.ProbeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enc.Encode(res); err != nil {
			return fmt.Errorf("write result %s: %w", res.TargetID, err)
		}
	}
	return nil
}

var _ transmit.Sink = (*WriterSink)(nil)
