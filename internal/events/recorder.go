package events

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/pingsantohq/pptpagent/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes each event as a single log line with its details
// sorted by key.
type LogRecorder struct {
	logger *log.Logger
}

func NewLogRecorder(logger *log.Logger) LogRecorder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return LogRecorder{logger: logger}
}

func (r LogRecorder) Record(event types.Event) {
	var b strings.Builder
	b.WriteString("event ")
	b.WriteString(string(event.Type))
	if event.TargetID != "" {
		b.WriteString(" target=")
		b.WriteString(event.TargetID)
	}
	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(formatValue(event.Details[k]))
	}
	r.logger.Print(b.String())
}

func formatValue(v any) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, " \t\n\"") {
		return strconv.Quote(s)
	}
	return s
}
