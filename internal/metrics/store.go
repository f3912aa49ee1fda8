package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingsantohq/pptpagent/internal/pptp"
)

// Store maintains in-memory gauges and counters for agent telemetry.
type Store struct {
	queueDepth    atomic.Int64
	queueCapacity atomic.Int64
	queueDrops    atomic.Uint64

	probesTotal     atomic.Uint64
	authTestedTotal atomic.Uint64
	lastLatencyBits atomic.Uint64
	lastProbeUnix   atomic.Int64
	outcomeTotals   sync.Map // string -> *atomic.Uint64

	sinkBatches     atomic.Uint64
	sinkResults     atomic.Uint64
	sinkFailures    atomic.Uint64
	lastSinkFailure atomic.Int64

	readinessState      atomic.Int64
	readinessReason     atomic.Value
	readinessCategories atomic.Value
	readyTransitions    atomic.Uint64
	notReadyTransitions atomic.Uint64
	categoryTotals      sync.Map // categoryKey -> *atomic.Uint64

	now func() time.Time
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

type categoryKey struct {
	Name     string
	Severity string
}

func NewStore() *Store {
	store := &Store{now: time.Now}
	store.readinessReason.Store("")
	store.readinessCategories.Store([]ReadinessCategory(nil))
	for _, k := range pptp.Kinds() {
		store.outcomeTotals.Store(k.String(), &atomic.Uint64{})
	}
	return store
}

type Snapshot struct {
	QueueDepth        int64
	QueueCapacity     int64
	QueueDroppedTotal uint64

	ProbesTotal      uint64
	AuthTestedTotal  uint64
	LastLatencyMs    float64
	LastProbeAt      time.Time
	Outcomes         []OutcomeCount
	SinkBatchesTotal uint64
	SinkResultsTotal uint64
	SinkFailures     uint64
	LastSinkFailure  time.Time

	Ready               bool
	ReadyReason         string
	ReadyTransitions    uint64
	NotReadyTransitions uint64
	ReadyCategories     []ReadinessCategory
	CategoryTransitions []CategoryCount
}

type OutcomeCount struct {
	Outcome string
	Count   uint64
}

// CategoryCount captures accumulated degradation counts per category/severity.
type CategoryCount struct {
	Category string
	Severity string
	Count    uint64
}

// Outcome returns the counter for one outcome in a snapshot.
func (s Snapshot) Outcome(name string) uint64 {
	for _, oc := range s.Outcomes {
		if oc.Outcome == name {
			return oc.Count
		}
	}
	return 0
}

func (s *Store) Snapshot() Snapshot {
	readyReason, _ := s.readinessReason.Load().(string)
	rawCategories, _ := s.readinessCategories.Load().([]ReadinessCategory)
	categories := make([]ReadinessCategory, len(rawCategories))
	copy(categories, rawCategories)

	categoryCounts := make([]CategoryCount, 0)
	s.categoryTotals.Range(func(key, value any) bool {
		ckey, ok := key.(categoryKey)
		counter, ok2 := value.(*atomic.Uint64)
		if ok && ok2 {
			categoryCounts = append(categoryCounts, CategoryCount{Category: ckey.Name, Severity: ckey.Severity, Count: counter.Load()})
		}
		return true
	})
	sort.Slice(categoryCounts, func(i, j int) bool {
		if categoryCounts[i].Category == categoryCounts[j].Category {
			return categoryCounts[i].Severity < categoryCounts[j].Severity
		}
		return categoryCounts[i].Category < categoryCounts[j].Category
	})

	outcomes := make([]OutcomeCount, 0, len(pptp.Kinds()))
	s.outcomeTotals.Range(func(key, value any) bool {
		name, ok := key.(string)
		counter, ok2 := value.(*atomic.Uint64)
		if ok && ok2 {
			outcomes = append(outcomes, OutcomeCount{Outcome: name, Count: counter.Load()})
		}
		return true
	})
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Outcome < outcomes[j].Outcome })

	return Snapshot{
		QueueDepth:          s.queueDepth.Load(),
		QueueCapacity:       s.queueCapacity.Load(),
		QueueDroppedTotal:   s.queueDrops.Load(),
		ProbesTotal:         s.probesTotal.Load(),
		AuthTestedTotal:     s.authTestedTotal.Load(),
		LastLatencyMs:       math.Float64frombits(s.lastLatencyBits.Load()),
		LastProbeAt:         unixOrZero(s.lastProbeUnix.Load()),
		Outcomes:            outcomes,
		SinkBatchesTotal:    s.sinkBatches.Load(),
		SinkResultsTotal:    s.sinkResults.Load(),
		SinkFailures:        s.sinkFailures.Load(),
		LastSinkFailure:     unixOrZero(s.lastSinkFailure.Load()),
		Ready:               s.readinessState.Load() == 1,
		ReadyReason:         readyReason,
		ReadyTransitions:    s.readyTransitions.Load(),
		NotReadyTransitions: s.notReadyTransitions.Load(),
		ReadyCategories:     categories,
		CategoryTransitions: categoryCounts,
	}
}

func unixOrZero(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func (s *Store) QueueRecorder() QueueRecorder {
	return queueRecorder{store: s}
}

func (s *Store) ProbeRecorder() ProbeRecorder {
	return probeRecorder{store: s}
}

func (s *Store) SinkRecorder() SinkRecorder {
	return sinkRecorder{store: s}
}

type queueRecorder struct {
	store *Store
}

func (r queueRecorder) ObserveQueueDepth(depth int) {
	r.store.queueDepth.Store(int64(depth))
}

func (r queueRecorder) ObserveQueueCapacity(capacity int) {
	r.store.queueCapacity.Store(int64(capacity))
}

func (r queueRecorder) IncQueueDrops() {
	r.store.queueDrops.Add(1)
}

type probeRecorder struct {
	store *Store
}

func (r probeRecorder) ObserveProbe(outcome string, authTested bool, elapsedMs float64) {
	s := r.store
	s.probesTotal.Add(1)
	if authTested {
		s.authTestedTotal.Add(1)
	}
	s.outcomeCounter(outcome).Add(1)
	if elapsedMs > 0 {
		s.lastLatencyBits.Store(math.Float64bits(elapsedMs))
	}
	s.lastProbeUnix.Store(s.now().UnixNano())
}

type sinkRecorder struct {
	store *Store
}

func (r sinkRecorder) ObserveSend(results int, err error) {
	s := r.store
	if err != nil {
		s.sinkFailures.Add(1)
		s.lastSinkFailure.Store(s.now().UnixNano())
		return
	}
	s.sinkBatches.Add(1)
	s.sinkResults.Add(uint64(results))
}

func (s *Store) outcomeCounter(outcome string) *atomic.Uint64 {
	if outcome == "" {
		outcome = "unknown"
	}
	actual, _ := s.outcomeTotals.LoadOrStore(outcome, &atomic.Uint64{})
	return actual.(*atomic.Uint64)
}

// ObserveReadiness stores the latest readiness verdict. Category counters
// only move when the agent degrades from ready.
func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	prev := s.readinessState.Load()
	if ready {
		if prev == 0 {
			s.readyTransitions.Add(1)
		}
		s.readinessState.Store(1)
		s.readinessReason.Store("")
		s.readinessCategories.Store([]ReadinessCategory(nil))
		return
	}
	if prev == 1 {
		s.notReadyTransitions.Add(1)
	}
	s.readinessState.Store(0)
	s.readinessReason.Store(reason)
	deduped := dedupeCategories(categories)
	s.readinessCategories.Store(deduped)
	if prev == 1 {
		for _, cat := range deduped {
			key := categoryKey{Name: cat.Name, Severity: cat.Severity}
			actual, _ := s.categoryTotals.LoadOrStore(key, &atomic.Uint64{})
			actual.(*atomic.Uint64).Add(1)
		}
	}
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[categoryKey]struct{}, len(categories))
	result := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		key := categoryKey{Name: name, Severity: normalizeSeverity(c.Severity)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, ReadinessCategory{Name: key.Name, Severity: key.Severity})
	}
	return result
}

func normalizeSeverity(severity string) string {
	switch strings.TrimSpace(strings.ToLower(severity)) {
	case "":
		return "unknown"
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return strings.TrimSpace(strings.ToLower(severity))
	}
}

const prefix = "pptpagent_"

type promWriter struct {
	w   io.Writer
	err error
}

func (p *promWriter) metric(name, kind, help string) {
	p.line("# HELP %s%s %s", prefix, name, help)
	p.line("# TYPE %s%s %s", prefix, name, kind)
}

func (p *promWriter) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	p := &promWriter{w: w}

	p.metric("probes_total", "counter", "PPTP probes completed, by outcome.")
	for _, oc := range snap.Outcomes {
		p.line("%sprobes_total{outcome=%q} %d", prefix, oc.Outcome, oc.Count)
	}
	p.metric("probes_auth_tested_total", "counter", "Probes that reached the outgoing-call stage.")
	p.line("%sprobes_auth_tested_total %d", prefix, snap.AuthTestedTotal)
	p.metric("probe_last_latency_ms", "gauge", "Handshake latency of the most recent connected probe.")
	p.line("%sprobe_last_latency_ms %g", prefix, snap.LastLatencyMs)

	p.metric("queue_depth_number", "gauge", "Probe results buffered in memory.")
	p.line("%squeue_depth_number %d", prefix, snap.QueueDepth)
	p.metric("queue_capacity_number", "gauge", "Result queue capacity.")
	p.line("%squeue_capacity_number %d", prefix, snap.QueueCapacity)
	p.metric("queue_dropped_total", "counter", "Probe results dropped due to queue pressure.")
	p.line("%squeue_dropped_total %d", prefix, snap.QueueDroppedTotal)

	p.metric("sink_batches_total", "counter", "Result batches delivered to sinks.")
	p.line("%ssink_batches_total %d", prefix, snap.SinkBatchesTotal)
	p.metric("sink_results_total", "counter", "Results delivered to sinks.")
	p.line("%ssink_results_total %d", prefix, snap.SinkResultsTotal)
	p.metric("sink_failures_total", "counter", "Failed result deliveries.")
	p.line("%ssink_failures_total %d", prefix, snap.SinkFailures)

	ready, reason := 0, snap.ReadyReason
	if snap.Ready {
		ready, reason = 1, "ready"
	} else if reason == "" {
		reason = "unknown"
	}
	p.metric("ready", "gauge", "Whether the agent considers itself ready (1=ready).")
	p.line("%sready %d", prefix, ready)
	p.metric("ready_info", "gauge", "Reason associated with the most recent readiness evaluation.")
	p.line("%sready_info{reason=%q} 1", prefix, reason)
	p.metric("ready_transitions_total", "counter", "Readiness state transitions by resulting state.")
	p.line("%sready_transitions_total{state=%q} %d", prefix, "ready", snap.ReadyTransitions)
	p.line("%sready_transitions_total{state=%q} %d", prefix, "not_ready", snap.NotReadyTransitions)
	p.metric("ready_category_transitions_total", "counter", "Readiness degradations by category.")
	if len(snap.CategoryTransitions) == 0 {
		p.line("%sready_category_transitions_total{category=%q,severity=%q} 0", prefix, "none", "none")
	}
	for _, cc := range snap.CategoryTransitions {
		p.line("%sready_category_transitions_total{category=%q,severity=%q} %d", prefix, cc.Category, cc.Severity, cc.Count)
	}
	return p.err
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
