package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pingsantohq/pptpagent/internal/metrics"
)

const defaultProbeStale = 5 * time.Minute

const (
	categoryQueuePressure = "QUEUE_PRESSURE"
	categoryProbesPending = "PROBES_PENDING"
	categoryProbesStale   = "PROBES_STALE"
	categorySinkError     = "SINK_ERROR"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Checker evaluates readiness conditions for the agent.
type Checker struct {
	metrics    *metrics.Store
	staleAfter time.Duration

	mu           sync.RWMutex
	expectProbes bool
	sinkErr      string
	lastSinkErr  time.Time
	now          func() time.Time
}

// NewChecker constructs a readiness checker bound to the provided metrics
// store. Probes are considered stale when none completed within staleAfter.
func NewChecker(store *metrics.Store, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultProbeStale
	}
	return &Checker{
		metrics:      store,
		staleAfter:   staleAfter,
		expectProbes: true,
		now:          time.Now,
	}
}

// SetExpectProbes turns the probe freshness checks on or off, for agents
// running without scheduled targets.
func (c *Checker) SetExpectProbes(expect bool) {
	c.mu.Lock()
	c.expectProbes = expect
	c.mu.Unlock()
}

// ObserveSend records the outcome of a result delivery. It satisfies
// metrics.SinkRecorder so it can sit next to the metrics store.
func (c *Checker) ObserveSend(results int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.sinkErr = err.Error()
		c.lastSinkErr = c.now()
		return
	}
	c.sinkErr = ""
	c.lastSinkErr = time.Time{}
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 3)
	categories := make([]metrics.ReadinessCategory, 0, 3)
	fail := func(reason, name, severity string) {
		reasons = append(reasons, reason)
		categories = append(categories, metrics.ReadinessCategory{Name: name, Severity: severity})
	}

	c.mu.RLock()
	expectProbes := c.expectProbes
	sinkErr := c.sinkErr
	lastSinkErr := c.lastSinkErr
	c.mu.RUnlock()

	var snap metrics.Snapshot
	if c.metrics != nil {
		snap = c.metrics.Snapshot()
	}

	if snap.QueueCapacity > 0 && snap.QueueDepth >= snap.QueueCapacity {
		fail("queue capacity exceeded", categoryQueuePressure, severityWarning)
	}

	if expectProbes && c.metrics != nil {
		if snap.LastProbeAt.IsZero() {
			fail("no probes completed yet", categoryProbesPending, severityInfo)
		} else if age := now.Sub(snap.LastProbeAt); age > c.staleAfter {
			fail(fmt.Sprintf("probes stale (%s)", age.Round(time.Second)), categoryProbesStale, severityWarning)
		}
	}

	if sinkErr != "" && now.Sub(lastSinkErr) <= c.staleAfter {
		fail(fmt.Sprintf("result delivery failing: %s", sinkErr), categorySinkError, severityCritical)
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		if ready {
			c.metrics.ObserveReadiness(true, "", nil)
		} else {
			c.metrics.ObserveReadiness(false, strings.Join(reasons, "; "), categories)
		}
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
