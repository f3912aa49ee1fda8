package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStoreQueueRecorder(t *testing.T) {
	store := NewStore()
	rec := store.QueueRecorder()

	rec.ObserveQueueCapacity(10)
	rec.ObserveQueueDepth(5)
	rec.IncQueueDrops()
	rec.IncQueueDrops()

	snap := store.Snapshot()
	if snap.QueueDepth != 5 || snap.QueueCapacity != 10 {
		t.Fatalf("unexpected queue gauges %+v", snap)
	}
	if snap.QueueDroppedTotal != 2 {
		t.Fatalf("expected drops 2 got %d", snap.QueueDroppedTotal)
	}
}

func TestStoreProbeRecorder(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	rec := store.ProbeRecorder()

	rec.ObserveProbe("success", true, 41.5)
	rec.ObserveProbe("credential_rejected", true, 38.2)
	rec.ObserveProbe("connect_timeout", false, 0)

	snap := store.Snapshot()
	if snap.ProbesTotal != 3 || snap.AuthTestedTotal != 2 {
		t.Fatalf("unexpected probe totals %+v", snap)
	}
	if snap.Outcome("success") != 1 || snap.Outcome("credential_rejected") != 1 || snap.Outcome("read_timeout") != 0 {
		t.Fatalf("unexpected outcome counters %+v", snap.Outcomes)
	}
	if snap.LastLatencyMs != 38.2 {
		t.Fatalf("expected last latency to ignore unconnected probes got %v", snap.LastLatencyMs)
	}
	if !snap.LastProbeAt.Equal(now) {
		t.Fatalf("unexpected last probe time %s", snap.LastProbeAt)
	}
}

func TestStoreSinkRecorder(t *testing.T) {
	store := NewStore()
	rec := store.SinkRecorder()

	rec.ObserveSend(3, nil)
	rec.ObserveSend(2, errors.New("boom"))

	snap := store.Snapshot()
	if snap.SinkBatchesTotal != 1 || snap.SinkResultsTotal != 3 || snap.SinkFailures != 1 {
		t.Fatalf("unexpected sink counters %+v", snap)
	}
	if snap.LastSinkFailure.IsZero() {
		t.Fatalf("expected last sink failure timestamp")
	}
}

func TestStoreWritePrometheus(t *testing.T) {
	store := NewStore()
	store.QueueRecorder().ObserveQueueDepth(7)
	store.QueueRecorder().IncQueueDrops()
	store.ProbeRecorder().ObserveProbe("success", true, 12.5)
	store.ObserveReadiness(true, "", nil)

	var sb strings.Builder
	if err := store.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	output := sb.String()
	expect := []string{
		"pptpagent_probes_total{outcome=\"success\"} 1",
		"pptpagent_probes_total{outcome=\"protocol_error\"} 0",
		"pptpagent_probes_auth_tested_total 1",
		"pptpagent_probe_last_latency_ms 12.5",
		"pptpagent_queue_depth_number 7",
		"pptpagent_queue_dropped_total 1",
		"pptpagent_sink_failures_total 0",
		"pptpagent_ready 1",
		"pptpagent_ready_info{reason=\"ready\"} 1",
		"pptpagent_ready_transitions_total{state=\"ready\"} 1",
		"pptpagent_ready_transitions_total{state=\"not_ready\"} 0",
		"pptpagent_ready_category_transitions_total{category=\"none\",severity=\"none\"} 0",
	}
	for _, fragment := range expect {
		if !strings.Contains(output, fragment) {
			t.Fatalf("expected output to contain %q, got:\n%s", fragment, output)
		}
	}
}

func TestHTTPHandler(t *testing.T) {
	store := NewStore()
	h := NewHTTPHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("expected text/plain content-type got %s", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("expected body content")
	}

	headReq := httptest.NewRequest(http.MethodHead, "/metrics", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, headReq)
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for HEAD got %d", w.Result().StatusCode)
	}

	postReq := httptest.NewRequest(http.MethodPost, "/metrics", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, postReq)
	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", w.Result().StatusCode)
	}
}

func TestStoreObserveReadiness(t *testing.T) {
	store := NewStore()

	// Failing before ever being ready does not count as a degradation.
	store.ObserveReadiness(false, "no probes completed yet", []ReadinessCategory{
		{Name: "PROBES_PENDING", Severity: "info"},
	})
	snap := store.Snapshot()
	if snap.Ready || snap.ReadyReason != "no probes completed yet" {
		t.Fatalf("unexpected snapshot after initial failure: %+v", snap)
	}
	if snap.ReadyTransitions != 0 || snap.NotReadyTransitions != 0 {
		t.Fatalf("unexpected counters after initial failure: %+v", snap)
	}
	if len(snap.CategoryTransitions) != 0 {
		t.Fatalf("expected no category transitions got %+v", snap.CategoryTransitions)
	}

	store.ObserveReadiness(true, "", nil)
	snap = store.Snapshot()
	if !snap.Ready || snap.ReadyReason != "" || snap.ReadyTransitions != 1 {
		t.Fatalf("unexpected snapshot after ready: %+v", snap)
	}

	store.ObserveReadiness(false, "queue capacity exceeded", []ReadinessCategory{
		{Name: "QUEUE_PRESSURE", Severity: "warn"},
		{Name: "QUEUE_PRESSURE", Severity: "warning"},
		{Name: " ", Severity: "info"},
	})
	snap = store.Snapshot()
	if snap.Ready || snap.NotReadyTransitions != 1 {
		t.Fatalf("unexpected snapshot after degradation: %+v", snap)
	}
	if len(snap.ReadyCategories) != 1 || snap.ReadyCategories[0].Severity != "warning" {
		t.Fatalf("expected one deduped category got %+v", snap.ReadyCategories)
	}
	if len(snap.CategoryTransitions) != 1 || snap.CategoryTransitions[0].Count != 1 {
		t.Fatalf("unexpected category transitions %+v", snap.CategoryTransitions)
	}

	store.ObserveReadiness(true, "", nil)
	snap = store.Snapshot()
	if !snap.Ready || snap.ReadyTransitions != 2 || len(snap.ReadyCategories) != 0 {
		t.Fatalf("unexpected snapshot after recovery: %+v", snap)
	}
}
