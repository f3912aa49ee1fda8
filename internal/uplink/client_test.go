package uplink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pingsantohq/pptpagent/internal/metrics"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

func TestClientSendPostsEnvelope(t *testing.T) {
	var mu sync.Mutex
	var requests []types.ResultEnvelope

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != defaultResultsPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		var env types.ResultEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		mu.Lock()
		requests = append(requests, env)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	now := func() time.Time { return time.Unix(123, 0) }
	ids := []string{"batch-a", "batch-b"}
	nextID := func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	client, err := NewClient(
		Config{
			ServerURL: server.URL,
			AgentID:   "agt_test",
			Labels:    map[string]string{"site": "DAL"},
		},
		Dependencies{
			HTTPClient: server.Client(),
			Now:        now,
			NewBatchID: nextID,
		},
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	results := []types.ProbeResult{
		{TargetID: "gw-1", Host: "203.0.113.7", Success: true, Outcome: "success", CallResult: 1},
		{TargetID: "gw-2", Host: "203.0.113.8", Outcome: "credential_rejected", CallResult: 3},
	}
	if err := client.Send(context.Background(), results); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := client.Send(context.Background(), results[:1]); err != nil {
		t.Fatalf("Send second: %v", err)
	}

	mu.Lock()
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	first := requests[0]
	second := requests[1]
	mu.Unlock()

	if first.AgentID != "agt_test" || first.BatchSeq != 1 || first.BatchID != "batch-a" {
		t.Fatalf("unexpected first envelope: %+v", first)
	}
	if second.BatchSeq != 2 || second.BatchID != "batch-b" {
		t.Fatalf("expected sequential batch seq, got %+v", second)
	}
	if first.Labels["site"] != "DAL" {
		t.Fatalf("expected label preserved")
	}
	if len(first.Results) != 2 || first.Results[1].Outcome != "credential_rejected" || first.Results[1].CallResult != 3 {
		t.Fatalf("unexpected results in envelope: %+v", first.Results)
	}
}

func TestClientSendHandlesFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(
		Config{
			ServerURL: server.URL,
			AgentID:   "agt_test",
		},
		Dependencies{
			HTTPClient: server.Client(),
		},
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	err = client.Send(context.Background(), []types.ProbeResult{{TargetID: "gw"}})
	if err == nil {
		t.Fatalf("expected error on failure status")
	}
}

func TestHeartbeatIncludesMetrics(t *testing.T) {
	store := metrics.NewStore()
	store.QueueRecorder().ObserveQueueDepth(7)
	store.QueueRecorder().IncQueueDrops()
	store.ProbeRecorder().ObserveProbe("success", true, 30)
	store.ProbeRecorder().ObserveProbe("read_timeout", true, 5000)

	hbCh := make(chan heartbeatPayload, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == defaultHeartbeatPath {
			var payload heartbeatPayload
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("decode heartbeat: %v", err)
			}
			select {
			case hbCh <- payload:
			default:
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(
		Config{
			ServerURL: server.URL,
			AgentID:   "agt_test",
		},
		Dependencies{
			HTTPClient: server.Client(),
			Metrics:    store,
			Now:        func() time.Time { return time.Unix(123, 0) },
		},
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.RunHeartbeat(ctx, 10*time.Millisecond)
	}()

	select {
	case hb := <-hbCh:
		if hb.AgentID != "agt_test" {
			t.Fatalf("unexpected agent id %s", hb.AgentID)
		}
		if hb.QueueDepth != 7 || hb.QueueDroppedTotal != 1 || hb.ProbesTotal != 2 || hb.Outcomes["read_timeout"] != 1 {
			t.Fatalf("unexpected heartbeat payload: %+v", hb)
		}
		cancel()
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for heartbeat")
	}

	if err := <-errCh; err != context.Canceled {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestNewClientRequiresIdentity(t *testing.T) {
	if _, err := NewClient(Config{AgentID: "a"}, Dependencies{}); err == nil {
		t.Fatalf("expected error without server URL")
	}
	if _, err := NewClient(Config{ServerURL: "https://collector.example.com"}, Dependencies{}); err == nil {
		t.Fatalf("expected error without agent id")
	}
	client, err := NewClient(Config{ServerURL: "https://collector.example.com/", AgentID: "a"}, Dependencies{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.resultsURL != "https://collector.example.com"+defaultResultsPath {
		t.Fatalf("unexpected results url %s", client.resultsURL)
	}
}
