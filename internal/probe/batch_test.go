package probe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pingsantohq/pptpagent/internal/pptp"
	"github.com/pingsantohq/pptpagent/internal/pptp/pptptest"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

type fakeProber struct {
	mu      sync.Mutex
	seen    []string
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	results map[string]pptp.Result
}

func (f *fakeProber) Probe(ctx context.Context, req pptp.Request) pptp.Result {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.seen = append(f.seen, req.Host)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if res, ok := f.results[req.Host]; ok {
		return res
	}
	return pptp.Result{Kind: pptp.KindTransportError, PacketLoss: 100, StartResultCode: -1, CallResultCode: -1}
}

func TestBatchPreservesOrder(t *testing.T) {
	prober := &fakeProber{
		delay: 5 * time.Millisecond,
		results: map[string]pptp.Result{
			"a": {Success: true, Kind: pptp.KindSuccess, AuthTested: true, Elapsed: 12 * time.Millisecond, StartResultCode: 1, CallResultCode: 1},
			"b": {Kind: pptp.KindCredentialRejected, AuthTested: true, PacketLoss: 100, StartResultCode: 1, CallResultCode: 3},
		},
	}
	runner := NewRunner(WithProber(prober), WithConcurrency(4))

	reqs := []Request{
		{TargetID: "t-a", Host: "a", Login: "admin"},
		{TargetID: "t-b", Host: "b", Login: "admin"},
		{TargetID: "t-c", Host: "c", Login: "admin"},
	}
	results, err := runner.Batch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results got %d", len(results))
	}
	for i, req := range reqs {
		if results[i].TargetID != req.TargetID {
			t.Fatalf("result %d: expected %s got %s", i, req.TargetID, results[i].TargetID)
		}
	}
	if !results[0].Success || results[0].AvgTime != 12 {
		t.Fatalf("unexpected success result: %+v", results[0])
	}
	if results[1].Outcome != "credential_rejected" || results[1].CallResult != 3 {
		t.Fatalf("unexpected rejected result: %+v", results[1])
	}
	if results[2].Outcome != "transport_error" || results[2].AvgTime != 0 {
		t.Fatalf("unexpected transport result: %+v", results[2])
	}
}

func TestBatchRespectsConcurrency(t *testing.T) {
	prober := &fakeProber{delay: 10 * time.Millisecond}
	runner := NewRunner(WithProber(prober), WithConcurrency(2))

	reqs := make([]Request, 8)
	for i := range reqs {
		reqs[i] = Request{Host: "h"}
	}
	if _, err := runner.Batch(context.Background(), reqs); err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	if peak := prober.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent probes got %d", peak)
	}
	if len(prober.seen) != 8 {
		t.Fatalf("expected 8 probes got %d", len(prober.seen))
	}
}

func TestBatchStopsOnCancel(t *testing.T) {
	prober := &fakeProber{}
	runner := NewRunner(WithProber(prober), WithConcurrency(1), WithRateLimit(1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	reqs := make([]Request, 10)
	for i := range reqs {
		reqs[i] = Request{Host: "h"}
	}
	results, err := runner.Batch(ctx, reqs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled got %v", err)
	}
	if len(results) == 0 || len(results) == len(reqs) {
		t.Fatalf("expected a partial batch got %d results", len(results))
	}
}

func TestBatchAgainstScriptedServer(t *testing.T) {
	srv, err := pptptest.NewServer(pptptest.Script{
		StartReply: pptptest.StartReply(1),
		CallReply:  pptptest.CallReply(1),
	})
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runner := NewRunner(WithClock(func() time.Time { return now }))
	results, err := runner.Batch(context.Background(), []Request{{
		TargetID: "local",
		Host:     srv.Host,
		Port:     srv.Port,
		Login:    "admin",
		Password: "secret",
		Timeout:  2 * time.Second,
	}})
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	res := results[0]
	if !res.Success || res.Outcome != "success" || !res.AuthTested {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Port != srv.Port || !res.Timestamp.Equal(now) {
		t.Fatalf("unexpected metadata: %+v", res)
	}
}

func TestToResultDefaultsPort(t *testing.T) {
	res := ToResult(Request{Host: "gw"}, pptp.Result{Kind: pptp.KindConnectTimeout, PacketLoss: 100, StartResultCode: -1, CallResultCode: -1}, time.Now())
	if res.Port != pptp.ControlPort {
		t.Fatalf("expected port %d got %d", pptp.ControlPort, res.Port)
	}
	if res.StartResult != -1 || res.CallResult != -1 {
		t.Fatalf("expected absent result codes got %+v", res)
	}
}

func TestRequestForCarriesTimeouts(t *testing.T) {
	target := types.Target{ID: "gw", Host: "gw", Login: "admin", Password: "pw"}
	req := RequestFor(target, 10*time.Second, 1500*time.Millisecond)
	hs := req.PPTP()
	if hs.Timeout != 10*time.Second || hs.ReadTimeout != 1500*time.Millisecond {
		t.Fatalf("unexpected handshake timeouts %+v", hs)
	}

	target.TimeoutMillis = 3000
	if got := RequestFor(target, 10*time.Second, 0).PPTP(); got.Timeout != 3*time.Second || got.ReadTimeout != 0 {
		t.Fatalf("expected target override and default read timeout got %+v", got)
	}
}
