package probe

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/pptpagent/internal/pptp"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

// Prober runs a single handshake. *pptp.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, req pptp.Request) pptp.Result
}

type Runner struct {
	prober      Prober
	concurrency int
	limiter     *rate.Limiter
	now         func() time.Time
}

type Option func(*Runner)

func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRateLimit caps how many probes start per second. A non-positive rate
// disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Runner) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithProber(p Prober) Option {
	return func(r *Runner) {
		if p != nil {
			r.prober = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		prober:      pptp.NewProber(pptp.Dependencies{}),
		concurrency: runtime.NumCPU(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Batch probes every request concurrently and returns results in input
// order. On cancellation it returns the results of probes that already
// started, with unstarted slots omitted, alongside the context error.
func (r *Runner) Batch(ctx context.Context, reqs []Request) ([]types.ProbeResult, error) {
	results := make([]types.ProbeResult, len(reqs))
	done := make([]bool, len(reqs))

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(r.concurrency)

	var err error
	for i, req := range reqs {
		if r.limiter != nil {
			if err = r.limiter.Wait(grpCtx); err != nil {
				break
			}
		}
		if err = grpCtx.Err(); err != nil {
			break
		}
		grp.Go(func() error {
			res := r.prober.Probe(grpCtx, req.PPTP())
			results[i] = ToResult(req, res, r.now())
			done[i] = true
			return nil
		})
	}
	_ = grp.Wait()

	if err == nil {
		return results, nil
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	out := make([]types.ProbeResult, 0, len(reqs))
	for i, ok := range done {
		if ok {
			out = append(out, results[i])
		}
	}
	return out, err
}

// Batch runs reqs with a default Runner.
func Batch(ctx context.Context, reqs []Request) ([]types.ProbeResult, error) {
	return NewRunner().Batch(ctx, reqs)
}
