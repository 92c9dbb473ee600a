package admission

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter scopes reported on decisions.
const (
	ScopeClient = "client"
	ScopeGlobal = "global"
)

// Info carries rate-limit metadata for response headers.
type Info struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Decision is the admission verdict of one limiter.
type Decision struct {
	Allowed bool
	Scope   string
	Info
}

// GlobalLimiter is the throughput ceiling shared by every client of an
// endpoint. Admit may block for a bounded time; it returns an error only when
// ctx ends first.
type GlobalLimiter interface {
	Admit(ctx context.Context) (Decision, error)
}

// GlobalOptions configures LocalGlobal.
type GlobalOptions struct {
	RPS   int
	Burst int
	// Backlog is the number of requests allowed to wait for a token. Zero
	// rejects as soon as the bucket is empty.
	Backlog int
	// MaxWait bounds how long a backlogged request waits.
	MaxWait time.Duration
}

// LocalGlobal is an in-process token bucket with a bounded waiting backlog.
type LocalGlobal struct {
	limiter *rate.Limiter
	rps     int
	backlog chan struct{}
	maxWait time.Duration
	now     func() time.Time
}

// NewLocalGlobal creates the limiter. Burst defaults to RPS. now may be nil.
func NewLocalGlobal(opts GlobalOptions, now func() time.Time) *LocalGlobal {
	if now == nil {
		now = time.Now
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.RPS
	}
	g := &LocalGlobal{
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		rps:     opts.RPS,
		maxWait: opts.MaxWait,
		now:     now,
	}
	if opts.Backlog > 0 {
		g.backlog = make(chan struct{}, opts.Backlog)
	}
	return g
}

// Admit takes a token immediately if one is available, otherwise waits in the
// backlog for a reserved token when both a backlog slot is free and the wait
// is within MaxWait.
func (g *LocalGlobal) Admit(ctx context.Context) (Decision, error) {
	now := g.now()
	if g.limiter.AllowN(now, 1) {
		return g.admitted(now), nil
	}
	if g.backlog == nil {
		return g.rejected(now, g.delayFor(now)), nil
	}

	select {
	case g.backlog <- struct{}{}:
	default:
		return g.rejected(now, g.delayFor(now)), nil
	}
	defer func() { <-g.backlog }()

	r := g.limiter.ReserveN(now, 1)
	if !r.OK() {
		return g.rejected(now, g.maxWait), nil
	}
	delay := r.DelayFrom(now)
	if delay > g.maxWait {
		r.CancelAt(now)
		return g.rejected(now, delay), nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return g.admitted(g.now()), nil
	case <-ctx.Done():
		r.Cancel()
		return Decision{Scope: ScopeGlobal}, ctx.Err()
	}
}

// Waiting returns the number of requests currently in the backlog.
func (g *LocalGlobal) Waiting() int {
	return len(g.backlog)
}

// Backlog returns the number of backlog slots.
func (g *LocalGlobal) Backlog() int {
	return cap(g.backlog)
}

func (g *LocalGlobal) delayFor(now time.Time) time.Duration {
	need := 1 - g.limiter.TokensAt(now)
	if need <= 0 || g.rps <= 0 {
		return time.Second
	}
	return time.Duration(need / float64(g.rps) * float64(time.Second))
}

func (g *LocalGlobal) admitted(now time.Time) Decision {
	remaining := int(g.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed: true,
		Scope:   ScopeGlobal,
		Info:    Info{Limit: g.rps, Remaining: remaining, ResetAt: now.Add(time.Second)},
	}
}

func (g *LocalGlobal) rejected(now time.Time, retry time.Duration) Decision {
	return Decision{
		Scope: ScopeGlobal,
		Info:  Info{Limit: g.rps, ResetAt: now.Add(retry), RetryAfter: retry},
	}
}
