package admission

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ClientOptions configures the per-client token buckets.
type ClientOptions struct {
	// Period is the time to replenish one token.
	Period time.Duration
	// Burst is the bucket capacity.
	Burst int
	// IdleTTL is how long an untouched bucket is kept before Sweep drops it.
	IdleTTL time.Duration
}

// DefaultClientOptions allows one request every 500ms with a burst of 25.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Period:  500 * time.Millisecond,
		Burst:   25,
		IdleTTL: 10 * time.Minute,
	}
}

// ClientLimiter keeps one token bucket per client key.
type ClientLimiter struct {
	mu      sync.RWMutex
	clients map[string]*clientBucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// NewClientLimiter creates a limiter. now may be nil to use time.Now.
func NewClientLimiter(opts ClientOptions, now func() time.Time) *ClientLimiter {
	if now == nil {
		now = time.Now
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultClientOptions().IdleTTL
	}
	return &ClientLimiter{
		clients: make(map[string]*clientBucket),
		limit:   rate.Every(opts.Period),
		burst:   opts.Burst,
		idleTTL: opts.IdleTTL,
		now:     now,
	}
}

// bucket returns or creates the bucket for key. A new bucket is stamped with
// now before it becomes visible to Sweep.
func (l *ClientLimiter) bucket(key string, now time.Time) *clientBucket {
	l.mu.RLock()
	b, exists := l.clients[key]
	l.mu.RUnlock()

	if exists {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists := l.clients[key]; exists {
		return b
	}

	b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
	b.lastSeen.Store(now.UnixNano())
	l.clients[key] = b
	return b
}

// Allow spends one token from key's bucket if one is available.
func (l *ClientLimiter) Allow(key string) Decision {
	now := l.now()
	b := l.bucket(key, now)
	b.lastSeen.Store(now.UnixNano())

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	d := Decision{
		Allowed: allowed,
		Scope:   ScopeClient,
		Info: Info{
			Limit:     l.burst,
			Remaining: int(math.Max(0, math.Floor(tokens))),
			ResetAt:   now.Add(l.refill(float64(l.burst) - tokens)),
		},
	}
	if !allowed {
		d.RetryAfter = l.refill(1 - tokens)
	}
	return d
}

// refill returns the time needed to accumulate n tokens.
func (l *ClientLimiter) refill(n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	if l.limit <= 0 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(n / float64(l.limit) * float64(time.Second))
}

// Len returns the number of tracked clients.
func (l *ClientLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

// Sweep drops buckets idle for longer than IdleTTL and returns how many were
// removed.
func (l *ClientLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idleTTL).UnixNano()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.clients {
		if b.lastSeen.Load() < cutoff {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (l *ClientLimiter) Run(ctx context.Context, interval time.Duration, onSweep func(removed, remaining int)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed := l.Sweep()
			if onSweep != nil {
				onSweep(removed, l.Len())
			}
		}
	}
}

// Stats returns the bucket state of every tracked client.
func (l *ClientLimiter) Stats() map[string]ClientStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	stats := make(map[string]ClientStats, len(l.clients))
	for key, b := range l.clients {
		stats[key] = ClientStats{
			Key:             key,
			TokensAvailable: b.limiter.TokensAt(now),
			LastSeen:        time.Unix(0, b.lastSeen.Load()).UTC(),
		}
	}
	return stats
}

// ClientStats is a snapshot of one client bucket.
type ClientStats struct {
	Key             string    `json:"key"`
	TokensAvailable float64   `json:"tokens_available"`
	LastSeen        time.Time `json:"last_seen"`
}
