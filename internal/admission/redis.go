package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisGlobal is a fixed-window counter shared by every replica that points
// at the same Redis. A Redis failure admits the request.
type RedisGlobal struct {
	client redis.Cmdable
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// RedisOptions configures RedisGlobal.
type RedisOptions struct {
	// Prefix namespaces the window keys, normally by endpoint.
	Prefix string
	// Limit is the number of requests admitted per window.
	Limit int64
	// Window is the counting window; one second gives a requests/second ceiling.
	Window time.Duration
}

// NewRedisGlobal creates the limiter. now may be nil.
func NewRedisGlobal(client redis.Cmdable, opts RedisOptions, now func() time.Time, logger zerolog.Logger) *RedisGlobal {
	if now == nil {
		now = time.Now
	}
	if opts.Window <= 0 {
		opts.Window = time.Second
	}
	return &RedisGlobal{
		client: client,
		prefix: opts.Prefix,
		limit:  opts.Limit,
		window: opts.Window,
		now:    now,
		log:    logger,
	}
}

// Key returns the counter key of the window containing t.
func (g *RedisGlobal) Key(t time.Time) string {
	return fmt.Sprintf("%s:%d", g.prefix, t.UnixNano()/int64(g.window))
}

func (g *RedisGlobal) Admit(ctx context.Context) (Decision, error) {
	now := g.now()
	slot := now.UnixNano() / int64(g.window)
	key := g.Key(now)
	reset := time.Unix(0, (slot+1)*int64(g.window))

	// Two windows so a slow clock on another replica still sees the key.
	// NX keeps the first expiry; INCR and EXPIRE commit together.
	var incr *redis.IntCmd
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, 2*g.window)
		return nil
	})
	if err != nil && (incr == nil || incr.Err() != nil) {
		if ctx.Err() != nil {
			return Decision{Scope: ScopeGlobal}, ctx.Err()
		}
		g.log.Warn().Err(err).Str("key", key).Msg("Global limiter unavailable, admitting request")
		return Decision{Allowed: true, Scope: ScopeGlobal, Info: Info{Limit: int(g.limit), ResetAt: reset}}, nil
	}
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("Failed to set window expiry")
	}
	n := incr.Val()

	d := Decision{
		Allowed: n <= g.limit,
		Scope:   ScopeGlobal,
		Info:    Info{Limit: int(g.limit), ResetAt: reset},
	}
	if d.Allowed {
		d.Remaining = int(g.limit - n)
	} else {
		d.RetryAfter = reset.Sub(now)
	}
	return d, nil
}
