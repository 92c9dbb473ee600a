package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2023, 10, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestClientLimiter_Burst(t *testing.T) {
	clock := newFakeClock()
	l := NewClientLimiter(ClientOptions{Period: 500 * time.Millisecond, Burst: 2}, clock.Now)

	first := l.Allow("10.0.0.1")
	assert.True(t, first.Allowed)
	assert.Equal(t, ScopeClient, first.Scope)
	assert.Equal(t, 2, first.Limit)
	assert.Equal(t, 1, first.Remaining)

	assert.True(t, l.Allow("10.0.0.1").Allowed)

	third := l.Allow("10.0.0.1")
	assert.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.Equal(t, 500*time.Millisecond, third.RetryAfter)
}

func TestClientLimiter_Replenishes(t *testing.T) {
	clock := newFakeClock()
	l := NewClientLimiter(ClientOptions{Period: 500 * time.Millisecond, Burst: 1}, clock.Now)

	require.True(t, l.Allow("a").Allowed)
	require.False(t, l.Allow("a").Allowed)

	clock.Advance(499 * time.Millisecond)
	assert.False(t, l.Allow("a").Allowed)

	clock.Advance(time.Millisecond)
	assert.True(t, l.Allow("a").Allowed)
}

func TestClientLimiter_IndependentKeys(t *testing.T) {
	clock := newFakeClock()
	l := NewClientLimiter(ClientOptions{Period: time.Second, Burst: 1}, clock.Now)

	assert.True(t, l.Allow("host1").Allowed)
	assert.True(t, l.Allow("host2").Allowed)
	assert.False(t, l.Allow("host1").Allowed)
	assert.False(t, l.Allow("host2").Allowed)
	assert.Equal(t, 2, l.Len())
}

func TestClientLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := NewClientLimiter(ClientOptions{Period: time.Second, Burst: 5, IdleTTL: time.Minute}, clock.Now)

	l.Allow("old")
	clock.Advance(50 * time.Second)
	l.Allow("recent")
	clock.Advance(20 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	stats := l.Stats()
	assert.Contains(t, stats, "recent")
	assert.NotContains(t, stats, "old")
	assert.Equal(t, 5.0, stats["recent"].TokensAvailable, "refilled to burst")
	assert.Equal(t, clock.Now().Add(-20*time.Second), stats["recent"].LastSeen)
}

func TestClientLimiter_NewBucketSurvivesSweep(t *testing.T) {
	clock := newFakeClock()
	l := NewClientLimiter(ClientOptions{Period: time.Second, Burst: 5, IdleTTL: time.Minute}, clock.Now)

	// A bucket created but not yet charged must already count as seen.
	l.bucket("fresh", clock.Now())
	assert.Equal(t, 0, l.Sweep())
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, clock.Now(), l.Stats()["fresh"].LastSeen)
}

func TestClientLimiter_Run(t *testing.T) {
	clock := newFakeClock()
	l := NewClientLimiter(ClientOptions{Period: time.Second, Burst: 5, IdleTTL: time.Second}, clock.Now)
	l.Allow("idle")
	clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var swept atomic.Int64
	go l.Run(ctx, 5*time.Millisecond, func(removed, remaining int) {
		swept.Add(int64(removed))
	})

	require.Eventually(t, func() bool { return swept.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, l.Len())
}

func TestClientLimiter_ConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	l := NewClientLimiter(ClientOptions{Period: time.Hour, Burst: 10}, clock.Now)

	const clients, perClient = 20, 50
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		for i := 0; i < perClient; i++ {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				if l.Allow(key).Allowed {
					admitted.Add(1)
				}
			}(fmt.Sprintf("client-%d", c))
		}
	}
	wg.Wait()

	// No lost updates: every client gets exactly its burst.
	assert.Equal(t, int64(clients*10), admitted.Load())
	assert.Equal(t, clients, l.Len())
}
