package holdings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sawpanic/arkholdings/internal/ticker"
)

// BreakerOptions tunes BreakerStore.
type BreakerOptions struct {
	ConsecutiveFailures uint32
	Interval            time.Duration
	Timeout             time.Duration
	OnStateChange       func(name string, from, to gobreaker.State)
}

// BreakerStore fails fast with ErrStorageUnavailable after repeated storage
// faults. Missing datasets and caller cancellations are not faults.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next.
func NewBreakerStore(next Store, opts BreakerOptions) *BreakerStore {
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "storage-" + next.Backend(),
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrDatasetNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: opts.OnStateChange,
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerStore) Backend() string { return b.next.Backend() }

// State exposes the breaker state for health reporting.
func (b *BreakerStore) State() gobreaker.State { return b.cb.State() }

func (b *BreakerStore) Load(ctx context.Context, t ticker.Ticker) (*Dataset, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Load(ctx, t)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return nil, err
	}
	return v.(*Dataset), nil
}

func (b *BreakerStore) Inventory(ctx context.Context) ([]string, error) {
	return b.next.Inventory(ctx)
}

// Check fails while the circuit is open, otherwise defers to the wrapped store.
func (b *BreakerStore) Check(ctx context.Context) error {
	if b.cb.State() == gobreaker.StateOpen {
		return ErrStorageUnavailable
	}
	return b.next.Check(ctx)
}
