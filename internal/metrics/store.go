package metrics

import (
	"context"

	"github.com/sawpanic/arkholdings/internal/holdings"
	"github.com/sawpanic/arkholdings/internal/ticker"
)

// InstrumentedStore times every Load of the wrapped store.
type InstrumentedStore struct {
	holdings.Store
	metrics *Registry
}

// InstrumentStore wraps s. A nil registry returns s unchanged.
func InstrumentStore(s holdings.Store, r *Registry) holdings.Store {
	if r == nil {
		return s
	}
	return &InstrumentedStore{Store: s, metrics: r}
}

// Load implements holdings.Store.
func (s *InstrumentedStore) Load(ctx context.Context, t ticker.Ticker) (*holdings.Dataset, error) {
	timer := s.metrics.StartLoadTimer(s.Store.Backend())
	ds, err := s.Store.Load(ctx, t)
	timer.Stop(err)
	return ds, err
}

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() holdings.Store { return s.Store }
