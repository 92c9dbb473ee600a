// Package holdingstest writes parquet fixtures shaped like the ingestion
// output, for tests of the store and the HTTP surface.
package holdingstest

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/sawpanic/arkholdings/internal/holdings"
	"github.com/sawpanic/arkholdings/internal/ticker"
)

// Holding is one fixture row with a DATE column.
type Holding struct {
	Date        int32   `parquet:"date,date"`
	Ticker      string  `parquet:"ticker"`
	Cusip       string  `parquet:"cusip"`
	Company     string  `parquet:"company"`
	MarketValue int64   `parquet:"market_value"`
	Shares      int64   `parquet:"shares"`
	SharePrice  float64 `parquet:"share_price"`
	Weight      float64 `parquet:"weight"`
}

// TextHolding stores the date as a string column, which lets tests plant
// unreadable date cells.
type TextHolding struct {
	Date        string  `parquet:"date"`
	Ticker      string  `parquet:"ticker"`
	Cusip       string  `parquet:"cusip"`
	Company     string  `parquet:"company"`
	MarketValue int64   `parquet:"market_value"`
	Shares      int64   `parquet:"shares"`
	SharePrice  float64 `parquet:"share_price"`
	Weight      float64 `parquet:"weight"`
}

// Days converts an ISO date to the DATE representation, failing the test on a
// bad literal.
func Days(t testing.TB, iso string) int32 {
	t.Helper()
	d, err := holdings.ParseDate(iso)
	if err != nil {
		t.Fatalf("fixture date %q: %v", iso, err)
	}
	return d.Days()
}

// Row builds a fixture holding dated iso.
func Row(t testing.TB, iso, symbol, company string, weight float64) Holding {
	t.Helper()
	return Holding{
		Date:        Days(t, iso),
		Ticker:      symbol,
		Cusip:       "CUSIP" + symbol,
		Company:     company,
		MarketValue: 1_000_000,
		Shares:      10_000,
		SharePrice:  100.25,
		Weight:      weight,
	}
}

// Write stores rows as <dir>/<fund>.parquet and returns the path.
func Write[T any](t testing.TB, dir string, fund ticker.Ticker, rows []T) string {
	t.Helper()
	path := filepath.Join(dir, fund.String()+".parquet")
	if err := parquet.WriteFile(path, rows); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
	return path
}

// ARKKSample is the three-row ARKK dataset used across packages.
func ARKKSample(t testing.TB) []Holding {
	return []Holding{
		Row(t, "2023-11-20", "TSLA", "TESLA INC", 10.5),
		Row(t, "2023-09-01", "COIN", "COINBASE GLOBAL INC -CLASS A", 7.25),
		Row(t, "2023-10-15", "ROKU", "ROKU INC", 6.75),
	}
}

// CountingStore counts Load calls on a wrapped store.
type CountingStore struct {
	holdings.Store
	loads atomic.Int64
}

// Count wraps s.
func Count(s holdings.Store) *CountingStore { return &CountingStore{Store: s} }

// Loads returns the number of Load calls so far.
func (c *CountingStore) Loads() int64 { return c.loads.Load() }

func (c *CountingStore) Load(ctx context.Context, t ticker.Ticker) (*holdings.Dataset, error) {
	c.loads.Add(1)
	return c.Store.Load(ctx, t)
}

// Date is a test shorthand for a parsed date pointer.
func Date(t testing.TB, iso string) *holdings.Date {
	t.Helper()
	d, err := holdings.ParseDate(iso)
	if err != nil {
		t.Fatalf("date %q: %v", iso, err)
	}
	return &d
}
