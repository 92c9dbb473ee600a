package holdings

import (
	"context"
	"errors"
	"fmt"

	"github.com/sawpanic/arkholdings/internal/ticker"
)

var (
	// ErrDatasetNotFound means a ticker from the enumeration has no backing
	// dataset. This is a deployment inconsistency, not bad client input.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrStorageUnavailable is returned while the storage circuit is open.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Store loads the dataset for a ticker. Implementations must be safe for
// concurrent use and must not cache datasets between calls.
type Store interface {
	Load(ctx context.Context, t ticker.Ticker) (*Dataset, error)
	// Check reports whether the backend is reachable.
	Check(ctx context.Context) error
	// Inventory lists the dataset names the backend holds, sorted.
	Inventory(ctx context.Context) ([]string, error)
	// Backend names the implementation for logs and metrics.
	Backend() string
}

// LoadError is a read or decode failure for one dataset.
type LoadError struct {
	Op     string
	Ticker ticker.Ticker
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("load %s (%s): %s: %v", e.Ticker, e.Path, e.Op, e.Err)
	}
	return fmt.Sprintf("load %s: %s: %v", e.Ticker, e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func notFound(t ticker.Ticker, where string) error {
	return fmt.Errorf("%w: %s at %s", ErrDatasetNotFound, t, where)
}
