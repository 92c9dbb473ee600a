// Package admission rejects requests before they reach a query handler when
// either the endpoint's global ceiling or the caller's own ceiling is spent.
package admission

import (
	"math"
	"net/http"
	"strconv"
	"time"

	httpContracts "github.com/sawpanic/arkholdings/internal/http"
)

// RejectFunc writes the response for a rejected request. Rate-limit headers
// are already set when it runs.
type RejectFunc func(w http.ResponseWriter, r *http.Request, d Decision)

// Controller composes a per-endpoint global limiter with the process-wide
// per-client limiter. Either may be nil to disable it.
type Controller struct {
	Endpoint string
	Global   GlobalLimiter
	Client   *ClientLimiter
	Key      KeyFunc
	Reject   RejectFunc
	// OnDecision, if set, observes every final decision.
	OnDecision func(endpoint string, d Decision)
}

// Admit evaluates the client bucket first, so a client over its own ceiling
// does not consume shared capacity, then the global bucket.
func (c *Controller) Admit(r *http.Request) (Decision, error) {
	var client Decision
	if c.Client != nil {
		key := RemoteAddrKey(r)
		if c.Key != nil {
			key = c.Key(r)
		}
		client = c.Client.Allow(key)
		if !client.Allowed {
			return client, nil
		}
	}

	if c.Global != nil {
		global, err := c.Global.Admit(r.Context())
		if err != nil || !global.Allowed {
			return global, err
		}
	}

	if c.Client != nil {
		return client, nil
	}
	return Decision{Allowed: true, Scope: ScopeGlobal}, nil
}

// Middleware short-circuits rejected requests with 429.
func (c *Controller) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := c.Admit(r)
		if err != nil {
			// Caller went away while waiting in the backlog.
			w.WriteHeader(httpContracts.StatusClientClosedRequest)
			return
		}
		if c.OnDecision != nil {
			c.OnDecision(c.Endpoint, d)
		}

		h := w.Header()
		if d.Limit > 0 {
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		}
		if d.Allowed {
			if d.Scope == ScopeClient {
				h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			}
			next.ServeHTTP(w, r)
			return
		}

		after := retrySeconds(d.RetryAfter)
		h.Set("X-RateLimit-Remaining", "0")
		h.Set("X-RateLimit-After", strconv.Itoa(after))
		h.Set("X-RateLimit-Scope", d.Scope)
		h.Set("Retry-After", strconv.Itoa(after))

		if c.Reject != nil {
			c.Reject(w, r, d)
			return
		}
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	})
}

func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
