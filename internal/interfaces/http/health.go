package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sawpanic/arkholdings/internal/admission"
	"github.com/sawpanic/arkholdings/internal/holdings"
	httpContracts "github.com/sawpanic/arkholdings/internal/http"
)

// backlogGauge is a global limiter whose waiting queue can be inspected.
type backlogGauge interface {
	Waiting() int
	Backlog() int
}

// HealthHandler reports whether the service can answer queries.
type HealthHandler struct {
	store     holdings.Store
	clients   *admission.ClientLimiter
	backlogs  map[string]backlogGauge
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler. clients may be nil.
func NewHealthHandler(store holdings.Store, clients *admission.ClientLimiter, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		clients:   clients,
		backlogs:  make(map[string]backlogGauge),
		startTime: time.Now(),
		version:   version,
		timeout:   2 * time.Second,
	}
}

// WatchBacklog adds a check of the named endpoint's global backlog.
func (h *HealthHandler) WatchBacklog(endpoint string, g backlogGauge) {
	h.backlogs[endpoint] = g
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	System    SystemInfo             `json:"system"`
	Checks    map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status   string `json:"status"` // "pass", "warn", "fail"
	Message  string `json:"message"`
	Duration string `json:"duration,omitempty"`
}

type circuitState interface {
	State() gobreaker.State
}

// breakerOf finds a circuit breaker in a chain of store wrappers.
func breakerOf(s holdings.Store) (circuitState, bool) {
	for s != nil {
		if cs, ok := s.(circuitState); ok {
			return cs, true
		}
		u, ok := s.(interface{ Unwrap() holdings.Store })
		if !ok {
			return nil, false
		}
		s = u.Unwrap()
	}
	return nil, false
}

// ServeHTTP implements the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
		},
		Checks: make(map[string]CheckResult),
	}

	resp.Checks["storage"] = h.checkStorage(r.Context())
	if cs, ok := breakerOf(h.store); ok {
		state := cs.State()
		result := CheckResult{Status: "pass", Message: state.String()}
		if state != gobreaker.StateClosed {
			result.Status = "warn"
		}
		resp.Checks["circuit"] = result
	}
	if h.clients != nil {
		resp.Checks["admission"] = h.checkClients()
	}
	for endpoint, g := range h.backlogs {
		resp.Checks["backlog:"+endpoint] = checkBacklog(g)
	}

	status := http.StatusOK
	if resp.Checks["storage"].Status == "fail" {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	httpContracts.WriteJSON(w, status, resp)
}

func (h *HealthHandler) checkClients() CheckResult {
	throttled := 0
	stats := h.clients.Stats()
	for _, st := range stats {
		if st.TokensAvailable < 1 {
			throttled++
		}
	}
	return CheckResult{
		Status:  "pass",
		Message: fmt.Sprintf("%d tracked clients, %d throttled", len(stats), throttled),
	}
}

// checkBacklog warns while every backlog slot is taken.
func checkBacklog(g backlogGauge) CheckResult {
	waiting, slots := g.Waiting(), g.Backlog()
	result := CheckResult{Status: "pass", Message: fmt.Sprintf("%d of %d waiting", waiting, slots)}
	if slots > 0 && waiting >= slots {
		result.Status = "warn"
	}
	return result
}

func (h *HealthHandler) checkStorage(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := h.store.Check(ctx)
	result := CheckResult{
		Status:   "pass",
		Message:  h.store.Backend() + " reachable",
		Duration: time.Since(start).Round(time.Microsecond).String(),
	}
	if err != nil {
		result.Status = "fail"
		result.Message = err.Error()
	}
	return result
}
