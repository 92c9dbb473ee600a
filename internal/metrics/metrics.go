// Package metrics holds the Prometheus collectors for the holdings service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/arkholdings/internal/holdings"
)

// Registry owns every collector and the registry they are exposed from.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	Requests            *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	AdmissionRejections *prometheus.CounterVec
	LoadDuration        *prometheus.HistogramVec
	DatasetRows         *prometheus.HistogramVec
	TrackedClients      prometheus.Gauge
}

// New creates the collectors on a fresh registry, including the Go runtime
// and process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arkholdings_http_requests_total",
				Help: "Requests served by endpoint and status code",
			},
			[]string{"endpoint", "code"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arkholdings_http_request_duration_seconds",
				Help:    "Request latency by endpoint",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"endpoint"},
		),

		AdmissionRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arkholdings_admission_rejections_total",
				Help: "Requests rejected by the admission controller, by limiter scope",
			},
			[]string{"endpoint", "scope"},
		),

		LoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arkholdings_dataset_load_duration_seconds",
				Help:    "Dataset load latency by storage backend and result",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"backend", "result"},
		),

		DatasetRows: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arkholdings_dataset_rows",
				Help:    "Rows returned per successful query",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"endpoint"},
		),

		TrackedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arkholdings_tracked_clients",
				Help: "Client addresses currently held by the per-client limiter",
			},
		),
	}

	r.reg.MustRegister(
		r.Requests,
		r.RequestDuration,
		r.AdmissionRejections,
		r.LoadDuration,
		r.DatasetRows,
		r.TrackedClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request.
func (r *Registry) ObserveRequest(endpoint string, code int, d time.Duration) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	r.RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRejection counts an admission rejection. The rejected request is
// also counted in the requests total as a 429.
func (r *Registry) ObserveRejection(endpoint, scope string) {
	if r == nil {
		return
	}
	r.AdmissionRejections.WithLabelValues(endpoint, scope).Inc()
	r.Requests.WithLabelValues(endpoint, "429").Inc()
}

// ObserveRows records the size of a projected response.
func (r *Registry) ObserveRows(endpoint string, n int) {
	if r == nil {
		return
	}
	r.DatasetRows.WithLabelValues(endpoint).Observe(float64(n))
}

// SetTrackedClients updates the per-client limiter gauge.
func (r *Registry) SetTrackedClients(n int) {
	if r == nil {
		return
	}
	r.TrackedClients.Set(float64(n))
}

// LoadTimer times a single dataset load.
type LoadTimer struct {
	r       *Registry
	backend string
	start   time.Time
}

// StartLoadTimer begins timing a load against backend.
func (r *Registry) StartLoadTimer(backend string) *LoadTimer {
	return &LoadTimer{r: r, backend: backend, start: time.Now()}
}

// Stop records the elapsed time labelled with the outcome of err.
func (t *LoadTimer) Stop(err error) {
	if t.r == nil {
		return
	}
	t.r.LoadDuration.WithLabelValues(t.backend, LoadResult(err)).Observe(time.Since(t.start).Seconds())
}

// LoadResult maps a load error to its metric label.
func LoadResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, holdings.ErrDatasetNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, holdings.ErrStorageUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
