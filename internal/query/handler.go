// Package query serves holdings for one endpoint: validate the ticker, load
// its dataset, filter by date range and project to JSON.
package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/arkholdings/internal/holdings"
	httpContracts "github.com/sawpanic/arkholdings/internal/http"
	"github.com/sawpanic/arkholdings/internal/metrics"
	"github.com/sawpanic/arkholdings/internal/projection"
	"github.com/sawpanic/arkholdings/internal/ticker"
)

// Endpoint binds a route name to the ticker set it accepts.
type Endpoint struct {
	Name    string
	Tickers ticker.Set
}

// ClientError is a request the caller must fix.
type ClientError struct {
	Code    string
	Message string
}

func (e *ClientError) Error() string { return e.Message }

// Params is a validated request.
type Params struct {
	Ticker ticker.Ticker
	Range  holdings.DateRange
}

// Handler implements http.Handler for one endpoint.
type Handler struct {
	endpoint    Endpoint
	store       holdings.Store
	metrics     *metrics.Registry
	log         zerolog.Logger
	loadTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLoadTimeout bounds each dataset load. Zero leaves only the request
// context in charge.
func WithLoadTimeout(d time.Duration) Option {
	return func(h *Handler) { h.loadTimeout = d }
}

// NewHandler creates the handler. m may be nil.
func NewHandler(ep Endpoint, store holdings.Store, m *metrics.Registry, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		endpoint: ep,
		store:    store,
		metrics:  m,
		log:      logger.With().Str("endpoint", ep.Name).Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Endpoint returns the endpoint the handler serves.
func (h *Handler) Endpoint() Endpoint { return h.endpoint }

// Parse validates query parameters. The ticker is checked before anything
// else so an unknown ticker never reaches storage.
func (h *Handler) Parse(r *http.Request) (Params, error) {
	q := r.URL.Query()

	raw := q.Get("ticker")
	if raw == "" {
		return Params{}, &ClientError{Code: httpContracts.CodeInvalidTicker, Message: "missing required parameter ticker"}
	}
	t, err := h.endpoint.Tickers.Parse(raw)
	if err != nil {
		return Params{}, &ClientError{
			Code:    httpContracts.CodeInvalidTicker,
			Message: fmt.Sprintf("unknown ticker %q, expected one of %s", raw, h.endpoint.Tickers),
		}
	}

	var rng holdings.DateRange
	if rng.Start, err = parseBound(q.Get("start"), "start"); err != nil {
		return Params{}, err
	}
	if rng.End, err = parseBound(q.Get("end"), "end"); err != nil {
		return Params{}, err
	}
	return Params{Ticker: t, Range: rng}, nil
}

func parseBound(v, name string) (*holdings.Date, error) {
	if v == "" {
		return nil, nil
	}
	d, err := holdings.ParseDate(v)
	if err != nil {
		return nil, &ClientError{
			Code:    httpContracts.CodeInvalidDate,
			Message: fmt.Sprintf("%s must be a date formatted YYYY-MM-DD, got %q", name, v),
		}
	}
	return &d, nil
}

// Query runs load, filter and projection for validated params.
func (h *Handler) Query(ctx context.Context, p Params) ([]byte, int, error) {
	if h.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.loadTimeout)
		defer cancel()
	}

	ds, err := h.store.Load(ctx, p.Ticker)
	if err != nil {
		return nil, 0, err
	}
	filtered := holdings.Filter(ds, p.Range)
	body, err := projection.JSON(filtered)
	if err != nil {
		return nil, 0, err
	}
	return body, filtered.Len(), nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.serve(w, r)
	h.metrics.ObserveRequest(h.endpoint.Name, status, time.Since(start))
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) int {
	p, err := h.Parse(r)
	if err != nil {
		var ce *ClientError
		if errors.As(err, &ce) {
			httpContracts.WriteError(w, r, http.StatusBadRequest, ce.Code, ce.Message)
			return http.StatusBadRequest
		}
		return h.fail(w, r, p, err)
	}

	body, n, err := h.Query(r.Context(), p)
	if err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			// Client is gone; the status is for the request log only.
			w.WriteHeader(httpContracts.StatusClientClosedRequest)
			return httpContracts.StatusClientClosedRequest
		}
		return h.fail(w, r, p, err)
	}

	h.metrics.ObserveRows(h.endpoint.Name, n)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.log.Debug().Err(err).Str("request_id", httpContracts.RequestID(r.Context())).Msg("write response")
	}
	return http.StatusOK
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, p Params, err error) int {
	event := h.log.Error()
	if errors.Is(err, holdings.ErrDatasetNotFound) {
		// Enumerated ticker without a dataset: deployment drift.
		event = h.log.Warn()
	}
	event.Err(err).
		Str("ticker", p.Ticker.String()).
		Str("range", p.Range.String()).
		Str("request_id", httpContracts.RequestID(r.Context())).
		Msg("query failed")

	httpContracts.WriteError(w, r, http.StatusInternalServerError, httpContracts.CodeInternal, "internal server error")
	return http.StatusInternalServerError
}
