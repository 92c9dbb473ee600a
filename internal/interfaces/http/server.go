// Package http mounts the holdings endpoints, their admission control and the
// operational routes on a gorilla/mux router.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/arkholdings/internal/admission"
	"github.com/sawpanic/arkholdings/internal/config"
	"github.com/sawpanic/arkholdings/internal/holdings"
	httpContracts "github.com/sawpanic/arkholdings/internal/http"
	"github.com/sawpanic/arkholdings/internal/metrics"
	"github.com/sawpanic/arkholdings/internal/query"
	"github.com/sawpanic/arkholdings/internal/ticker"
)

// Deps are the collaborators the server is built from.
type Deps struct {
	Config  config.Config
	Store   holdings.Store
	Metrics *metrics.Registry // optional
	// Clients is the per-client limiter shared by every endpoint; nil
	// disables per-client limiting.
	Clients *admission.ClientLimiter
	// Globals overrides the in-process global limiter by endpoint name.
	Globals map[string]admission.GlobalLimiter
	Logger  zerolog.Logger
	Version string
	// Now drives the in-process global limiters; defaults to time.Now.
	Now func() time.Time
}

// Server represents the read-only HTTP server
type Server struct {
	router  *mux.Router
	handler http.Handler
	server  *http.Server
	cfg     config.Config
	store   holdings.Store
	metrics *metrics.Registry
	clients *admission.ClientLimiter
	log     zerolog.Logger
	routes  []Route
	openapi *openapi3.T
}

// NewServer builds the router and middleware chain.
func NewServer(d Deps) (*Server, error) {
	if d.Store == nil {
		return nil, errors.New("http server: store is required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	s := &Server{
		router:  mux.NewRouter(),
		cfg:     d.Config,
		store:   d.Store,
		metrics: d.Metrics,
		clients: d.Clients,
		log:     d.Logger.With().Str("component", "http").Logger(),
	}

	if err := s.setupRoutes(d); err != nil {
		return nil, err
	}
	s.openapi = BuildOpenAPI(d.Version, s.routes)

	s.handler = s.chain(s.router)
	s.server = &http.Server{
		Addr:         d.Config.Server.Addr(),
		Handler:      s.handler,
		ReadTimeout:  d.Config.Server.ReadTimeout,
		WriteTimeout: d.Config.Server.WriteTimeout,
		IdleTimeout:  d.Config.Server.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(d Deps) error {
	key := admission.KeyStrategy(s.cfg.Admission.TrustProxy)
	health := NewHealthHandler(s.store, s.clients, d.Version)

	for _, ep := range s.cfg.Endpoints {
		set, err := ticker.Lookup(ep.Tickers)
		if err != nil {
			return fmt.Errorf("endpoint %s: %w", ep.Path, err)
		}
		endpoint := query.Endpoint{Name: ep.Name, Tickers: set}

		global, ok := d.Globals[ep.Name]
		if !ok {
			global = admission.NewLocalGlobal(admission.GlobalOptions{
				RPS:     ep.Global.RPS,
				Burst:   ep.Global.Burst,
				Backlog: ep.Global.Backlog,
				MaxWait: ep.Global.MaxWait,
			}, d.Now)
		}
		if g, ok := global.(backlogGauge); ok && g.Backlog() > 0 {
			health.WatchBacklog(ep.Name, g)
		}

		controller := &admission.Controller{
			Endpoint: ep.Name,
			Global:   global,
			Client:   s.clients,
			Key:      key,
			Reject:   s.rejected,
			OnDecision: func(endpoint string, dec admission.Decision) {
				if !dec.Allowed {
					s.metrics.ObserveRejection(endpoint, dec.Scope)
				}
			},
		}

		h := query.NewHandler(endpoint, s.store, s.metrics, s.log, query.WithLoadTimeout(s.cfg.Storage.LoadTimeout))
		s.router.Handle(ep.Path, controller.Middleware(h)).Methods(http.MethodGet)
		s.routes = append(s.routes, Route{Path: ep.Path, Summary: ep.Summary, Endpoint: endpoint})
	}

	s.router.HandleFunc("/", s.redoc).Methods(http.MethodGet)
	s.router.HandleFunc("/api.json", s.apiDocument).Methods(http.MethodGet)
	s.router.Handle("/health", health).Methods(http.MethodGet)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.Handle(s.cfg.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)
	return nil
}

// chain wraps h in the middleware stack, outermost first.
func (s *Server) chain(h http.Handler) http.Handler {
	if s.cfg.Server.Compression {
		h = s.compressionMiddleware(h)
	}
	if s.cfg.Server.CORS {
		h = s.corsMiddleware(h)
	}
	h = s.timeoutMiddleware(h)
	h = s.requestLoggingMiddleware(h)
	h = s.requestIDMiddleware(h)
	return s.recoverMiddleware(h)
}

func (s *Server) rejected(w http.ResponseWriter, r *http.Request, d admission.Decision) {
	httpContracts.WriteError(w, r, http.StatusTooManyRequests, httpContracts.CodeRateLimited,
		fmt.Sprintf("%s rate limit exceeded, retry after %s", d.Scope, w.Header().Get("Retry-After")+"s"))
}

// notFound handles 404 responses
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	httpContracts.WriteError(w, r, http.StatusNotFound, httpContracts.CodeNotFound,
		"The requested endpoint does not exist")
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET")
	httpContracts.WriteError(w, r, http.StatusMethodNotAllowed, httpContracts.CodeMethod,
		fmt.Sprintf("%s is not supported, use GET", r.Method))
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Routes lists the mounted data endpoints.
func (s *Server) Routes() []Route { return s.routes }

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("port %d is busy or unavailable: %w", s.cfg.Server.Port, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. http.ErrServerClosed is not an error.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Int("endpoints", len(s.routes)).
		Bool("trust_proxy", s.cfg.Admission.TrustProxy).
		Msg("Starting HTTP server")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	return s.server.Addr
}
