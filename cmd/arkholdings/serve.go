package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"

	"github.com/sawpanic/arkholdings/internal/admission"
	"github.com/sawpanic/arkholdings/internal/config"
	"github.com/sawpanic/arkholdings/internal/holdings"
	apphttp "github.com/sawpanic/arkholdings/internal/interfaces/http"
	"github.com/sawpanic/arkholdings/internal/metrics"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the holdings HTTP server",
		Long:  "Serves /ark_holdings and /ark_venture_holdings with OpenAPI docs at /, /health and /metrics",
		RunE:  runServe,
	}
	cmd.Flags().String("host", "", "Listen host (overrides server.host)")
	cmd.Flags().Int("port", 0, "Listen port (overrides server.port)")
	cmd.Flags().String("data-dir", "", "Parquet dataset directory")
	cmd.Flags().String("backend", "", "Storage backend (parquet|postgres)")
	cmd.Flags().Bool("trust-proxy", true, "Key clients by X-Forwarded-For/X-Real-IP/Forwarded")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	overrideString(flags, "host", &cfg.Server.Host)
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("trust-proxy") {
		cfg.Admission.TrustProxy, _ = flags.GetBool("trust-proxy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Logger
	m := metrics.New()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var clients *admission.ClientLimiter
	if cfg.Admission.PerClient.Enabled {
		clients = admission.NewClientLimiter(admission.ClientOptions{
			Period:  cfg.Admission.PerClient.Period,
			Burst:   cfg.Admission.PerClient.Burst,
			IdleTTL: cfg.Admission.PerClient.IdleTTL,
		}, time.Now)
		go clients.Run(ctx, cfg.Admission.SweepInterval, func(removed, remaining int) {
			m.SetTrackedClients(remaining)
			if removed > 0 {
				logger.Debug().Int("removed", removed).Int("remaining", remaining).Msg("swept idle clients")
			}
		})
	}

	globals, closeRedis, err := redisGlobals(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	srv, err := apphttp.NewServer(apphttp.Deps{
		Config:  cfg,
		Store:   metrics.InstrumentStore(store, m),
		Metrics: m,
		Clients: clients,
		Globals: globals,
		Logger:  logger,
		Version: version,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

// openStore builds the configured backend, wrapped in a circuit breaker when
// enabled. The returned func releases backend resources.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (holdings.Store, func(), error) {
	var (
		store   holdings.Store
		closeFn = func() {}
	)

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pc := cfg.Storage.Postgres
		pg, err := holdings.OpenPostgres(ctx, holdings.PostgresOptions{
			DSN:             pc.DSN,
			MaxOpenConns:    pc.MaxOpenConns,
			MaxIdleConns:    pc.MaxIdleConns,
			ConnMaxLifetime: pc.ConnMaxLifetime,
			QueryTimeout:    pc.QueryTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		store = pg
		closeFn = func() {
			if err := pg.Close(); err != nil {
				logger.Warn().Err(err).Msg("close postgres")
			}
		}
	default:
		ps := holdings.NewParquetStore(cfg.Storage.Dir)
		if err := ps.Check(ctx); err != nil {
			// Serve anyway; /health reports it and loads fail per request.
			logger.Warn().Err(err).Str("dir", cfg.Storage.Dir).Msg("dataset directory unavailable")
		}
		store = ps
	}

	if b := cfg.Storage.Breaker; b.Enabled {
		store = holdings.NewBreakerStore(store, holdings.BreakerOptions{
			ConsecutiveFailures: b.ConsecutiveFailures,
			Interval:            b.Interval,
			Timeout:             b.Timeout,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("storage circuit changed state")
			},
		})
	}

	logger.Info().Str("backend", store.Backend()).Bool("breaker", cfg.Storage.Breaker.Enabled).Msg("storage ready")
	return store, closeFn, nil
}

// redisGlobals replaces the in-process global limiters with shared Redis
// windows when admission.redis.addr is set.
func redisGlobals(ctx context.Context, cfg config.Config, logger zerolog.Logger) (map[string]admission.GlobalLimiter, func(), error) {
	rc := cfg.Admission.Redis
	if rc.Addr == "" {
		return nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", rc.Addr, err)
	}

	globals := make(map[string]admission.GlobalLimiter, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		globals[ep.Name] = admission.NewRedisGlobal(client, admission.RedisOptions{
			Prefix: rc.Prefix + ":" + ep.Name,
			Limit:  windowLimit(ep.Global.RPS, rc.Window),
			Window: rc.Window,
		}, time.Now, logger)
	}
	logger.Info().Str("addr", rc.Addr).Msg("global limits shared through redis")

	return globals, func() { _ = client.Close() }, nil
}

// windowLimit converts a per-second rate to a count per window.
func windowLimit(rps int, window time.Duration) int64 {
	if window <= 0 {
		window = time.Second
	}
	n := int64(float64(rps) * window.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}
