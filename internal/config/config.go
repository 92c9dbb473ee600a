// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	Admission AdmissionConfig  `yaml:"admission"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Log       LogConfig        `yaml:"log"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Compression     bool          `yaml:"compression"`
	CORS            bool          `yaml:"cors"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Storage backends.
const (
	BackendParquet  = "parquet"
	BackendPostgres = "postgres"
)

// StorageConfig selects and tunes the dataset store.
type StorageConfig struct {
	Backend     string         `yaml:"backend"`
	Dir         string         `yaml:"dir"`
	LoadTimeout time.Duration  `yaml:"load_timeout"`
	Postgres    PostgresConfig `yaml:"postgres"`
	Breaker     BreakerConfig  `yaml:"breaker"`
}

// PostgresConfig holds database connection configuration.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// BreakerConfig tunes the storage circuit breaker.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
}

// AdmissionConfig holds the rate limiting settings shared by every endpoint.
type AdmissionConfig struct {
	// TrustProxy keys clients by forwarding headers instead of the peer address.
	TrustProxy    bool            `yaml:"trust_proxy"`
	PerClient     PerClientConfig `yaml:"per_client"`
	Redis         RedisConfig     `yaml:"redis"`
	SweepInterval time.Duration   `yaml:"sweep_interval"`
}

// PerClientConfig configures the per-address token buckets.
type PerClientConfig struct {
	Enabled bool          `yaml:"enabled"`
	Period  time.Duration `yaml:"period"`
	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// RedisConfig enables the shared global window when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Window   time.Duration `yaml:"window"`
}

// EndpointConfig declares one data endpoint.
type EndpointConfig struct {
	Path    string       `yaml:"path"`
	Name    string       `yaml:"name"`
	Tickers string       `yaml:"tickers"`
	Summary string       `yaml:"summary"`
	Global  GlobalConfig `yaml:"global"`
}

// GlobalConfig is an endpoint's throughput ceiling.
type GlobalConfig struct {
	RPS     int           `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	Backlog int           `yaml:"backlog"`
	MaxWait time.Duration `yaml:"max_wait"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Compression:     true,
			CORS:            true,
		},
		Storage: StorageConfig{
			Backend:     BackendParquet,
			Dir:         "data/parquet",
			LoadTimeout: 5 * time.Second,
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
				QueryTimeout:    5 * time.Second,
			},
			Breaker: BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				Interval:            60 * time.Second,
				Timeout:             30 * time.Second,
			},
		},
		Admission: AdmissionConfig{
			TrustProxy: true,
			PerClient: PerClientConfig{
				Enabled: true,
				Period:  500 * time.Millisecond,
				Burst:   25,
				IdleTTL: 10 * time.Minute,
			},
			Redis: RedisConfig{
				Prefix: "arkholdings",
				Window: time.Second,
			},
			SweepInterval: time.Minute,
		},
		Endpoints: []EndpointConfig{
			{
				Path:    "/ark_holdings",
				Name:    "ark_holdings",
				Tickers: "etf",
				Summary: "ARK ETF holdings",
				Global:  GlobalConfig{RPS: 1000, Backlog: 1024, MaxWait: time.Second},
			},
			{
				Path:    "/ark_venture_holdings",
				Name:    "ark_venture_holdings",
				Tickers: "venture",
				Summary: "ARK Venture Fund holdings",
				Global:  GlobalConfig{RPS: 20, Backlog: 64, MaxWait: time.Second},
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment:
//
//	HTTP_HOST, HTTP_PORT, DATA_DIR, NGINX, REDIS_ADDR, PG_DSN, LOG_LEVEL, LOG_FORMAT
//
// NGINX controls whether client addresses are taken from proxy headers.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if v, ok := lookup("HTTP_HOST"); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup("HTTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT must be an integer: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("DATA_DIR"); ok && v != "" {
		c.Storage.Dir = v
	}
	if v, ok := lookup("NGINX"); ok {
		trust, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
		if err != nil {
			return fmt.Errorf("NGINX must be a boolean, got %q", v)
		}
		c.Admission.TrustProxy = trust
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Admission.Redis.Addr = v
	}
	if v, ok := lookup("PG_DSN"); ok && v != "" {
		c.Storage.Postgres.DSN = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be > 0")
	}

	switch c.Storage.Backend {
	case BackendParquet:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for the parquet backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendParquet, BackendPostgres, c.Storage.Backend)
	}
	if c.Storage.LoadTimeout <= 0 {
		return errors.New("storage.load_timeout must be > 0")
	}

	if pc := c.Admission.PerClient; pc.Enabled {
		if pc.Period <= 0 {
			return errors.New("admission.per_client.period must be > 0")
		}
		if pc.Burst < 1 {
			return errors.New("admission.per_client.burst must be >= 1")
		}
		if c.Admission.SweepInterval <= 0 {
			return fmt.Errorf("admission.sweep_interval must be > 0 when per_client is enabled, got %s", c.Admission.SweepInterval)
		}
	}

	if len(c.Endpoints) == 0 {
		return errors.New("endpoints: at least one endpoint is required")
	}
	paths := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		prefix := fmt.Sprintf("endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") || len(ep.Path) < 2 {
			return fmt.Errorf("%s.path must start with / and name a route, got %q", prefix, ep.Path)
		}
		if paths[ep.Path] {
			return fmt.Errorf("%s.path %q is declared twice", prefix, ep.Path)
		}
		paths[ep.Path] = true
		if ep.Name == "" {
			return fmt.Errorf("%s.name is required", prefix)
		}
		if ep.Tickers == "" {
			return fmt.Errorf("%s.tickers is required", prefix)
		}
		if ep.Global.RPS < 1 {
			return fmt.Errorf("%s.global.rps must be >= 1", prefix)
		}
		if ep.Global.Backlog < 0 {
			return fmt.Errorf("%s.global.backlog must be >= 0", prefix)
		}
		if ep.Global.Backlog > 0 && ep.Global.MaxWait <= 0 {
			return fmt.Errorf("%s.global.max_wait must be > 0 when backlog is set", prefix)
		}
	}

	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log.format must be auto, console or json, got %q", c.Log.Format)
	}
	return nil
}
