package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/arkholdings/internal/config"
	applog "github.com/sawpanic/arkholdings/internal/log"
)

const appName = "arkholdings"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "v0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Read-only HTTP service for ARK fund holdings",
		Version: version,
		Long: `arkholdings serves daily ARK Invest fund holdings from a parquet corpus
(or a Postgres table), filtered by fund ticker and date range, behind a
global and per-client rate limit.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "YAML configuration file")
	pf.String("log-level", "", "Log level (trace|debug|info|warn|error)")
	pf.String("log-format", "", "Log format (auto|console|json)")

	rootCmd.AddCommand(newServeCmd(), newCheckCmd(), newTickersCmd(), newVersionCmd())
	return rootCmd
}

// loadConfig resolves file, then environment, then flags, and validates.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, fmt.Errorf("environment: %w", err)
	}

	flags := cmd.Flags()
	overrideString(flags, "log-level", &cfg.Log.Level)
	overrideString(flags, "log-format", &cfg.Log.Format)
	overrideString(flags, "data-dir", &cfg.Storage.Dir)
	overrideString(flags, "backend", &cfg.Storage.Backend)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := applog.Setup(applog.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// overrideString copies an explicitly set flag into dst. Flags a command
// does not define are ignored.
func overrideString(fs *pflag.FlagSet, name string, dst *string) {
	if f := fs.Lookup(name); f != nil && f.Changed {
		*dst = f.Value.String()
	}
}
