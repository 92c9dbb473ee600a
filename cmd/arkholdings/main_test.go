package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/arkholdings/internal/config"
	"github.com/sawpanic/arkholdings/internal/holdings"
	"github.com/sawpanic/arkholdings/internal/holdings/holdingstest"
	"github.com/sawpanic/arkholdings/internal/ticker"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckDatasets(t *testing.T) {
	dir := t.TempDir()
	holdingstest.Write(t, dir, ticker.ARKK, holdingstest.ARKKSample(t))
	holdingstest.Write(t, dir, ticker.ARKF, []holdingstest.Holding{
		holdingstest.Row(t, "2024-01-05", "SHOP", "SHOPIFY INC - CLASS A", 8.1),
	})
	holdingstest.Write(t, dir, ticker.Ticker("OLDFUND"), []holdingstest.Holding{
		holdingstest.Row(t, "2020-01-02", "X", "X CORP", 1),
	})

	store := holdings.NewParquetStore(dir)
	report, err := checkDatasets(context.Background(), store,
		[]ticker.Ticker{ticker.ARKK, ticker.ARKF, ticker.ARKW, ticker.ARKK}, 2, nil)
	require.NoError(t, err)

	require.Len(t, report.Results, 3, "duplicates are checked once")
	byTicker := map[ticker.Ticker]datasetCheck{}
	for _, r := range report.Results {
		byTicker[r.Ticker] = r
	}

	arkk := byTicker[ticker.ARKK]
	assert.Equal(t, statusOK, arkk.Status)
	assert.Equal(t, 3, arkk.Rows)
	assert.Equal(t, "2023-09-01", arkk.First)
	assert.Equal(t, "2023-11-20", arkk.Last)

	assert.Equal(t, statusOK, byTicker[ticker.ARKF].Status)
	assert.Equal(t, statusMissing, byTicker[ticker.ARKW].Status)
	assert.ErrorIs(t, byTicker[ticker.ARKW].Err, holdings.ErrDatasetNotFound)

	assert.Equal(t, []string{"OLDFUND"}, report.Orphans)
	assert.Equal(t, 1, report.Failed())

	var buf bytes.Buffer
	printReport(&buf, report)
	assert.Contains(t, buf.String(), "ARKW")
	assert.Contains(t, buf.String(), "missing")
	assert.Contains(t, buf.String(), "not served by any endpoint: [OLDFUND]")
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	holdingstest.Write(t, dir, ticker.ARKK, holdingstest.ARKKSample(t))

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := `
endpoints:
  - path: /ark_venture_holdings
    name: ark_venture_holdings
    tickers: venture
    global:
      rps: 5
log:
  level: error
  format: json
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	out, err := execute(t, "check", "--config", cfgPath, "--data-dir", dir)
	assert.ErrorContains(t, err, "1 of 1 served tickers failed")
	assert.Contains(t, out, "ARKVX")
	assert.Contains(t, out, "[ARKK]", "ARKK is not served by the configured endpoints")

	holdingstest.Write(t, dir, ticker.ARKVX, []holdingstest.Holding{
		holdingstest.Row(t, "2024-02-01", "SPACEX", "SPACE EXPLORATION TECHNOLOGIES CORP", 15.2),
	})
	out, err = execute(t, "check", "--config", cfgPath, "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "2024-02-01")
}

func TestTickersAndVersion(t *testing.T) {
	out, err := execute(t, "tickers")
	require.NoError(t, err)
	assert.Contains(t, out, "etf")
	assert.Contains(t, out, "ARKK")
	assert.Contains(t, out, "ARKVX")

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "arkholdings "+version))
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("NGINX", "sometimes")
	_, err := execute(t, "check", "--data-dir", t.TempDir())
	assert.ErrorContains(t, err, "NGINX must be a boolean")
}

func TestOpenStoreWrapsBreaker(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()

	store, closeFn, err := openStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &holdings.BreakerStore{}, store)
	assert.Equal(t, "parquet", store.Backend())

	cfg.Storage.Breaker.Enabled = false
	store, _, err = openStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &holdings.ParquetStore{}, store)
}

func TestRedisGlobalsDisabledWithoutAddr(t *testing.T) {
	globals, closeFn, err := redisGlobals(context.Background(), config.Default(), zerolog.Nop())
	require.NoError(t, err)
	closeFn()
	assert.Nil(t, globals)
}

func TestWindowLimit(t *testing.T) {
	assert.Equal(t, int64(1000), windowLimit(1000, time.Second))
	assert.Equal(t, int64(10), windowLimit(20, 500*time.Millisecond))
	assert.Equal(t, int64(1), windowLimit(1, 100*time.Millisecond))
	assert.Equal(t, int64(20), windowLimit(20, 0))
}
