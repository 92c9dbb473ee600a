package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/arkholdings/internal/holdings"
	"github.com/sawpanic/arkholdings/internal/holdings/holdingstest"
	"github.com/sawpanic/arkholdings/internal/ticker"
)

func findFamily(t *testing.T, r *Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestRegistry_Counters(t *testing.T) {
	r := New()

	r.ObserveRequest("ark_holdings", http.StatusOK, 12*time.Millisecond)
	r.ObserveRequest("ark_holdings", http.StatusOK, 3*time.Millisecond)
	r.ObserveRejection("ark_holdings", "client")
	r.SetTrackedClients(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Requests.WithLabelValues("ark_holdings", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Requests.WithLabelValues("ark_holdings", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AdmissionRejections.WithLabelValues("ark_holdings", "client")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.TrackedClients))

	mf := findFamily(t, r, "arkholdings_http_request_duration_seconds")
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRegistry_Rows(t *testing.T) {
	r := New()
	r.ObserveRows("ark_venture_holdings", 0)
	r.ObserveRows("ark_venture_holdings", 120)

	mf := findFamily(t, r, "arkholdings_dataset_rows")
	h := mf.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.Equal(t, 120.0, h.GetSampleSum())
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveRequest("x", 200, time.Second)
		r.ObserveRejection("x", "global")
		r.ObserveRows("x", 1)
		r.SetTrackedClients(1)
		r.StartLoadTimer("parquet").Stop(nil)
	})
	s := holdingstest.Count(holdings.NewParquetStore(t.TempDir()))
	assert.Same(t, holdings.Store(s), InstrumentStore(s, nil))
}

func TestLoadResult(t *testing.T) {
	assert.Equal(t, "ok", LoadResult(nil))
	assert.Equal(t, "not_found", LoadResult(fmt.Errorf("wrap: %w", holdings.ErrDatasetNotFound)))
	assert.Equal(t, "canceled", LoadResult(context.Canceled))
	assert.Equal(t, "unavailable", LoadResult(holdings.ErrStorageUnavailable))
	assert.Equal(t, "error", LoadResult(&holdings.LoadError{Op: "read", Err: fmt.Errorf("boom")}))
}

func TestInstrumentStore(t *testing.T) {
	dir := t.TempDir()
	holdingstest.Write(t, dir, ticker.ARKK, holdingstest.ARKKSample(t))

	r := New()
	s := InstrumentStore(holdings.NewParquetStore(dir), r)

	ds, err := s.Load(context.Background(), ticker.ARKK)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	_, err = s.Load(context.Background(), ticker.ARKW)
	require.ErrorIs(t, err, holdings.ErrDatasetNotFound)

	ok := testutil.CollectAndCount(r.LoadDuration, "arkholdings_dataset_load_duration_seconds")
	assert.Equal(t, 2, ok, "one series per result label")

	mf := findFamily(t, r, "arkholdings_dataset_load_duration_seconds")
	results := map[string]uint64{}
	for _, m := range mf.GetMetric() {
		var backend, result string
		for _, lp := range m.GetLabel() {
			switch lp.GetName() {
			case "backend":
				backend = lp.GetValue()
			case "result":
				result = lp.GetValue()
			}
		}
		assert.Equal(t, "parquet", backend)
		results[result] = m.GetHistogram().GetSampleCount()
	}
	assert.Equal(t, map[string]uint64{"ok": 1, "not_found": 1}, results)
}

func TestHandler(t *testing.T) {
	r := New()
	r.ObserveRejection("ark_holdings", "global")

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `arkholdings_admission_rejections_total{endpoint="ark_holdings",scope="global"} 1`)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}
