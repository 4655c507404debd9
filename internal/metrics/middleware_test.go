package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/releases", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	missingBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))
	seriesBefore := testutil.CollectAndCount(httpRequestDurationSeconds)

	for _, path := range []string{
		"/releases",
		"/v1/runs/0190c6a2-0000-7000-8000-000000000001",
		"/v1/runs/0190c6a2-0000-7000-8000-000000000002",
		"/nope",
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	require.InDelta(t, okBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 0)
	require.InDelta(t, missingBefore+3, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")), 0)
	// Run ids share one route series; the unmatched path lands in "unknown".
	require.Equal(t, seriesBefore+3, testutil.CollectAndCount(httpRequestDurationSeconds))
}
