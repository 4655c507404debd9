package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/press-digest/internal/app"
	"github.com/JakeFAU/press-digest/internal/config"
	"github.com/JakeFAU/press-digest/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 0},
		DB:      config.DBConfig{Driver: config.DriverMemory, QueryTimeout: time.Second},
		Archive: config.ArchiveConfig{Backend: config.ArchiveMemory, Prefix: "raw"},
		Summarizer: config.SummarizerConfig{
			Host:          "127.0.0.1",
			Port:          1,
			HealthTimeout: 100 * time.Millisecond,
		},
		Pipeline: config.PipelineConfig{ItemLimit: 5, BatchSize: 10, Interval: time.Hour},
	}
}

func build(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.Build(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	return a
}

func TestBuildMemoryServesAPI(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig())
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	for _, path := range []string{"/healthz", "/readyz", "/stats", "/releases", "/v1/runs"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestTriggeredRunIsRecorded(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", http.NoBody))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		RunID uuid.UUID `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	a.Runner().Wait()
	require.NoError(t, a.Close(context.Background()))

	run, err := a.Runs().GetRun(context.Background(), body.RunID)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, "api", run.Trigger)
}

func TestBuildSQLite(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DB.Driver = config.DriverSQLite
	cfg.DB.SQLitePath = filepath.Join(t.TempDir(), "data", "digest.db")
	a := build(t, cfg)

	require.NoError(t, a.Content().EnsureSchema(context.Background()))
	require.NoError(t, a.Content().Ping(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildRejectsUnknownBackends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"driver", func(c *config.Config) { c.DB.Driver = "mysql" }, `unknown db driver "mysql"`},
		{"archive", func(c *config.Config) { c.Archive.Backend = "s3" }, `unknown archive backend "s3"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := app.Build(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig())
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
