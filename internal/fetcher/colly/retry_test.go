package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/press-digest/internal/digest"
)

func failed(code digest.FetchErrorCode, status int) digest.FetchResult {
	return digest.FetchResult{Err: &digest.FetchError{Code: code, StatusCode: status, Err: errors.New("x")}}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := newRetryPolicy(3)
	tests := []struct {
		name    string
		res     digest.FetchResult
		attempt int
		want    bool
	}{
		{"success", digest.FetchResult{}, 1, false},
		{"network", failed(digest.FetchNetwork, 0), 1, true},
		{"unavailable", failed(digest.FetchStatus, http.StatusServiceUnavailable), 2, true},
		{"too many requests", failed(digest.FetchStatus, http.StatusTooManyRequests), 1, true},
		{"not found", failed(digest.FetchStatus, http.StatusNotFound), 1, false},
		{"canceled", failed(digest.FetchCanceled, 0), 1, false},
		{"config", failed(digest.FetchConfig, 0), 1, false},
		{"attempts exhausted", failed(digest.FetchNetwork, 0), 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, p.shouldRetry(tt.res, tt.attempt))
		})
	}
}

func TestRetryPolicyDefaultsToSingleAttempt(t *testing.T) {
	t.Parallel()

	require.False(t, newRetryPolicy(0).shouldRetry(failed(digest.FetchNetwork, 0), 1))
}

func TestRetryPolicyBackoffIsBounded(t *testing.T) {
	t.Parallel()

	p := newRetryPolicy(5)
	for attempt := 1; attempt <= 40; attempt++ {
		d := p.backoff(attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, p.maxDelay)
	}
	first := p.backoff(1)
	require.GreaterOrEqual(t, first, p.baseDelay/2)
	require.Less(t, first, p.baseDelay)
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(articleHTML))
	}))
	t.Cleanup(srv.Close)

	f, err := New(Config{MaxAttempts: 3})
	require.NoError(t, err)

	res := f.Fetch(context.Background(), srv.URL+"/newsroom/press-release/1")
	require.True(t, res.OK(), "err: %v", res.Err)
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchDoesNotRetryPermanentStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f, err := New(Config{MaxAttempts: 3})
	require.NoError(t, err)

	res := f.Fetch(context.Background(), srv.URL+"/missing")
	require.False(t, res.OK())
	require.Equal(t, digest.FetchStatus, res.Err.Code)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchRetryStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f, err := New(Config{MaxAttempts: 10})
	require.NoError(t, err)
	f.retry.baseDelay = time.Hour
	f.retry.maxDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	res := f.Fetch(ctx, srv.URL+"/flaky")
	require.False(t, res.OK())
	require.Less(t, time.Since(start), 5*time.Second)
}
