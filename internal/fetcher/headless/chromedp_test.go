package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	renderer, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer renderer.Close()
	require.Equal(t, 2, cap(renderer.limiter))
	require.Equal(t, 500*time.Millisecond, renderer.cfg.Settle)
}

func TestRendererNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	renderer := &Renderer{}
	require.Equal(t, 45*time.Second, renderer.navTimeout())
	renderer.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, renderer.navTimeout())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	renderer := &Renderer{limiter: make(chan struct{}, 1)}
	require.NoError(t, renderer.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := renderer.acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)

	renderer.release()
	require.NoError(t, renderer.acquire(context.Background()))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeScript,
		Response: &network.Response{
			Status: 500,
			URL:    "https://example.com/app.js",
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 203,
			URL:    "https://example.com/rendered",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 203, status)
	require.Equal(t, "https://example.com/rendered", url)

	meta = newResponseMeta()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)

	status, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://req", url)
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()

	err := error(&StatusError{URL: "https://example.com", StatusCode: 404})
	require.EqualError(t, err, "render https://example.com: status code: 404")
	var se *StatusError
	require.True(t, errors.As(err, &se))
}

func TestNoopRendererError(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, ErrNotConfigured)
}
