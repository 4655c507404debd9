package collyfetcher

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/digest"
)

const (
	defaultRetryBaseDelay = 250 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
)

// retryPolicy retries transient fetch failures with jittered exponential backoff.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func newRetryPolicy(maxAttempts int) retryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return retryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   defaultRetryBaseDelay,
		maxDelay:    defaultRetryMaxDelay,
	}
}

// shouldRetry reports whether res failed transiently and attempts remain.
// attempt is 1-based.
func (p retryPolicy) shouldRetry(res digest.FetchResult, attempt int) bool {
	if res.Err == nil || attempt >= p.maxAttempts {
		return false
	}
	switch res.Err.Code {
	case digest.FetchNetwork:
		return true
	case digest.FetchStatus:
		switch res.Err.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// backoff returns the wait before attempt+1: half the capped exponential
// delay plus up to the same amount of jitter.
func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := p.baseDelay << min(attempt-1, 20)
	if delay <= 0 || delay > p.maxDelay {
		delay = p.maxDelay
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half)
}

// fetchWithRetry runs get until it succeeds, fails permanently, or runs out
// of attempts. The last result is returned.
func (f *Fetcher) fetchWithRetry(ctx context.Context, locator string) digest.FetchResult {
	for attempt := 1; ; attempt++ {
		res := f.get(ctx, locator, false)
		if !f.retry.shouldRetry(res, attempt) {
			return res
		}
		wait := f.retry.backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", locator),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(res.Err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res
		case <-timer.C:
		}
	}
}
