// Package collyfetcher discovers and fetches press releases using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/clock/system"
	"github.com/JakeFAU/press-digest/internal/digest"
	"github.com/JakeFAU/press-digest/internal/extract"
	"github.com/JakeFAU/press-digest/internal/fetcher/headless"
	"github.com/JakeFAU/press-digest/internal/metrics"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxListingPages = 5
)

// Config controls discovery and collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool

	// APIKey routes every request through ProxyEndpoint when set.
	APIKey        string
	ProxyEndpoint string

	ListingURL      string
	LinkContains    string
	MaxListingPages int
	// RenderListing renders listing pages with the headless renderer
	// when no proxy key is configured.
	RenderListing bool
	// FallbackLocators are returned by Discover when no listing page yields links.
	FallbackLocators []string
	// MaxAttempts bounds tries per document for transient failures; values
	// below 1 mean a single try.
	MaxAttempts int
}

// Waiter throttles outbound requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// ListingRenderer renders a page in a browser.
type ListingRenderer interface {
	Render(ctx context.Context, url string) (headless.Page, error)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter sets the per-host politeness limiter.
func WithLimiter(w Waiter) Option {
	return func(f *Fetcher) { f.limiter = w }
}

// WithRenderer sets the renderer used for listing pages.
func WithRenderer(r ListingRenderer) Option {
	return func(f *Fetcher) { f.renderer = r }
}

// WithExtractor overrides the HTML extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(f *Fetcher) { f.extractor = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock sets the clock used to stamp fetch results.
func WithClock(c digest.Clock) Option {
	return func(f *Fetcher) { f.clock = c }
}

// WithTransport overrides the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

// Fetcher implements digest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	listing       *url.URL
	proxy         *url.URL
	transport     http.RoundTripper
	baseCollector *colly.Collector
	extractor     *extract.Extractor
	limiter       Waiter
	renderer      ListingRenderer
	detector      *headless.Detector
	retry         retryPolicy
	clock         digest.Clock
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxListingPages <= 0 {
		cfg.MaxListingPages = defaultMaxListingPages
	}

	f := &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		detector:  headless.NewDetector(0),
		retry:     newRetryPolicy(cfg.MaxAttempts),
		clock:     system.New(),
		logger:    zap.NewNop(),
	}
	if cfg.ListingURL != "" {
		u, err := parseHTTPURL(cfg.ListingURL)
		if err != nil {
			return nil, fmt.Errorf("listing url: %w", err)
		}
		f.listing = u
	}
	if cfg.APIKey != "" {
		u, err := parseHTTPURL(cfg.ProxyEndpoint)
		if err != nil {
			return nil, fmt.Errorf("proxy endpoint: %w", err)
		}
		f.proxy = u
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.extractor == nil {
		f.extractor = extract.New(extract.Selectors{})
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(f.transport)
	c.SetRequestTimeout(cfg.Timeout)
	f.baseCollector = c

	return f, nil
}

// Discover walks the listing pages and returns up to limit candidate
// locators in discovery order.
func (f *Fetcher) Discover(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, digest.ErrInvalidLimit
	}
	if f.listing == nil {
		return f.fallback(limit), nil
	}

	seen := make(map[string]struct{})
	var (
		found    []string
		firstErr error
	)
	for page := 0; page < f.cfg.MaxListingPages && len(found) < limit; page++ {
		pageURL := f.pageURL(page)
		content, err := f.listingPage(ctx, pageURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("discover: %w", ctxErr)
			}
			f.logger.Warn("listing page fetch failed", zap.String("url", pageURL), zap.Error(err))
			if page == 0 {
				firstErr = err
			}
			break
		}

		links := f.extractor.Links(content, f.listing, f.cfg.LinkContains)
		if len(links) == 0 {
			f.logger.Debug("listing page has no links", zap.String("url", pageURL))
			break
		}
		for _, link := range links {
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			found = append(found, link)
			if len(found) == limit {
				break
			}
		}
	}

	if len(found) == 0 && len(f.cfg.FallbackLocators) > 0 {
		f.logger.Info("no links discovered, using fallback locators",
			zap.Int("fallback_count", len(f.cfg.FallbackLocators)))
		return f.fallback(limit), nil
	}
	if len(found) == 0 && firstErr != nil {
		return nil, fmt.Errorf("discover: %w", firstErr)
	}
	return found, nil
}

// Fetch retrieves a single document, retrying transient failures. Failures
// are reported in the result.
func (f *Fetcher) Fetch(ctx context.Context, locator string) digest.FetchResult {
	return f.fetchWithRetry(ctx, locator)
}

// Parse extracts structured fields from fetched content.
func (f *Fetcher) Parse(content []byte, locator string) digest.ParsedDocument {
	return f.extractor.Parse(content, locator)
}

func (f *Fetcher) listingPage(ctx context.Context, pageURL string) ([]byte, error) {
	if f.cfg.RenderListing && f.proxy == nil && f.renderer != nil {
		if err := f.wait(ctx, pageURL); err != nil {
			return nil, err
		}
		page, err := f.renderer.Render(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("render listing: %w", err)
		}
		return page.Body, nil
	}
	res := f.get(ctx, pageURL, true)
	if !res.OK() {
		return nil, res.Err
	}
	if f.proxy == nil && f.renderer != nil && f.detector.NeedsRendering(res.StatusCode, res.Content) {
		page, err := f.renderer.Render(ctx, pageURL)
		if err == nil {
			return page.Body, nil
		}
		f.logger.Warn("listing looks client-rendered but rendering failed", zap.String("url", pageURL), zap.Error(err))
	}
	return res.Content, nil
}

func (f *Fetcher) get(ctx context.Context, locator string, renderJS bool) digest.FetchResult {
	result := digest.FetchResult{Locator: locator}
	fail := func(code digest.FetchErrorCode, status int, err error) digest.FetchResult {
		result.FetchedAt = f.clock.Now()
		result.StatusCode = status
		result.Err = &digest.FetchError{Locator: locator, Code: code, StatusCode: status, Err: err}
		metrics.ObserveFetchFailure(string(code))
		return result
	}

	target, err := f.requestURL(locator, renderJS)
	if err != nil {
		return fail(digest.FetchConfig, 0, err)
	}
	if err := f.wait(ctx, locator); err != nil {
		return fail(digest.FetchCanceled, 0, err)
	}

	var (
		resp    *colly.Response
		respErr error
	)
	collector := f.buildCollector(&resp, &respErr)
	canceled, visitErr := f.runCollector(ctx, collector, target)
	if canceled {
		return fail(digest.FetchCanceled, 0, visitErr)
	}
	if respErr == nil {
		respErr = visitErr
	}

	switch {
	case errors.Is(respErr, colly.ErrRobotsTxtBlocked):
		return fail(digest.FetchConfig, 0, respErr)
	case resp != nil && resp.StatusCode >= http.StatusBadRequest:
		return fail(digest.FetchStatus, resp.StatusCode, nil)
	case respErr != nil:
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return fail(digest.FetchNetwork, status, respErr)
	case resp == nil:
		return fail(digest.FetchNetwork, 0, errors.New("no response"))
	}

	result.FetchedAt = f.clock.Now()
	result.StatusCode = resp.StatusCode
	result.Content = append([]byte(nil), resp.Body...)
	metrics.ObserveFetch(locator, len(result.Content))
	return result
}

func (f *Fetcher) buildCollector(resp **colly.Response, respErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		*resp = r
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*resp = r
		}
		*respErr = err
	})
	return collector
}

// runCollector visits url and reports whether ctx ended first.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return true, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return false, fmt.Errorf("colly visit failed: %w", err)
		}
		return false, nil
	}
}

func (f *Fetcher) wait(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.limiter == nil {
		return nil
	}
	if err := f.limiter.Wait(ctx, locator); err != nil {
		return fmt.Errorf("politeness wait: %w", err)
	}
	return nil
}

// requestURL returns the URL actually requested for locator, routing
// through the scraping proxy when one is configured.
func (f *Fetcher) requestURL(locator string, renderJS bool) (string, error) {
	if _, err := parseHTTPURL(locator); err != nil {
		return "", err
	}
	if f.proxy == nil {
		return locator, nil
	}
	u := *f.proxy
	q := url.Values{}
	q.Set("api_key", f.cfg.APIKey)
	q.Set("url", locator)
	q.Set("render_js", strconv.FormatBool(renderJS))
	q.Set("premium_proxy", "false")
	q.Set("country_code", "us")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *Fetcher) pageURL(page int) string {
	u := *f.listing
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *Fetcher) fallback(limit int) []string {
	out := make([]string, 0, min(limit, len(f.cfg.FallbackLocators)))
	seen := make(map[string]struct{})
	for _, loc := range f.cfg.FallbackLocators {
		if len(out) == limit {
			break
		}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}
		out = append(out, loc)
	}
	return out
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("parse url %q: absolute http(s) url required", raw)
	}
	return u, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
