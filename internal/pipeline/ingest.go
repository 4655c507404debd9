package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/archive"
	"github.com/JakeFAU/press-digest/internal/clock/system"
	"github.com/JakeFAU/press-digest/internal/digest"
	"github.com/JakeFAU/press-digest/internal/hash/sha256"
	"github.com/JakeFAU/press-digest/internal/metrics"
)

const (
	defaultRecentWindow  = 30 * 24 * time.Hour
	defaultArchiveType   = "text/html; charset=utf-8"
	defaultArchivePrefix = "raw"
	metadataTimeLayout   = time.RFC3339
)

// IngestConfig controls the ingestion stage.
type IngestConfig struct {
	// ArchivePrefix prefixes raw payload object keys.
	ArchivePrefix string
	// RecentWindow bounds the "recent items" statistic.
	RecentWindow time.Duration
}

// Ingester discovers new locators and persists each one exactly once.
type Ingester struct {
	store   digest.ContentStore
	fetcher digest.Fetcher
	hasher  digest.Hasher
	clock   digest.Clock
	archive digest.Archive
	cfg     IngestConfig
	logger  *zap.Logger
}

type itemOutcome int

const (
	outcomeScraped itemOutcome = iota
	outcomeSkipped
	outcomeFailed
)

type candidate struct {
	locator string
	hash    string
}

// NewIngester constructs an Ingester. hasher and clock default to SHA-256 and
// the system clock; archive may be nil.
func NewIngester(
	store digest.ContentStore,
	fetcher digest.Fetcher,
	hasher digest.Hasher,
	clock digest.Clock,
	arch digest.Archive,
	cfg IngestConfig,
	logger *zap.Logger,
) *Ingester {
	if hasher == nil {
		hasher = sha256.New()
	}
	if clock == nil {
		clock = system.New()
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = defaultRecentWindow
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = defaultArchivePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		store:   store,
		fetcher: fetcher,
		hasher:  hasher,
		clock:   clock,
		archive: arch,
		cfg:     cfg,
		logger:  logger.Named("ingest"),
	}
}

// Run ingests up to limit discovered locators. Per-item failures are counted;
// only storage unavailability (or cancellation) aborts, in which case the
// partial report is returned with the error.
func (in *Ingester) Run(ctx context.Context, limit int) (IngestReport, error) {
	var report IngestReport
	if limit <= 0 {
		return report, fmt.Errorf("ingest: %w", digest.ErrInvalidLimit)
	}
	if err := in.store.EnsureSchema(ctx); err != nil {
		return report, fmt.Errorf("ingest: ensure schema: %w", err)
	}

	locators, err := in.fetcher.Discover(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("ingest: discover: %w", err)
	}
	if len(locators) > limit {
		locators = locators[:limit]
	}
	report.Candidates = len(locators)
	if len(locators) == 0 {
		report.NoCandidates = true
		in.logger.Info("no candidates discovered")
		return report, nil
	}

	fresh, err := in.newCandidates(ctx, locators)
	if err != nil {
		return report, err
	}
	report.New = len(fresh)
	in.logger.Info("discovered candidates",
		zap.Int("candidates", report.Candidates),
		zap.Int("new", report.New),
	)

	for _, c := range fresh {
		if err := ctx.Err(); err != nil {
			report.SuccessRate = percentage(report.Scraped, report.New)
			return report, fmt.Errorf("ingest: %w", err)
		}
		outcome, code, err := in.ingestOne(ctx, c)
		if err != nil {
			report.SuccessRate = percentage(report.Scraped, report.New)
			return report, fmt.Errorf("ingest: %w", err)
		}
		switch outcome {
		case outcomeScraped:
			report.Scraped++
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Errors++
			if code != "" {
				if report.FetchFailures == nil {
					report.FetchFailures = make(map[digest.FetchErrorCode]int)
				}
				report.FetchFailures[code]++
			}
		}
	}

	report.SuccessRate = percentage(report.Scraped, report.New)
	if err := in.closingStats(ctx, &report); err != nil {
		return report, fmt.Errorf("ingest: %w", err)
	}
	in.logger.Info("ingestion finished",
		zap.Int("new", report.New),
		zap.Int("scraped", report.Scraped),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors),
		zap.Int64("total_in_store", report.TotalInStore),
	)
	return report, nil
}

// newCandidates hashes locators, drops duplicates and returns those the
// store does not know yet, in discovery order.
func (in *Ingester) newCandidates(ctx context.Context, locators []string) ([]candidate, error) {
	all := make([]candidate, 0, len(locators))
	hashes := make([]string, 0, len(locators))
	seen := make(map[string]struct{}, len(locators))
	for _, loc := range locators {
		h, err := in.hasher.Hash([]byte(loc))
		if err != nil {
			return nil, fmt.Errorf("ingest: hash %s: %w", loc, err)
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		all = append(all, candidate{locator: loc, hash: h})
		hashes = append(hashes, h)
	}

	known, err := in.store.FilterKnown(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("ingest: filter known: %w", err)
	}
	fresh := make([]candidate, 0, len(all))
	for _, c := range all {
		if _, ok := known[c.hash]; ok {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, nil
}

// ingestOne fetches, parses and persists one locator. The error return is
// reserved for failures that must abort the stage.
func (in *Ingester) ingestOne(ctx context.Context, c candidate) (itemOutcome, digest.FetchErrorCode, error) {
	res := in.fetcher.Fetch(ctx, c.locator)
	if !res.OK() {
		in.logger.Warn("fetch failed",
			zap.String("url", c.locator),
			zap.String("code", string(res.Err.Code)),
			zap.Int("status", res.Err.StatusCode),
			zap.Error(res.Err),
		)
		return outcomeFailed, res.Err.Code, nil
	}

	doc := digest.NormalizeDocument(in.fetcher.Parse(res.Content, c.locator))
	fetchedAt := res.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = in.clock.Now()
	}

	meta := map[string]any{
		"url":         c.locator,
		"scraped_at":  fetchedAt.UTC().Format(metadataTimeLayout),
		"title":       digest.TruncateRunes(doc.Title, digest.MaxMetadataTitleRunes),
		"status_code": res.StatusCode,
	}
	if doc.PublishedAt != nil {
		meta["published_at"] = doc.PublishedAt.UTC().Format(metadataTimeLayout)
	}
	if uri := in.archiveRaw(ctx, c, fetchedAt, res.Content); uri != "" {
		meta["archive_uri"] = uri
	}

	item := digest.SourceItem{
		Locator:      c.locator,
		IdentityHash: c.hash,
		Title:        doc.Title,
		Body:         doc.Body,
		PublishedAt:  doc.PublishedAt,
		RawMetadata:  meta,
		FetchedAt:    fetchedAt,
	}
	id, inserted, err := in.store.InsertItemIfAbsent(ctx, item)
	if err != nil {
		if errors.Is(err, digest.ErrStorageUnavailable) {
			return outcomeFailed, "", err
		}
		in.logger.Error("persist item failed", zap.String("url", c.locator), zap.Error(err))
		return outcomeFailed, "", nil
	}
	if !inserted {
		in.logger.Debug("item inserted concurrently, skipping", zap.String("url", c.locator))
		return outcomeSkipped, "", nil
	}
	metrics.ObserveItemIngested()
	in.logger.Debug("item persisted", zap.Int64("id", id), zap.String("url", c.locator))
	return outcomeScraped, "", nil
}

// archiveRaw stores the raw payload; failures are logged and never counted.
func (in *Ingester) archiveRaw(ctx context.Context, c candidate, fetchedAt time.Time, content []byte) string {
	if in.archive == nil {
		return ""
	}
	key := archive.Key(in.cfg.ArchivePrefix, c.hash, fetchedAt)
	uri, err := in.archive.PutObject(ctx, key, defaultArchiveType, content)
	if err != nil {
		in.logger.Warn("archive raw payload failed", zap.String("url", c.locator), zap.Error(err))
		return ""
	}
	return uri
}

func (in *Ingester) closingStats(ctx context.Context, report *IngestReport) error {
	total, err := in.store.CountAll(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	recent, err := in.store.CountPublishedSince(ctx, in.clock.Now().Add(-in.cfg.RecentWindow))
	if err != nil {
		return fmt.Errorf("count recent items: %w", err)
	}
	report.TotalInStore = total
	report.RecentInStore = recent
	return nil
}
