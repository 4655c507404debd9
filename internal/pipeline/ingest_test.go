package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/press-digest/internal/archive/memory"
	"github.com/JakeFAU/press-digest/internal/clock/system"
	"github.com/JakeFAU/press-digest/internal/digest"
	"github.com/JakeFAU/press-digest/internal/hash/sha256"
	memstore "github.com/JakeFAU/press-digest/internal/storage/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestIngester(store digest.ContentStore, fetcher digest.Fetcher, arch digest.Archive) *Ingester {
	return NewIngester(store, fetcher, nil, system.Fixed{At: testNow}, arch, IngestConfig{}, nil)
}

func TestIngestPersistsNewItems(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	fetcher := newFakeFetcher("https://example.com/u1", "https://example.com/u2")
	report, err := newTestIngester(store, fetcher, nil).Run(context.Background(), 10)
	require.NoError(t, err)

	require.False(t, report.NoCandidates)
	require.Equal(t, 2, report.Candidates)
	require.Equal(t, 2, report.New)
	require.Equal(t, 2, report.Scraped)
	require.Equal(t, 0, report.Errors)
	require.NotNil(t, report.SuccessRate)
	require.Equal(t, 100.0, *report.SuccessRate)
	require.Equal(t, int64(2), report.TotalInStore)

	recent, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestIngestIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	fetcher := newFakeFetcher("https://example.com/u1", "https://example.com/u2")
	ingester := newTestIngester(store, fetcher, nil)

	_, err := ingester.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.fetchCount())

	second, err := ingester.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, second.Candidates)
	require.Equal(t, 0, second.New)
	require.Equal(t, 0, second.Scraped)
	require.Equal(t, 0, second.Errors)
	require.Nil(t, second.SuccessRate)
	require.Equal(t, 2, fetcher.fetchCount(), "known locators must not be refetched")
	require.Equal(t, int64(2), second.TotalInStore)
}

func TestIngestKnownCandidateIsNotNew(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	_, _, err := store.InsertItemIfAbsent(context.Background(), digest.SourceItem{
		Locator:      "https://example.com/u1",
		IdentityHash: sha256.Identity("https://example.com/u1"),
		Title:        "existing",
		Body:         "existing",
	})
	require.NoError(t, err)

	fetcher := newFakeFetcher("https://example.com/u1")
	report, err := newTestIngester(store, fetcher, nil).Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Candidates)
	require.Equal(t, 0, report.New)
	require.Equal(t, 0, report.Scraped)
	require.Equal(t, 0, report.Errors)
	require.Zero(t, fetcher.fetchCount())
}

func TestIngestFetchFailureIsIsolated(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	fetcher := newFakeFetcher("https://example.com/u3")
	fetcher.failures["https://example.com/u3"] = &digest.FetchError{
		Locator: "https://example.com/u3", Code: digest.FetchStatus, StatusCode: 503,
	}

	report, err := newTestIngester(store, fetcher, nil).Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.New)
	require.Equal(t, 0, report.Scraped)
	require.Equal(t, 1, report.Errors)
	require.Equal(t, 1, report.FetchFailures[digest.FetchStatus])
	require.Equal(t, 0.0, *report.SuccessRate)

	known, err := store.FilterKnown(context.Background(), []string{sha256.Identity("https://example.com/u3")})
	require.NoError(t, err)
	require.Empty(t, known, "failed fetch must not leave a row")
}

func TestIngestContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	fetcher := newFakeFetcher("https://example.com/a", "https://example.com/bad", "https://example.com/c")
	fetcher.failures["https://example.com/bad"] = &digest.FetchError{
		Locator: "https://example.com/bad", Code: digest.FetchNetwork, Err: errors.New("connection reset"),
	}

	report, err := newTestIngester(store, fetcher, nil).Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 3, report.New)
	require.Equal(t, 2, report.Scraped)
	require.Equal(t, 1, report.Errors)
	require.Equal(t, 66.7, *report.SuccessRate)
	require.Equal(t, 3, fetcher.fetchCount())
}

func TestIngestTruncatesAndDefaultsFields(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	fetcher := newFakeFetcher("https://example.com/long", "https://example.com/empty")
	fetcher.docs["https://example.com/long"] = digest.ParsedDocument{
		Title: strings.Repeat("标", 900),
		Body:  strings.Repeat("body ", 3000),
	}
	fetcher.docs["https://example.com/empty"] = digest.ParsedDocument{Title: "  ", Body: ""}

	_, err := newTestIngester(store, fetcher, nil).Run(context.Background(), 10)
	require.NoError(t, err)

	items, err := store.ListUnsummarized(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	byTitle := map[string]digest.UnsummarizedItem{}
	for _, it := range items {
		require.LessOrEqual(t, utf8.RuneCountInString(it.Title), digest.MaxTitleRunes)
		require.LessOrEqual(t, utf8.RuneCountInString(it.Body), digest.MaxBodyRunes)
		byTitle[it.Title] = it
	}
	require.Contains(t, byTitle, digest.DefaultTitle)
	require.Equal(t, digest.DefaultBody, byTitle[digest.DefaultTitle].Body)
	require.Contains(t, byTitle, strings.Repeat("标", digest.MaxTitleRunes))
}

func TestIngestNoCandidates(t *testing.T) {
	t.Parallel()

	report, err := newTestIngester(memstore.NewContentStore(), newFakeFetcher(), nil).Run(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, report.NoCandidates)
	require.Zero(t, report.New)
	require.Nil(t, report.SuccessRate)
}

func TestIngestRejectsInvalidLimit(t *testing.T) {
	t.Parallel()

	ingester := newTestIngester(memstore.NewContentStore(), newFakeFetcher("https://example.com/a"), nil)
	for _, limit := range []int{0, -3} {
		_, err := ingester.Run(context.Background(), limit)
		require.ErrorIs(t, err, digest.ErrInvalidLimit)
	}
}

func TestIngestRespectsLimitAndDuplicates(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	fetcher := newFakeFetcher("https://example.com/a", "https://example.com/a", "https://example.com/b", "https://example.com/c")
	report, err := newTestIngester(store, fetcher, nil).Run(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 3, report.Candidates)
	require.Equal(t, 2, report.New)
	require.Equal(t, 2, report.Scraped)
}

func TestIngestConcurrentInsertIsSkipped(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	fetcher := newFakeFetcher("https://example.com/raced")
	fetcher.beforeFetch = func(locator string) {
		// Another run persists the locator after our dedupe check.
		_, _, err := store.InsertItemIfAbsent(context.Background(), digest.SourceItem{
			Locator:      locator,
			IdentityHash: sha256.Identity(locator),
			Title:        "other run",
			Body:         "other run",
		})
		require.NoError(t, err)
	}

	report, err := newTestIngester(store, fetcher, nil).Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.New)
	require.Equal(t, 0, report.Scraped)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 0, report.Errors)
	require.Equal(t, int64(1), report.TotalInStore)
}

func TestIngestStorageUnavailableAborts(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	fetcher := newFakeFetcher("https://example.com/a", "https://example.com/b")
	fetcher.beforeFetch = func(string) { store.SetUnavailable(true) }

	report, err := newTestIngester(store, fetcher, nil).Run(context.Background(), 10)
	require.ErrorIs(t, err, digest.ErrStorageUnavailable)
	require.Equal(t, 2, report.New)
	require.Equal(t, 0, report.Scraped)
	require.Equal(t, 1, fetcher.fetchCount(), "stage must stop at the first storage failure")
}

func TestIngestStorageUnavailableUpFront(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	store.SetUnavailable(true)
	_, err := newTestIngester(store, newFakeFetcher("https://example.com/a"), nil).Run(context.Background(), 10)
	require.ErrorIs(t, err, digest.ErrStorageUnavailable)
}

func TestIngestDiscoverError(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.discoverErr = errors.New("listing down")
	_, err := newTestIngester(memstore.NewContentStore(), fetcher, nil).Run(context.Background(), 10)
	require.ErrorContains(t, err, "listing down")
}

func TestIngestArchivesRawPayload(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	arch := memory.New()
	fetcher := newFakeFetcher("https://example.com/a")
	published := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	fetcher.docs["https://example.com/a"] = digest.ParsedDocument{Title: "A", Body: "a", PublishedAt: &published}

	report, err := newTestIngester(store, fetcher, arch).Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Scraped)
	require.Equal(t, int64(1), report.RecentInStore)

	key := "raw/2024/06/01/" + sha256.Identity("https://example.com/a") + ".html"
	data, ok := arch.Get(key)
	require.True(t, ok)
	require.Equal(t, "<html>https://example.com/a</html>", string(data))
}

func TestIngestArchiveFailureIsNotCounted(t *testing.T) {
	t.Parallel()

	store := memstore.NewContentStore()
	report, err := newTestIngester(store, newFakeFetcher("https://example.com/a"), failingArchive{}).
		Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Scraped)
	require.Equal(t, 0, report.Errors)
}

func TestIngestCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newFakeFetcher("https://example.com/a", "https://example.com/b")
	fetcher.beforeFetch = func(string) { cancel() }

	report, err := newTestIngester(memstore.NewContentStore(), fetcher, nil).Run(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, report.Scraped)
	require.Equal(t, 1, fetcher.fetchCount())
}
