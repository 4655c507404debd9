package runner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/press-digest/internal/digest"
	"github.com/JakeFAU/press-digest/internal/pipeline"
	"github.com/JakeFAU/press-digest/internal/progress"
	"github.com/JakeFAU/press-digest/internal/progress/sinks"
	"github.com/JakeFAU/press-digest/internal/storage/memory"
	"github.com/JakeFAU/press-digest/internal/store"
)

type staticFetcher struct {
	locators []string
}

func (f staticFetcher) Discover(_ context.Context, limit int) ([]string, error) {
	return f.locators[:min(limit, len(f.locators))], nil
}

func (staticFetcher) Fetch(_ context.Context, locator string) digest.FetchResult {
	return digest.FetchResult{Locator: locator, Content: []byte(locator), StatusCode: 200}
}

func (staticFetcher) Parse(content []byte, _ string) digest.ParsedDocument {
	return digest.ParsedDocument{Title: string(content), Body: "body of " + string(content)}
}

type healthySummarizer struct{}

func (healthySummarizer) HealthCheck(context.Context) bool { return true }

func (healthySummarizer) Summarize(_ context.Context, _, title string) digest.SummaryDraft {
	points := []string{title, "second", "third"}
	return digest.SummaryDraft{
		SummaryText: "• " + title,
		KeyPoints:   points,
		PointCount:  digest.CountWords(points),
		BackendUsed: "stub",
	}
}

func TestRunOnceRecordsHistory(t *testing.T) {
	t.Parallel()

	content := memory.NewContentStore()
	runs := memory.NewRunStore()
	hub := progress.NewHub(progress.Config{MaxBatchWait: 10 * time.Millisecond}, sinks.NewStoreSink(runs, nil))

	fetcher := staticFetcher{locators: []string{"https://example.com/a", "https://example.com/b"}}
	ingester := pipeline.NewIngester(content, fetcher, nil, nil, nil, pipeline.IngestConfig{}, nil)
	enricher := pipeline.NewEnricher(content, healthySummarizer{}, nil, nil, pipeline.EnrichConfig{}, nil)
	r := New(ingester, enricher, hub, nil, Config{}, nil)

	first, err := r.RunOnce(context.Background(), TriggerCLI)
	require.NoError(t, err)
	require.Equal(t, 2, first.Ingest.Scraped)
	require.Equal(t, 2, first.Enrich.Summarized)

	second, err := r.RunOnce(context.Background(), TriggerCLI)
	require.NoError(t, err)
	require.Equal(t, 0, second.Ingest.New)
	require.Equal(t, pipeline.StatusNothingToDo, second.Enrich.Status)

	require.NoError(t, hub.Close(context.Background()))

	run, err := runs.GetRun(context.Background(), first.RunID)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, TriggerCLI, run.Trigger)
	require.NotNil(t, run.FinishedAt)

	var ingest pipeline.IngestReport
	require.NoError(t, json.Unmarshal(run.IngestReport, &ingest))
	require.Equal(t, 2, ingest.Scraped)

	history, err := runs.ListRuns(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
}
