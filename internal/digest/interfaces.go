package digest

import (
	"context"
	"time"
)

// ContentStore owns durable state for items and summaries. All mutating
// calls are individually atomic upsert-or-skip operations.
type ContentStore interface {
	EnsureSchema(ctx context.Context) error
	// FilterKnown returns the subset of hashes already persisted, in one lookup.
	FilterKnown(ctx context.Context, hashes []string) (map[string]struct{}, error)
	// InsertItemIfAbsent inserts keyed on locator; inserted is false when the
	// locator already existed.
	InsertItemIfAbsent(ctx context.Context, item SourceItem) (id int64, inserted bool, err error)
	// ListUnsummarized returns items without a summary, newest first.
	ListUnsummarized(ctx context.Context) ([]UnsummarizedItem, error)
	// InsertSummaryIfAbsent inserts keyed on item id and reports whether it did.
	InsertSummaryIfAbsent(ctx context.Context, itemID int64, summary Summary) (bool, error)
	CountAll(ctx context.Context) (int64, error)
	CountSummarized(ctx context.Context) (int64, error)
	// CountPublishedSince counts items whose publish date is at or after since.
	CountPublishedSince(ctx context.Context, since time.Time) (int64, error)
	Stats(ctx context.Context) (StoreStats, error)
}

// ReadStore is the query surface used by the read API.
type ReadStore interface {
	ListRecent(ctx context.Context, limit int) ([]RecentItem, error)
	CountAll(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (StoreStats, error)
	Ping(ctx context.Context) error
}

// Fetcher discovers, fetches and parses source documents.
type Fetcher interface {
	Discover(ctx context.Context, limit int) ([]string, error)
	Fetch(ctx context.Context, locator string) FetchResult
	Parse(content []byte, locator string) ParsedDocument
}

// Summarizer is a health-checkable enrichment backend. Summarize never
// fails; backend errors yield a degraded draft.
type Summarizer interface {
	HealthCheck(ctx context.Context) bool
	Summarize(ctx context.Context, body, title string) SummaryDraft
}

// Hasher derives the identity hash of a locator.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Archive writes raw fetched payloads and returns a URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes notifications about new summaries.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
