package digest

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Field bounds and placeholders applied before persistence.
const (
	MaxTitleRunes = 500
	MaxBodyRunes  = 5000
	// MaxMetadataTitleRunes caps the title copy kept in raw metadata.
	MaxMetadataTitleRunes = 100

	DefaultTitle = "No title"
	DefaultBody  = "No content"
)

// KeyPointCount is the fixed arity of every Summary.
const KeyPointCount = 3

// DegradedBackend marks summaries produced without a working backend.
const DegradedBackend = "failed"

// SourceItem is one harvested document.
type SourceItem struct {
	ID           int64          `json:"id"`
	Locator      string         `json:"url"`
	IdentityHash string         `json:"url_hash"`
	Title        string         `json:"title"`
	Body         string         `json:"content"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	RawMetadata  map[string]any `json:"raw_response,omitempty"`
	FetchedAt    time.Time      `json:"scraped_at"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Summary is the enrichment derived from one SourceItem.
type Summary struct {
	ItemID       int64     `json:"press_release_id"`
	SummaryText  string    `json:"summary"`
	KeyPoints    []string  `json:"bullet_points"`
	PointCount   int       `json:"word_count"`
	BackendUsed  string    `json:"model_used"`
	SummarizedAt time.Time `json:"summarized_at"`
}

// Degraded reports whether the summary was produced in failure mode.
func (s Summary) Degraded() bool {
	return s.BackendUsed == DegradedBackend
}

// UnsummarizedItem is the projection the enrichment stage works on.
type UnsummarizedItem struct {
	ID    int64
	Title string
	Body  string
}

// RecentItem is the read-side projection joining an item with its summary.
type RecentItem struct {
	Locator     string
	Title       string
	PublishedAt *time.Time
	CreatedAt   time.Time
	SummaryText string
	KeyPoints   []string
}

// StoreStats aggregates store contents for observability.
type StoreStats struct {
	TotalItems      int64      `json:"total_releases"`
	TotalSummarized int64      `json:"total_summarized"`
	OldestPublished *time.Time `json:"oldest_release"`
	NewestPublished *time.Time `json:"newest_release"`
	LastFetched     *time.Time `json:"last_scraped"`
}

// SummarizedPercentage returns the summarized share rounded to two decimals.
func (s StoreStats) SummarizedPercentage() float64 {
	if s.TotalItems <= 0 {
		return 0
	}
	return Round(float64(s.TotalSummarized)/float64(s.TotalItems)*100, 2)
}

// ParsedDocument is the structured content extracted from a fetched page.
type ParsedDocument struct {
	Title       string
	Body        string
	PublishedAt *time.Time
}

// FetchResult is the outcome of fetching one locator. Exactly one of
// Content or Err is meaningful; check OK first.
type FetchResult struct {
	Locator    string
	Content    []byte
	StatusCode int
	FetchedAt  time.Time
	Err        *FetchError
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

// SummaryDraft is what a Summarizer returns; it becomes a Summary once
// stamped with an item id and timestamp.
type SummaryDraft struct {
	SummaryText string
	KeyPoints   []string
	PointCount  int
	BackendUsed string
}

// ToSummary binds the draft to an item.
func (d SummaryDraft) ToSummary(itemID int64, at time.Time) Summary {
	return Summary{
		ItemID:       itemID,
		SummaryText:  d.SummaryText,
		KeyPoints:    append([]string(nil), d.KeyPoints...),
		PointCount:   d.PointCount,
		BackendUsed:  d.BackendUsed,
		SummarizedAt: at,
	}
}

// TruncateRunes cuts s to at most n runes without splitting a code point.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// NormalizeDocument applies defaults and bounds to parsed fields.
func NormalizeDocument(doc ParsedDocument) ParsedDocument {
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = DefaultTitle
	}
	body := strings.TrimSpace(doc.Body)
	if body == "" {
		body = DefaultBody
	}
	return ParsedDocument{
		Title:       TruncateRunes(title, MaxTitleRunes),
		Body:        TruncateRunes(body, MaxBodyRunes),
		PublishedAt: doc.PublishedAt,
	}
}

// CountWords totals the whitespace-separated words across points.
func CountWords(points []string) int {
	total := 0
	for _, p := range points {
		total += len(strings.Fields(p))
	}
	return total
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
