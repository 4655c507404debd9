package digest

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "abc", n: 5, want: "abc"},
		{name: "exact", in: "abcde", n: 5, want: "abcde"},
		{name: "ascii cut", in: "abcdef", n: 3, want: "abc"},
		{name: "multibyte", in: "ééééé", n: 2, want: "éé"},
		{name: "zero", in: "abc", n: 0, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, TruncateRunes(tc.in, tc.n))
		})
	}
}

func TestNormalizeDocumentBounds(t *testing.T) {
	t.Parallel()

	doc := NormalizeDocument(ParsedDocument{
		Title: strings.Repeat("t", 10_000),
		Body:  strings.Repeat("ü", 20_000),
	})
	require.LessOrEqual(t, utf8.RuneCountInString(doc.Title), MaxTitleRunes)
	require.LessOrEqual(t, utf8.RuneCountInString(doc.Body), MaxBodyRunes)
	require.True(t, utf8.ValidString(doc.Body))
}

func TestNormalizeDocumentDefaults(t *testing.T) {
	t.Parallel()

	doc := NormalizeDocument(ParsedDocument{Title: "  ", Body: ""})
	require.Equal(t, DefaultTitle, doc.Title)
	require.Equal(t, DefaultBody, doc.Body)
}

func TestStoreStatsPercentage(t *testing.T) {
	t.Parallel()

	require.Zero(t, StoreStats{}.SummarizedPercentage())
	require.InDelta(t, 33.33, StoreStats{TotalItems: 3, TotalSummarized: 1}.SummarizedPercentage(), 1e-9)
	require.InDelta(t, 100.0, StoreStats{TotalItems: 4, TotalSummarized: 4}.SummarizedPercentage(), 1e-9)
}

func TestCountWords(t *testing.T) {
	t.Parallel()

	require.Equal(t, 8, CountWords([]string{"Summary generation failed", "Error in processing", "Please retry"}))
}

func TestFetchErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := error(&FetchError{Locator: "https://x", Code: FetchNetwork, Err: cause})
	require.ErrorIs(t, err, cause)

	var fe *FetchError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &fe)
	require.Equal(t, FetchNetwork, fe.Code)

	status := &FetchError{Locator: "https://x", Code: FetchStatus, StatusCode: 503}
	require.Contains(t, status.Error(), "503")
}

func TestStorageUnavailableWrap(t *testing.T) {
	t.Parallel()

	err := StorageUnavailable("count items", errors.New("dial tcp: refused"))
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.Contains(t, err.Error(), "dial tcp")
}

func TestSummaryDraftToSummaryCopiesPoints(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	draft := SummaryDraft{KeyPoints: []string{"a", "b", "c"}, BackendUsed: DegradedBackend, PointCount: 3}
	s := draft.ToSummary(7, at)
	draft.KeyPoints[0] = "mutated"

	require.Equal(t, int64(7), s.ItemID)
	require.Equal(t, at, s.SummarizedAt)
	require.Equal(t, "a", s.KeyPoints[0])
	require.True(t, s.Degraded())
}

func TestRound(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 66.7, Round(66.666, 1), 1e-9)
	require.InDelta(t, 0.0, Round(0, 2), 1e-9)
	require.InDelta(t, -1.25, Round(-1.249, 2), 1e-9)
}
