// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/press-digest/internal/digest"
)

var errUnavailable = errors.New("memory store marked unavailable")

// ContentStore is an in-memory digest.ContentStore and digest.ReadStore.
// Uniqueness on locator and on summary item id mirrors the SQL schema.
type ContentStore struct {
	mu          sync.RWMutex
	nextID      int64
	items       []digest.SourceItem
	byLocator   map[string]int64
	byHash      map[string]struct{}
	summaries   map[int64]digest.Summary
	now         func() time.Time
	unavailable bool
}

// NewContentStore constructs an empty ContentStore.
func NewContentStore() *ContentStore {
	return &ContentStore{
		byLocator: make(map[string]int64),
		byHash:    make(map[string]struct{}),
		summaries: make(map[int64]digest.Summary),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetUnavailable toggles simulated connectivity loss. While set, every call
// fails with digest.ErrStorageUnavailable.
func (s *ContentStore) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

func (s *ContentStore) check(op string) error {
	if s.unavailable {
		return digest.StorageUnavailable(op, errUnavailable)
	}
	return nil
}

// EnsureSchema is a no-op beyond the availability check.
func (s *ContentStore) EnsureSchema(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check("ensure schema")
}

// Ping reports availability.
func (s *ContentStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check("ping")
}

// FilterKnown returns the hashes already stored.
func (s *ContentStore) FilterKnown(_ context.Context, hashes []string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("filter known"); err != nil {
		return nil, err
	}
	known := make(map[string]struct{})
	for _, h := range hashes {
		if _, ok := s.byHash[h]; ok {
			known[h] = struct{}{}
		}
	}
	return known, nil
}

// InsertItemIfAbsent stores item unless its locator already exists.
func (s *ContentStore) InsertItemIfAbsent(_ context.Context, item digest.SourceItem) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("insert item"); err != nil {
		return 0, false, err
	}
	if _, ok := s.byLocator[item.Locator]; ok {
		return 0, false, nil
	}
	s.nextID++
	item.ID = s.nextID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if item.FetchedAt.IsZero() {
		item.FetchedAt = item.CreatedAt
	}
	s.items = append(s.items, item)
	s.byLocator[item.Locator] = item.ID
	s.byHash[item.IdentityHash] = struct{}{}
	return item.ID, true, nil
}

// ListUnsummarized returns items lacking a summary, newest first.
func (s *ContentStore) ListUnsummarized(context.Context) ([]digest.UnsummarizedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list unsummarized"); err != nil {
		return nil, err
	}
	pending := make([]digest.SourceItem, 0)
	for _, it := range s.items {
		if _, ok := s.summaries[it.ID]; !ok {
			pending = append(pending, it)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.After(pending[j].CreatedAt)
		}
		return pending[i].ID > pending[j].ID
	})
	out := make([]digest.UnsummarizedItem, 0, len(pending))
	for _, it := range pending {
		out = append(out, digest.UnsummarizedItem{ID: it.ID, Title: it.Title, Body: it.Body})
	}
	return out, nil
}

// InsertSummaryIfAbsent stores a summary unless one exists for itemID.
func (s *ContentStore) InsertSummaryIfAbsent(_ context.Context, itemID int64, summary digest.Summary) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("insert summary"); err != nil {
		return false, err
	}
	if itemID <= 0 || itemID > s.nextID {
		return false, errors.New("insert summary: unknown item id")
	}
	if _, ok := s.summaries[itemID]; ok {
		return false, nil
	}
	summary.ItemID = itemID
	summary.KeyPoints = append([]string(nil), summary.KeyPoints...)
	if summary.SummarizedAt.IsZero() {
		summary.SummarizedAt = s.now()
	}
	s.summaries[itemID] = summary
	return true, nil
}

// CountAll returns the number of stored items.
func (s *ContentStore) CountAll(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("count items"); err != nil {
		return 0, err
	}
	return int64(len(s.items)), nil
}

// CountSummarized returns the number of stored summaries.
func (s *ContentStore) CountSummarized(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("count summaries"); err != nil {
		return 0, err
	}
	return int64(len(s.summaries)), nil
}

// CountPublishedSince counts items published at or after since.
func (s *ContentStore) CountPublishedSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("count recent"); err != nil {
		return 0, err
	}
	var n int64
	for _, it := range s.items {
		if it.PublishedAt != nil && !it.PublishedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Stats aggregates the store contents.
func (s *ContentStore) Stats(context.Context) (digest.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("stats"); err != nil {
		return digest.StoreStats{}, err
	}
	stats := digest.StoreStats{
		TotalItems:      int64(len(s.items)),
		TotalSummarized: int64(len(s.summaries)),
	}
	for _, it := range s.items {
		if p := it.PublishedAt; p != nil {
			if stats.OldestPublished == nil || p.Before(*stats.OldestPublished) {
				stats.OldestPublished = timePtr(*p)
			}
			if stats.NewestPublished == nil || p.After(*stats.NewestPublished) {
				stats.NewestPublished = timePtr(*p)
			}
		}
		if stats.LastFetched == nil || it.FetchedAt.After(*stats.LastFetched) {
			stats.LastFetched = timePtr(it.FetchedAt)
		}
	}
	return stats, nil
}

// ListRecent returns up to limit items joined with their summaries, ordered
// by publish date (unknown last) then creation time.
func (s *ContentStore) ListRecent(_ context.Context, limit int) ([]digest.RecentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list recent"); err != nil {
		return nil, err
	}
	items := append([]digest.SourceItem(nil), s.items...)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].PublishedAt, items[j].PublishedAt
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]digest.RecentItem, 0, len(items))
	for _, it := range items {
		row := digest.RecentItem{
			Locator:     it.Locator,
			Title:       it.Title,
			PublishedAt: it.PublishedAt,
			CreatedAt:   it.CreatedAt,
		}
		if sum, ok := s.summaries[it.ID]; ok {
			row.SummaryText = sum.SummaryText
			row.KeyPoints = append([]string(nil), sum.KeyPoints...)
		}
		out = append(out, row)
	}
	return out, nil
}

// Summary returns the stored summary for itemID, if any.
func (s *ContentStore) Summary(itemID int64) (digest.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[itemID]
	return sum, ok
}

// Close implements io.Closer for symmetry with the SQL stores.
func (s *ContentStore) Close() error {
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
