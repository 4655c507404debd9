package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/press-digest/internal/digest"
)

type fakeFetcher struct {
	mu          sync.Mutex
	candidates  []string
	discoverErr error
	docs        map[string]digest.ParsedDocument
	failures    map[string]*digest.FetchError
	fetched     []string
	beforeFetch func(locator string)
}

func newFakeFetcher(candidates ...string) *fakeFetcher {
	return &fakeFetcher{
		candidates: candidates,
		docs:       make(map[string]digest.ParsedDocument),
		failures:   make(map[string]*digest.FetchError),
	}
}

func (f *fakeFetcher) Discover(_ context.Context, limit int) ([]string, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	if len(f.candidates) > limit {
		return append([]string(nil), f.candidates[:limit]...), nil
	}
	return append([]string(nil), f.candidates...), nil
}

func (f *fakeFetcher) Fetch(_ context.Context, locator string) digest.FetchResult {
	f.mu.Lock()
	f.fetched = append(f.fetched, locator)
	hook := f.beforeFetch
	fe := f.failures[locator]
	f.mu.Unlock()
	if hook != nil {
		hook(locator)
	}
	if fe != nil {
		return digest.FetchResult{Locator: locator, Err: fe}
	}
	return digest.FetchResult{Locator: locator, Content: []byte("<html>" + locator + "</html>"), StatusCode: 200}
}

func (f *fakeFetcher) Parse(_ []byte, locator string) digest.ParsedDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[locator]; ok {
		return doc
	}
	return digest.ParsedDocument{Title: "Title of " + locator, Body: "Body of " + locator}
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type fakeSummarizer struct {
	mu            sync.Mutex
	healthy       bool
	draft         func(body, title string) digest.SummaryDraft
	titles        []string
	beforeReturn  func(title string)
	healthChecked int
}

func (s *fakeSummarizer) HealthCheck(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthChecked++
	return s.healthy
}

func (s *fakeSummarizer) Summarize(_ context.Context, body, title string) digest.SummaryDraft {
	s.mu.Lock()
	s.titles = append(s.titles, title)
	hook := s.beforeReturn
	s.mu.Unlock()
	if hook != nil {
		hook(title)
	}
	if s.draft != nil {
		return s.draft(body, title)
	}
	points := []string{"one " + title, "two", "three"}
	return digest.SummaryDraft{
		SummaryText: "• " + points[0] + "\n• two\n• three",
		KeyPoints:   points,
		PointCount:  digest.CountWords(points),
		BackendUsed: "test-model",
	}
}

func (s *fakeSummarizer) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

type failingArchive struct{}

func (failingArchive) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket gone")
}
