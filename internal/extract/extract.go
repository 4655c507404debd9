// Package extract turns press-release HTML into structured fields and pulls
// candidate links out of listing pages.
package extract

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/press-digest/internal/digest"
)

// maxFallbackLines bounds the plain-text fallback body.
const maxFallbackLines = 100

// Selectors lists CSS selectors tried in order.
type Selectors struct {
	Links   []string
	Title   []string
	Content []string
	Date    []string
}

// DefaultSelectors matches the SEC newsroom markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Links: []string{
			`a[href*="/newsroom/press-release/"]`,
			`a[href*="/newsroom/press-releases/"]`,
			`article a[href*="press-release"]`,
			`.view-content a[href*="press-release"]`,
			`h3 a[href*="press-release"]`,
			`td.views-field-field-display-title a`,
		},
		Title: []string{
			"h1.article__headline",
			"h1.page-title",
			"h1",
			".article__headline",
		},
		Content: []string{
			".article__content",
			".article__body",
			".field--name-body",
			"article .content",
			"main .content",
		},
		Date: []string{
			"time[datetime]",
			`meta[property="article:published_time"]`,
			".article__date",
			".date",
		},
	}
}

// Extractor parses HTML documents.
type Extractor struct {
	sel Selectors
}

// New creates an Extractor; empty selector groups fall back to the defaults.
func New(sel Selectors) *Extractor {
	def := DefaultSelectors()
	if len(sel.Links) == 0 {
		sel.Links = def.Links
	}
	if len(sel.Title) == 0 {
		sel.Title = def.Title
	}
	if len(sel.Content) == 0 {
		sel.Content = def.Content
	}
	if len(sel.Date) == 0 {
		sel.Date = def.Date
	}
	return &Extractor{sel: sel}
}

// Parse extracts title, body and publish date. It never fails; missing
// fields come back empty and are defaulted by the caller.
func (e *Extractor) Parse(content []byte, locator string) digest.ParsedDocument {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return digest.ParsedDocument{}
	}
	doc.Find("script, style, noscript").Remove()

	out := digest.ParsedDocument{
		Title:       e.title(doc),
		Body:        e.body(doc),
		PublishedAt: e.published(doc),
	}
	if out.Body == "" || out.Title == "" {
		if art, ok := readable(content, locator); ok {
			if out.Title == "" {
				out.Title = strings.TrimSpace(art.Title)
			}
			if out.Body == "" {
				out.Body = normalizeBlock(art.TextContent)
			}
		}
	}
	if out.Body == "" {
		out.Body = firstLines(doc.Find("body").Text(), maxFallbackLines)
	}
	return out
}

func (e *Extractor) title(doc *goquery.Document) string {
	for _, sel := range e.sel.Title {
		if t := collapse(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		return collapse(og)
	}
	return ""
}

func (e *Extractor) body(doc *goquery.Document) string {
	for _, sel := range e.sel.Content {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		var parts []string
		node.Find("p, li").Each(func(_ int, s *goquery.Selection) {
			if t := collapse(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) == 0 {
			if t := collapse(node.Text()); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n\n")
		}
	}
	return ""
}

func (e *Extractor) published(doc *goquery.Document) *time.Time {
	for _, sel := range e.sel.Date {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		candidates := []string{}
		if v, ok := node.Attr("datetime"); ok {
			candidates = append(candidates, v)
		}
		if v, ok := node.Attr("content"); ok {
			candidates = append(candidates, v)
		}
		candidates = append(candidates, collapse(node.Text()))
		for _, c := range candidates {
			if t, ok := ParseDate(c); ok {
				return &t
			}
		}
	}
	return nil
}

// ParseDate parses loosely formatted dates, reading zone-less values as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Links returns absolute hrefs from the first link selector that matches,
// filtered by contains and de-duplicated in document order.
func (e *Extractor) Links(content []byte, base *url.URL, contains string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	for _, sel := range e.sel.Links {
		matches := doc.Find(sel)
		if matches.Length() == 0 {
			continue
		}
		seen := make(map[string]struct{})
		var out []string
		matches.Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				return
			}
			abs := resolve(base, href)
			if abs == "" || (contains != "" && !strings.Contains(abs, contains)) {
				return
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	ref.Host = strings.ToLower(ref.Host)
	// Default ports would give the same release a second identity hash.
	switch {
	case ref.Scheme == "http" && strings.HasSuffix(ref.Host, ":80"):
		ref.Host = strings.TrimSuffix(ref.Host, ":80")
	case ref.Scheme == "https" && strings.HasSuffix(ref.Host, ":443"):
		ref.Host = strings.TrimSuffix(ref.Host, ":443")
	}
	return ref.String()
}

func readable(content []byte, locator string) (readability.Article, bool) {
	pageURL, err := url.Parse(locator)
	if err != nil {
		pageURL = nil
	}
	art, err := readability.FromReader(bytes.NewReader(content), pageURL)
	if err != nil {
		return readability.Article{}, false
	}
	return art, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeBlock collapses whitespace inside lines and drops blank lines.
func normalizeBlock(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if c := collapse(l); c != "" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, "\n\n")
}

func firstLines(s string, n int) string {
	var kept []string
	for _, l := range strings.Split(s, "\n") {
		if c := collapse(l); c != "" {
			kept = append(kept, c)
			if len(kept) == n {
				break
			}
		}
	}
	return strings.Join(kept, "\n")
}
