package headless

import (
	"bytes"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultBodyThreshold = 2048
	scriptSharePercent   = 25
)

// appShellSelector matches the mount points of client-rendered apps.
const appShellSelector = `#__next, #root, #app, [data-reactroot]`

// Detector decides whether a statically fetched page needs a browser to
// produce its links.
type Detector struct {
	BodyLengthThreshold int
}

// NewDetector creates a Detector. A zero threshold uses 2 KiB.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Detector{BodyLengthThreshold: threshold}
}

// NeedsRendering reports whether a 200 response looks like an app shell: an
// empty body, a mount point without any links, or a small page that is
// mostly script.
func (d *Detector) NeedsRendering(statusCode int, body []byte) bool {
	if statusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find("a[href]").Length() > 0 {
		return false
	}
	if doc.Find(appShellSelector).Length() > 0 {
		return true
	}
	return len(body) < d.BodyLengthThreshold && scriptShare(doc, len(body)) >= scriptSharePercent
}

// scriptShare returns the percentage of the document taken by inline script.
func scriptShare(doc *goquery.Document, total int) int {
	if total == 0 {
		return 0
	}
	covered := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		covered += len(s.Text()) + len("<script></script>")
	})
	return covered * 100 / total
}
