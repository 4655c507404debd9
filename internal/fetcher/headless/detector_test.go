package headless

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectorNeedsRendering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"empty body", http.StatusOK, "  ", true},
		{"app shell", http.StatusOK, `<html><body><div id="__next"></div></body></html>`, true},
		{"react root", http.StatusOK, `<div data-reactroot></div>`, true},
		{"script heavy", http.StatusOK, `<html><script>var a=1;window.boot(a);</script><p>t</p></html>`, true},
		{"links present", http.StatusOK, `<div id="root"><a href="/press-release/1">r</a></div>`, false},
		{"plain page", http.StatusOK, `<html><body><p>` + strings.Repeat("text ", 20) + `</p></body></html>`, false},
		{"not found", http.StatusNotFound, "", false},
	}
	d := NewDetector(1000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, d.NeedsRendering(tt.status, []byte(tt.body)))
		})
	}
}

func TestNewDetectorDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2048, NewDetector(0).BodyLengthThreshold)
}
