package headless

import "context"

// Noop renders nothing; it stands in when Chrome is unavailable.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render always returns ErrNotConfigured.
func (Noop) Render(_ context.Context, _ string) (Page, error) {
	return Page{}, ErrNotConfigured
}
