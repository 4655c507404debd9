// Package memory keeps raw payloads in memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Archive stores payloads in a map and returns memory:// URIs.
type Archive struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty Archive.
func New() *Archive {
	return &Archive{data: make(map[string][]byte)}
}

// PutObject stores a copy of data under path.
func (a *Archive) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[path] = append([]byte(nil), data...)
	return "memory://" + path, nil
}

// Get returns the payload stored under path.
func (a *Archive) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.data[path]
	return b, ok
}

// Len reports the number of stored objects.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}
