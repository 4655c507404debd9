package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArchivePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	a := New()
	payload := []byte("content")
	uri, err := a.PutObject(context.Background(), "raw/page.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://raw/page.html", uri)

	payload[0] = 'C'
	stored, ok := a.Get("raw/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, 1, a.Len())

	_, err = a.PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}
