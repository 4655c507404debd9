// Package archive builds object keys for raw fetched payloads. Backends live
// in the memory, local and gcs subpackages.
package archive

import (
	"path"
	"strings"
	"time"
)

// Key returns the object path for a payload: prefix/YYYY/MM/DD/<hash>.html.
func Key(prefix, identityHash string, fetchedAt time.Time) string {
	prefix = strings.Trim(prefix, "/")
	day := fetchedAt.UTC().Format("2006/01/02")
	name := identityHash + ".html"
	if prefix == "" {
		return path.Join(day, name)
	}
	return path.Join(prefix, day, name)
}
