package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached STAC response.
type CacheKey struct {
	// Host is the API host the response came from
	Host string

	// Path is the request path (e.g., "/stac/collections/usgs-events/items")
	Path string

	// Query holds the query parameters (e.g., {"limit": "1", "datetime": "..."})
	Query url.Values
}

// KeyFromURL builds a CacheKey from an absolute request URL.
func KeyFromURL(u *url.URL) CacheKey {
	return CacheKey{
		Host:  u.Host,
		Path:  u.Path,
		Query: u.Query(),
	}
}

// String generates a deterministic cache key string.
// Format: stac:host:path:query1=val1,val2:query2=val1
//
// Example:
//
//	stac:example.org:stac/collections/usgs-events/items:datetime=2000-01-01T00:00:00Z/2049-12-31T23:59:59Z:limit=1
func (k CacheKey) String() string {
	parts := []string{"stac"}

	if k.Host != "" {
		parts = append(parts, k.Host)
	}

	path := strings.Trim(k.Path, "/")
	if path != "" {
		parts = append(parts, path)
	}

	// Query params sorted by key, values kept in request order
	if len(k.Query) > 0 {
		keys := make([]string, 0, len(k.Query))
		for key := range k.Query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.Query[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}
