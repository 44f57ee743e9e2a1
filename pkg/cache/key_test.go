package cache

import (
	"net/url"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "path only",
			key:  CacheKey{Path: "/stac/collections/"},
			want: "stac:stac/collections",
		},
		{
			name: "host and path",
			key:  CacheKey{Host: "example.org", Path: "/stac/collections"},
			want: "stac:example.org:stac/collections",
		},
		{
			name: "query params sorted",
			key: CacheKey{
				Path: "/stac/collections/usgs-events/items",
				Query: url.Values{
					"limit":    []string{"1"},
					"datetime": []string{"2000-01-01T00:00:00Z/2049-12-31T23:59:59Z"},
				},
			},
			want: "stac:stac/collections/usgs-events/items:datetime=2000-01-01T00:00:00Z/2049-12-31T23:59:59Z:limit=1",
		},
		{
			name: "multi-valued param keeps order",
			key: CacheKey{
				Path:  "/items",
				Query: url.Values{"fields": []string{"id", "properties"}},
			},
			want: "stac:items:fields=id,properties",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyFromURL_Deterministic(t *testing.T) {
	a, err := url.Parse("https://example.org/stac/collections/x/items?limit=1&datetime=a/b")
	if err != nil {
		t.Fatal(err)
	}
	b, err := url.Parse("https://example.org/stac/collections/x/items?datetime=a/b&limit=1")
	if err != nil {
		t.Fatal(err)
	}

	if KeyFromURL(a).String() != KeyFromURL(b).String() {
		t.Errorf("query order changed key: %q vs %q", KeyFromURL(a), KeyFromURL(b))
	}
}
