package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/client"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
)

// Filter selects collections.
type Filter func(c *stac.Collection) bool

// All accepts every collection.
func All(*stac.Collection) bool { return true }

// ByRole accepts collections that declare role.
func ByRole(role string) Filter {
	return func(c *stac.Collection) bool { return c.HasRole(role) }
}

// IDContains accepts collections whose id contains substr.
func IDContains(substr string) Filter {
	return func(c *stac.Collection) bool { return strings.Contains(c.ID, substr) }
}

// ListCollections fetches every page of GET /collections and returns the
// collections accepted by filter, in server order. Any failure, including a
// record without an id, is returned wrapped in ErrListing.
func (f *Fetcher) ListCollections(ctx context.Context, filter Filter) ([]*stac.Collection, error) {
	if filter == nil {
		filter = All
	}

	next := f.api.URL("collections", url.Values{"limit": {strconv.Itoa(f.opts.ListPageSize)}})
	seen := make(map[string]struct{})

	var total int
	var out []*stac.Collection

	for page := 1; next != ""; page++ {
		if _, ok := seen[next]; ok {
			return nil, fmt.Errorf("%w: page %d: %w", ErrListing, page, ErrPageLoop)
		}
		seen[next] = struct{}{}

		logger := f.logger.With().Int("page", page).Logger()
		logger.Debug().Msg("Fetching collections page")

		var list stac.CollectionList
		err := f.api.GetJSON(ctx, next, &list,
			client.WithTimeout(f.opts.ListTimeout),
			client.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrListing, page, err)
		}
		if err := list.Validate(); err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrListing, page, err)
		}

		total += len(list.Collections)
		for _, c := range list.Collections {
			if filter(c) {
				out = append(out, c)
			}
		}

		next = stac.NextLink(list.Links)
	}

	f.logger.Info().
		Int("total", total).
		Int("selected", len(out)).
		Msg("Listed collections")

	return out, nil
}

// IDs returns the ids of collections.
func IDs(collections []*stac.Collection) []string {
	ids := make([]string, len(collections))
	for i, c := range collections {
		ids[i] = c.ID
	}
	return ids
}
