package fetch

import (
	"context"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
)

// Tally is the result of an enumeration query.
type Tally struct {
	Counts map[string]int
	Items  int
	Pages  int
}

// Tally walks every page of q and counts each value of the string-array
// property across all items. On failure the partial tally gathered so far is
// returned together with a *PageError naming the page that failed.
func (f *Fetcher) Tally(ctx context.Context, q Query, property string) (Tally, error) {
	logger := f.queryLogger(q)
	logger.Debug().Str("property", property).Msg("Starting enumeration")

	t := Tally{Counts: make(map[string]int)}
	pages, err := f.walk(ctx, f.ItemsURL(q), logger, false, func(page *stac.ItemPage) error {
		t.Items += len(page.Features)
		for _, feat := range page.Features {
			for _, code := range feat.Codes(property) {
				t.Counts[code]++
			}
		}
		return nil
	})
	t.Pages = pages
	if err != nil {
		logger.Warn().Err(err).Int("items", t.Items).Msg("Enumeration stopped early")
		return t, err
	}

	logger.Info().
		Int("items", t.Items).
		Int("pages", t.Pages).
		Int("codes", len(t.Counts)).
		Msg("Completed enumeration")
	return t, nil
}

// Items walks every page of q and calls fn for each item in order.
// An error from fn stops the walk and is returned as is.
func (f *Fetcher) Items(ctx context.Context, q Query, fn func(*stac.Feature) error) (int, error) {
	logger := f.queryLogger(q)

	n := 0
	_, err := f.walk(ctx, f.ItemsURL(q), logger, false, func(page *stac.ItemPage) error {
		for _, feat := range page.Features {
			if feat == nil {
				continue
			}
			if err := fn(feat); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
