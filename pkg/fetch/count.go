package fetch

import (
	"context"
	"fmt"
	"net/url"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/client"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/timebin"
)

// CountSource records where a collection count came from.
type CountSource string

const (
	SourceSummary CountSource = "summary"
	SourceMatched CountSource = "numberMatched"
	SourceManual  CountSource = "manual"

	// SourceMissing means no count was available and manual counting is off.
	SourceMissing CountSource = "missing"
)

// CollectionCount is the total item count of one collection.
type CollectionCount struct {
	Collection string
	Count      int
	Source     CountSource
}

// CountMatched returns numberMatched for collection within bin (nil for the
// whole collection) using a single limit=1 request. A response without
// numberMatched counts as 0 and is logged as a warning.
func (f *Fetcher) CountMatched(ctx context.Context, collection string, bin *timebin.Bin) (int, error) {
	q := Query{Collection: collection, Bin: bin, Limit: 1}
	n, ok, err := f.countMatched(ctx, q)
	if err != nil {
		return 0, err
	}
	if !ok {
		logger := f.queryLogger(q)
		logger.Warn().Msg("numberMatched not reported, counting as 0")
	}
	return n, nil
}

func (f *Fetcher) countMatched(ctx context.Context, q Query) (int, bool, error) {
	logger := f.queryLogger(q)

	var page stac.ItemPage
	if err := f.api.GetJSON(ctx, f.ItemsURL(q), &page, client.WithLogger(logger)); err != nil {
		return 0, false, &PageError{Page: 1, URL: f.ItemsURL(q), Err: err}
	}

	n, ok := page.Matched()
	if ok {
		logger.Debug().Int("count", n).Msg("Counted items")
	}
	return n, ok, nil
}

// CountCollection returns the total item count of a collection, trying in
// order: the monty:count summary of the collection document, numberMatched of
// a limit=1 items query, and finally a full pagination of the items (when
// enabled). The manual count is paced and shares the caller's context.
func (f *Fetcher) CountCollection(ctx context.Context, collection string) (CollectionCount, error) {
	result := CollectionCount{Collection: collection}
	logger := f.logger.With().Str("collection", collection).Logger()

	var c stac.Collection
	err := f.api.GetJSON(ctx, f.api.URL("collections/"+url.PathEscape(collection), nil), &c,
		client.WithTimeout(f.opts.ListTimeout),
		client.WithLogger(logger))
	if err != nil {
		return result, fmt.Errorf("get collection: %w", err)
	}

	if n, ok := c.SummaryCount(); ok {
		result.Count, result.Source = n, SourceSummary
		logger.Info().Int("count", n).Str("source", string(SourceSummary)).Msg("Counted collection")
		return result, nil
	}

	logger.Debug().Msg("No summary count, querying items endpoint")
	n, ok, err := f.countMatched(ctx, Query{Collection: collection, Limit: 1})
	if err != nil {
		return result, fmt.Errorf("count matched: %w", err)
	}
	if ok {
		result.Count, result.Source = n, SourceMatched
		logger.Info().Int("count", n).Str("source", string(SourceMatched)).Msg("Counted collection")
		return result, nil
	}

	if !f.opts.ManualCount {
		result.Source = SourceMissing
		logger.Warn().Msg("No count available and manual counting is disabled, counting as 0")
		return result, nil
	}

	n, err = f.manualCount(ctx, collection)
	if err != nil {
		return result, fmt.Errorf("manual count: %w", err)
	}
	result.Count, result.Source = n, SourceManual
	logger.Info().Int("count", n).Str("source", string(SourceManual)).Msg("Counted collection")
	return result, nil
}

func (f *Fetcher) manualCount(ctx context.Context, collection string) (int, error) {
	q := Query{Collection: collection, Limit: f.opts.ManualPageSize}
	logger := f.queryLogger(q)
	logger.Warn().Msg("Starting manual count, this may be very slow")

	every := f.opts.ManualProgressEvery
	count := 0
	pages, err := f.walk(ctx, f.ItemsURL(q), logger, true, func(page *stac.ItemPage) error {
		before := count
		count += len(page.Features)
		if count/every > before/every {
			logger.Info().Int("items", count).Msg("Manual count progress")
		}
		return nil
	})
	if err != nil {
		return count, err
	}

	logger.Info().Int("items", count).Int("pages", pages).Msg("Finished manual count")
	return count, nil
}
