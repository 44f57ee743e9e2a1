// Package fetch implements the collection lister and the paginated item
// fetcher used by the reporting jobs.
//
// Count mode issues one limit=1 request and reads numberMatched. Enumeration
// mode walks every page of a query, following rel=next links, and tallies a
// string-array property of each item. Pages within one query are consumed
// strictly in sequence; parallelism happens one level up, across queries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/client"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/logging"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/ratelimit"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/timebin"
	"github.com/rs/zerolog"
)

var (
	// ErrListing is returned when the collection list cannot be fetched.
	// It is fatal for a run.
	ErrListing = errors.New("list collections")

	// ErrPageLoop is returned when a next link points back at a page already read.
	ErrPageLoop = errors.New("pagination loop")
)

// API is the subset of *client.Client the fetcher needs.
type API interface {
	GetJSON(ctx context.Context, rawURL string, v any, opts ...client.RequestOption) error
	URL(path string, query url.Values) string
}

// Options configures a Fetcher.
type Options struct {
	// ListPageSize is the limit sent with GET /collections.
	ListPageSize int

	// ListTimeout bounds each collection-list and collection-detail request.
	ListTimeout time.Duration

	// ManualCount enables the full-pagination fallback in CountCollection.
	ManualCount bool

	// ManualPageSize is the page size used while counting manually.
	ManualPageSize int

	// ManualProgressEvery logs progress each time this many items are counted.
	ManualProgressEvery int

	// ManualPace is the minimum spacing between manual-count page requests,
	// shared by all workers.
	ManualPace time.Duration
}

// DefaultOptions returns the options used by the jobs.
func DefaultOptions() Options {
	return Options{
		ListPageSize:        100,
		ListTimeout:         30 * time.Second,
		ManualCount:         true,
		ManualPageSize:      250,
		ManualProgressEvery: 5000,
		ManualPace:          200 * time.Millisecond,
	}
}

// Fetcher runs count and enumeration queries against a STAC API.
// It is safe for concurrent use.
type Fetcher struct {
	api    API
	opts   Options
	pacer  *ratelimit.Pacer
	logger zerolog.Logger
}

// New creates a Fetcher.
func New(api API, opts Options) *Fetcher {
	def := DefaultOptions()
	if opts.ListPageSize <= 0 {
		opts.ListPageSize = def.ListPageSize
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = def.ListTimeout
	}
	if opts.ManualPageSize <= 0 {
		opts.ManualPageSize = def.ManualPageSize
	}
	if opts.ManualProgressEvery <= 0 {
		opts.ManualProgressEvery = def.ManualProgressEvery
	}

	return &Fetcher{
		api:    api,
		opts:   opts,
		pacer:  ratelimit.NewPacer(opts.ManualPace),
		logger: logging.NewLogger("fetcher"),
	}
}

// WithLogger returns a copy of f that logs through logger (e.g. one carrying run_id).
func (f *Fetcher) WithLogger(logger zerolog.Logger) *Fetcher {
	cp := *f
	cp.logger = logger
	return &cp
}

// Query selects items of one collection, optionally restricted to a time bin.
type Query struct {
	Collection string

	// Bin restricts datetime when non-nil.
	Bin *timebin.Bin

	// Datetime is a raw STAC datetime value; ignored when Bin is set.
	Datetime string

	Limit int

	// Fields is sent as the fields projection parameter.
	Fields []string

	// Extra holds any additional query parameters (e.g. a CQL2 filter).
	Extra url.Values
}

// Period returns the label used for the query in logs and error records.
func (q Query) Period() string {
	switch {
	case q.Bin != nil:
		return q.Bin.Label
	case q.Datetime != "":
		return q.Datetime
	default:
		return "all"
	}
}

// ItemsURL builds GET /collections/{id}/items for q.
func (f *Fetcher) ItemsURL(q Query) string {
	params := url.Values{}
	for k, v := range q.Extra {
		params[k] = append([]string(nil), v...)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Bin != nil {
		params.Set("datetime", q.Bin.Interval())
	} else if q.Datetime != "" {
		params.Set("datetime", q.Datetime)
	}
	if len(q.Fields) > 0 {
		params.Set("fields", strings.Join(q.Fields, ","))
	}
	return f.api.URL("collections/"+url.PathEscape(q.Collection)+"/items", params)
}

// PageError reports the page on which a paginated query gave up.
type PageError struct {
	Page int
	URL  string
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// FailedPage returns the page number of a PageError in err's chain, or 0.
func FailedPage(err error) int {
	var pe *PageError
	if errors.As(err, &pe) {
		return pe.Page
	}
	return 0
}

// walk fetches pages starting at startURL until a page has no next link.
// fn is called for each page in order; pages is the number of pages read.
func (f *Fetcher) walk(ctx context.Context, startURL string, logger zerolog.Logger, pace bool,
	fn func(page *stac.ItemPage) error) (pages int, err error) {

	seen := make(map[string]struct{})
	next := startURL

	for next != "" {
		if _, ok := seen[next]; ok {
			return pages, &PageError{Page: pages + 1, URL: next, Err: ErrPageLoop}
		}
		seen[next] = struct{}{}

		if pace {
			if err := f.pacer.Wait(ctx); err != nil {
				return pages, &PageError{Page: pages + 1, URL: next, Err: err}
			}
		}

		pageLogger := logger.With().Int("page", pages+1).Logger()

		var page stac.ItemPage
		if err := f.api.GetJSON(ctx, next, &page, client.WithLogger(pageLogger)); err != nil {
			return pages, &PageError{Page: pages + 1, URL: next, Err: err}
		}
		pages++

		if err := fn(&page); err != nil {
			return pages, err
		}

		next = stac.NextLink(page.Links)
	}

	return pages, nil
}

func (f *Fetcher) queryLogger(q Query) zerolog.Logger {
	return f.logger.With().
		Str("collection", q.Collection).
		Str("period", q.Period()).
		Logger()
}
