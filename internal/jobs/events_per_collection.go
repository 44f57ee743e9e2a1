package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/dispatch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/fetch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/report"
)

// EventsPerCollectionOptions configures EventsPerCollection.
type EventsPerCollectionOptions struct {
	// Filter defaults to every collection.
	Filter fetch.Filter

	Output   string
	ErrorLog string

	// Quiet suppresses the console table.
	Quiet bool
}

// DefaultEventsPerCollectionOptions returns the options of the events-per-collection job.
func DefaultEventsPerCollectionOptions() EventsPerCollectionOptions {
	return EventsPerCollectionOptions{
		Filter:   fetch.All,
		Output:   "collection_counts.csv",
		ErrorLog: "collection_counts_errors.json",
	}
}

// EventsPerCollection counts the total items of every collection, prints a
// table sorted by collection and writes a (collection, count) CSV sorted by
// count descending.
func EventsPerCollection(opts EventsPerCollectionOptions) Job {
	def := DefaultEventsPerCollectionOptions()
	if opts.Filter == nil {
		opts.Filter = def.Filter
	}
	if opts.Output == "" {
		opts.Output = def.Output
	}
	if opts.ErrorLog == "" {
		opts.ErrorLog = def.ErrorLog
	}

	return func(ctx context.Context, env *Env) (*Result, error) {
		res := &Result{ErrorLog: env.Config.OutputPath(opts.ErrorLog)}

		ids, err := env.listIDs(ctx, opts.Filter)
		if err != nil {
			return res, err
		}
		if len(ids) == 0 {
			env.Logger.Warn().Msg("No collections found")
			return res, nil
		}
		env.Logger.Info().Int("collections", len(ids)).Msg("Fetching counts for each collection")

		errs, err := env.openErrorLog(opts.ErrorLog)
		if err != nil {
			return res, err
		}
		defer errs.Close()

		counts := make(map[string]int, len(ids))
		rows := make([][]string, 0, len(ids))
		res.Tasks = dispatch.Run(ctx, env.pool("events-per-collection"), ids,
			func(ctx context.Context, id string) (fetch.CollectionCount, error) {
				return env.Fetcher.CountCollection(ctx, id)
			},
			func(r dispatch.Result[string, fetch.CollectionCount]) {
				if r.Err != nil {
					env.Logger.Error().Err(r.Err).Str("collection", r.Task).Msg("Count failed")
					if werr := errs.Write(env.failure(r.Task, "all", r.Err)); werr != nil {
						env.Logger.Error().Err(werr).Msg("Failed to write error record")
					}
					rows = append(rows, []string{r.Task, "error", ""})
					return
				}
				counts[r.Task] = r.Value.Count
				rows = append(rows, []string{r.Task, strconv.Itoa(r.Value.Count), string(r.Value.Source)})
			})
		res.ErrorRecords = errs.Count()

		if len(counts) == 0 {
			env.Logger.Warn().Msg("Could not retrieve counts for any collection")
			return res, nil
		}

		if !opts.Quiet && env.Stdout != nil {
			sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
			err := report.PrintTable(env.Stdout, "Total Events per Collection",
				[]string{"collection_id", "total_events", "source"}, rows, 1)
			if err != nil {
				return res, fmt.Errorf("print table: %w", err)
			}
		}

		out := env.Config.OutputPath(opts.Output)
		if err := report.WriteCounts(out, [2]string{"collection", "count"}, report.Rank(counts)); err != nil {
			return res, fmt.Errorf("write csv: %w", err)
		}
		res.Outputs = append(res.Outputs, out)
		env.Logger.Info().Str("path", out).Int("collections", len(counts)).Msg("Wrote collection counts")

		return res, nil
	}
}
