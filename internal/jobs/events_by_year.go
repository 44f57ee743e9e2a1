package jobs

import (
	"context"
	"fmt"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/dispatch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/fetch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/report"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/timebin"
)

// EventsByYearOptions configures EventsByYear.
type EventsByYearOptions struct {
	// Policy partitions time; defaults to timebin.Tiered.
	Policy timebin.Policy

	// Filter selects collections; defaults to those with the event role.
	Filter fetch.Filter

	Output   string
	ErrorLog string
}

// DefaultEventsByYearOptions returns the options of the events-by-year job.
func DefaultEventsByYearOptions() EventsByYearOptions {
	return EventsByYearOptions{
		Policy:   timebin.Tiered(),
		Filter:   fetch.ByRole(stac.RoleEvent),
		Output:   "event_counts_by_year.xlsx",
		ErrorLog: "event_counts_by_year_errors.json",
	}
}

// EventsByYear counts the items of every event collection in every time bin
// and writes one sheet per collection with a single row of counts.
func EventsByYear(opts EventsByYearOptions) Job {
	def := DefaultEventsByYearOptions()
	if opts.Policy == nil {
		opts.Policy = def.Policy
	}
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
			env.Logger.Warn().Msg("No event collections found")
			return res, nil
		}
		env.Logger.Info().Strs("collections", ids).Msg("Found event collections")

		bins, err := env.partition(opts.Policy)
		if err != nil {
			return res, err
		}

		errs, err := env.openErrorLog(opts.ErrorLog)
		if err != nil {
			return res, err
		}
		defer errs.Close()

		var records []report.Record
		res.Tasks = dispatch.Run(ctx, env.pool("events-by-year"), grid(ids, bins),
			func(ctx context.Context, t binTask) (int, error) {
				return env.Fetcher.CountMatched(ctx, t.Collection, &t.Bin)
			},
			func(r dispatch.Result[binTask, int]) {
				if r.Err != nil {
					env.Logger.Error().Err(r.Err).
						Str("collection", r.Task.Collection).
						Str("period", r.Task.Bin.Label).
						Msg("Count failed")
					if werr := errs.Write(env.failure(r.Task.Collection, r.Task.Bin.Label, r.Err)); werr != nil {
						env.Logger.Error().Err(werr).Msg("Failed to write error record")
					}
					return
				}
				records = append(records, report.Record{
					Collection: r.Task.Collection,
					Period:     r.Task.Bin.Label,
					Count:      r.Value,
				})
			})
		res.ErrorRecords = errs.Count()

		if len(records) == 0 {
			env.Logger.Warn().Msg("No event data was found for any collection")
			return res, nil
		}

		tables := report.PivotCounts(records, ids, timebin.Labels(bins))
		out := env.Config.OutputPath(opts.Output)
		if err := report.WriteWorkbook(out, tables); err != nil {
			return res, fmt.Errorf("write workbook: %w", err)
		}
		res.Outputs = append(res.Outputs, out)
		env.Logger.Info().Str("path", out).Int("sheets", len(tables)).Msg("Wrote workbook")

		return res, nil
	}
}
