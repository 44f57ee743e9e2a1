package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/dispatch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/fetch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/report"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/timebin"
)

// CountriesByChunkOptions configures CountriesByChunk.
type CountriesByChunkOptions struct {
	Collection string

	// Policy defaults to 5-year chunks from 1934, the earliest USGS event.
	Policy timebin.Policy

	PageSize int

	// Output and ErrorLog default to names derived from the collection.
	Output   string
	ErrorLog string
}

// DefaultCountriesByChunkOptions returns the options of the countries-by-chunk job.
func DefaultCountriesByChunkOptions() CountriesByChunkOptions {
	return CountriesByChunkOptions{
		Collection: "usgs-events",
		Policy:     timebin.Chunked(1934, 5),
		PageSize:   500,
	}
}

// source returns the collection id without its "-events" suffix.
func (o CountriesByChunkOptions) source() string {
	return strings.TrimSuffix(o.Collection, "-events")
}

// CountriesByChunk tallies monty:country_codes of one collection chunk by chunk
// and writes a (country_code, event_count) CSV sorted by count descending.
func CountriesByChunk(opts CountriesByChunkOptions) Job {
	def := DefaultCountriesByChunkOptions()
	if opts.Collection == "" {
		opts.Collection = def.Collection
	}
	if opts.Policy == nil {
		opts.Policy = def.Policy
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.Output == "" {
		opts.Output = fmt.Sprintf("event_counts_by_country_%s.csv", opts.source())
	}
	if opts.ErrorLog == "" {
		opts.ErrorLog = fmt.Sprintf("event_count_errors_%s.json", opts.source())
	}

	return func(ctx context.Context, env *Env) (*Result, error) {
		res := &Result{ErrorLog: env.Config.OutputPath(opts.ErrorLog)}

		// the error log is cleared before anything else so a failed run never
		// leaves a stale one behind
		errs, err := env.openErrorLog(opts.ErrorLog)
		if err != nil {
			return res, err
		}
		defer errs.Close()

		bins, err := env.partition(opts.Policy)
		if err != nil {
			return res, err
		}
		env.Logger.Info().
			Str("collection", opts.Collection).
			Int("chunks", len(bins)).
			Int("workers", env.Config.Workers).
			Msg("Starting time-partitioned fetch")

		var records []report.Record
		items, succeeded := 0, 0
		res.Tasks = dispatch.Run(ctx, env.pool("countries-by-chunk"), grid([]string{opts.Collection}, bins),
			func(ctx context.Context, t binTask) (fetch.Tally, error) {
				return env.Fetcher.Tally(ctx, fetch.Query{
					Collection: t.Collection,
					Bin:        &t.Bin,
					Limit:      opts.PageSize,
					Fields:     []string{"properties." + stac.PropertyCountryCodes},
				}, stac.PropertyCountryCodes)
			},
			func(r dispatch.Result[binTask, fetch.Tally]) {
				if r.Err != nil {
					env.Logger.Error().Err(r.Err).
						Str("chunk", r.Task.Bin.Label).
						Int("partial_items", r.Value.Items).
						Msg("Chunk failed, discarding partial tally")
					if werr := errs.Write(env.failure(r.Task.Collection, r.Task.Bin.Label, r.Err)); werr != nil {
						env.Logger.Error().Err(werr).Msg("Failed to write error record")
					}
					return
				}
				succeeded++
				items += r.Value.Items
				for code, n := range r.Value.Counts {
					records = append(records, report.Record{
						Collection: r.Task.Collection,
						Period:     r.Task.Bin.Label,
						Category:   code,
						Count:      n,
					})
				}
			})
		res.ErrorRecords = errs.Count()
		if res.ErrorRecords > 0 {
			env.Logger.Warn().
				Int("errors", res.ErrorRecords).
				Str("path", errs.Path()).
				Msg("Errors occurred and were logged")
		}

		if succeeded == 0 {
			env.Logger.Warn().Msg("No data was processed")
			return res, nil
		}

		ranked := report.Rank(report.Totals(records))
		out := env.Config.OutputPath(opts.Output)
		if err := report.WriteCounts(out, [2]string{"country_code", "event_count"}, ranked); err != nil {
			return res, fmt.Errorf("write csv: %w", err)
		}
		res.Outputs = append(res.Outputs, out)

		total := 0
		for _, c := range ranked {
			total += c.Count
		}
		env.Logger.Info().
			Str("path", out).
			Int("countries", len(ranked)).
			Int("country_events", total).
			Int("items", items).
			Msg("Wrote country counts")

		return res, nil
	}
}
