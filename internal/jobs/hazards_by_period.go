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

// HazardsByPeriodOptions configures HazardsByPeriod.
type HazardsByPeriodOptions struct {
	// Policy defaults to 50-year bins from 1800.
	Policy timebin.Policy

	// Filter defaults to collections whose id contains "-events".
	Filter fetch.Filter

	// PageSize is the items limit of each page.
	PageSize int

	Output   string
	ErrorLog string
}

// DefaultHazardsByPeriodOptions returns the options of the hazards-by-period job.
func DefaultHazardsByPeriodOptions() HazardsByPeriodOptions {
	return HazardsByPeriodOptions{
		Policy:   timebin.Fixed(1800, 50),
		Filter:   fetch.IDContains("-events"),
		PageSize: 250,
		Output:   "hazard_counts_by_year_and_type.xlsx",
		ErrorLog: "hazard_counts_errors.json",
	}
}

// HazardsByPeriod tallies monty:hazard_codes of every event collection per
// time bin and writes a hazard code x period sheet per collection.
func HazardsByPeriod(opts HazardsByPeriodOptions) Job {
	def := DefaultHazardsByPeriodOptions()
	if opts.Policy == nil {
		opts.Policy = def.Policy
	}
	if opts.Filter == nil {
		opts.Filter = def.Filter
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
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
			env.Logger.Warn().Msg("No hazard event collections found")
			return res, nil
		}

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
		succeeded := 0
		res.Tasks = dispatch.Run(ctx, env.pool("hazards-by-period"), grid(ids, bins),
			func(ctx context.Context, t binTask) (fetch.Tally, error) {
				return env.Fetcher.Tally(ctx, fetch.Query{
					Collection: t.Collection,
					Bin:        &t.Bin,
					Limit:      opts.PageSize,
					Fields:     []string{"properties." + stac.PropertyHazardCodes},
				}, stac.PropertyHazardCodes)
			},
			func(r dispatch.Result[binTask, fetch.Tally]) {
				if r.Err != nil {
					env.Logger.Error().Err(r.Err).
						Str("collection", r.Task.Collection).
						Str("period", r.Task.Bin.Label).
						Int("partial_items", r.Value.Items).
						Msg("Enumeration failed, discarding partial tally")
					if werr := errs.Write(env.failure(r.Task.Collection, r.Task.Bin.Label, r.Err)); werr != nil {
						env.Logger.Error().Err(werr).Msg("Failed to write error record")
					}
					return
				}
				succeeded++
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

		if succeeded == 0 {
			env.Logger.Warn().Msg("Every task failed, nothing to write")
			return res, nil
		}

		// collections without any hazard code get a sheet with a single zero row
		tables := report.Pivot(records, ids, timebin.Labels(bins), "hazard_code")
		out := env.Config.OutputPath(opts.Output)
		if err := report.WriteWorkbook(out, tables); err != nil {
			return res, fmt.Errorf("write workbook: %w", err)
		}
		res.Outputs = append(res.Outputs, out)
		env.Logger.Info().Str("path", out).Int("sheets", len(tables)).Msg("Wrote workbook")

		return res, nil
	}
}
