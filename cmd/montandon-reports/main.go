package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/batpad/Montandon-Data-Fetching-Examples/internal/config"
	"github.com/batpad/Montandon-Data-Fetching-Examples/internal/jobs"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/logging"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/timebin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries the configuration shared by every subcommand.
type app struct {
	cfg *config.Config

	// global flag values, applied over the environment when set
	baseURL     string
	workers     int
	maxAttempts int
	outputDir   string
	metricsFile string
	cacheTTL    time.Duration
	redisAddr   string
	logLevel    string
	logPretty   bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "montandon-reports",
		Short: "Reporting jobs over the Montandon STAC API",
		Long: "Counts events across Montandon STAC collections and time periods and exports the results " +
			"to xlsx workbooks and CSV files, or renders a hazard track as an animated GIF.\n\n" +
			"Settings are read from MONTANDON_* environment variables; flags override them.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.baseURL, "base-url", "", "STAC API root (env MONTANDON_BASE_URL)")
	flags.IntVarP(&a.workers, "workers", "w", 0, "Concurrent requests (env MONTANDON_WORKERS, default 10)")
	flags.IntVar(&a.maxAttempts, "max-attempts", 0, "Attempts per request (env MONTANDON_MAX_ATTEMPTS, default 3)")
	flags.StringVarP(&a.outputDir, "output-dir", "o", "", "Directory for output files (env MONTANDON_OUTPUT_DIR)")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile when done")
	flags.DurationVar(&a.cacheTTL, "cache-ttl", 0, "Cache responses for this long, 0 disables (env MONTANDON_CACHE_TTL)")
	flags.StringVar(&a.redisAddr, "redis-addr", "", "Share the response cache through Redis at this address")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	flags.BoolVar(&a.logPretty, "log-pretty", true, "Human-readable console logs instead of JSON")

	root.AddCommand(
		a.eventsByYearCmd(),
		a.eventsPerCollectionCmd(),
		a.hazardsByPeriodCmd(),
		a.countriesByChunkCmd(),
		a.trackGIFCmd(),
	)
	return root
}

// load reads the environment, applies changed flags and sets up logging.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = a.baseURL
	}
	if flags.Changed("workers") {
		cfg.Workers = a.workers
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = a.maxAttempts
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = a.outputDir
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = a.metricsFile
	}
	if flags.Changed("cache-ttl") {
		cfg.CacheTTL = a.cacheTTL
	}
	if flags.Changed("redis-addr") {
		cfg.RedisAddr = a.redisAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-pretty") {
		cfg.LogPretty = a.logPretty
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := cfg.Logging()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)

	a.cfg = cfg
	return nil
}

// run executes one job with a fresh environment.
func (a *app) run(cmd *cobra.Command, name string, job jobs.Job) error {
	env, err := jobs.NewEnv(cmd.Context(), a.cfg)
	if err != nil {
		return err
	}
	defer env.Close()
	env.Stdout = cmd.OutOrStdout()

	_, err = jobs.Run(cmd.Context(), env, name, job)
	return err
}

func (a *app) eventsByYearCmd() *cobra.Command {
	opts := jobs.DefaultEventsByYearOptions()

	cmd := &cobra.Command{
		Use:   "events-by-year",
		Short: "Count items of every event collection per century and half-century",
		Long: "Lists collections with the event role and counts their items in 100-year bins from 1600 " +
			"to 1799 and 50-year bins from 1800 to now. Writes one workbook sheet per collection.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, "events-by-year", jobs.EventsByYear(opts))
		},
	}
	cmd.Flags().StringVar(&opts.Output, "output", opts.Output, "Workbook file name")
	cmd.Flags().StringVar(&opts.ErrorLog, "error-log", opts.ErrorLog, "Error log file name")
	return cmd
}

func (a *app) eventsPerCollectionCmd() *cobra.Command {
	opts := jobs.DefaultEventsPerCollectionOptions()
	var noManual bool

	cmd := &cobra.Command{
		Use:   "events-per-collection",
		Short: "Count the total items of every collection",
		Long: "Counts each collection from its monty:count summary, then numberMatched, and as a last " +
			"resort by paging through every item. Prints a table and writes a CSV sorted by count.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noManual {
				a.cfg.ManualCount = false
			}
			return a.run(cmd, "events-per-collection", jobs.EventsPerCollection(opts))
		},
	}
	cmd.Flags().BoolVar(&noManual, "no-manual-count", false, "Count 0 instead of paging through collections without a count")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Do not print the summary table")
	cmd.Flags().StringVar(&opts.Output, "output", opts.Output, "CSV file name")
	cmd.Flags().StringVar(&opts.ErrorLog, "error-log", opts.ErrorLog, "Error log file name")
	return cmd
}

func (a *app) hazardsByPeriodCmd() *cobra.Command {
	opts := jobs.DefaultHazardsByPeriodOptions()
	startYear, interval := 1800, 50

	cmd := &cobra.Command{
		Use:   "hazards-by-period",
		Short: "Tally hazard codes of every -events collection per period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Policy = timebin.Fixed(startYear, interval)
			return a.run(cmd, "hazards-by-period", jobs.HazardsByPeriod(opts))
		},
	}
	cmd.Flags().IntVar(&startYear, "start-year", startYear, "First year of the first period")
	cmd.Flags().IntVar(&interval, "interval", interval, "Years per period")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", opts.PageSize, "Items per page")
	cmd.Flags().StringVar(&opts.Output, "output", opts.Output, "Workbook file name")
	cmd.Flags().StringVar(&opts.ErrorLog, "error-log", opts.ErrorLog, "Error log file name")
	return cmd
}

func (a *app) countriesByChunkCmd() *cobra.Command {
	opts := jobs.DefaultCountriesByChunkOptions()
	startYear, chunkYears := 1934, 5

	cmd := &cobra.Command{
		Use:   "countries-by-chunk",
		Short: "Tally country codes of one collection in multi-year chunks",
		Long: "Splits the time since the start year into chunks of 365-day years and tallies " +
			"monty:country_codes of every item in parallel. Writes a CSV sorted by count.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Policy = timebin.Chunked(startYear, chunkYears)
			return a.run(cmd, "countries-by-chunk", jobs.CountriesByChunk(opts))
		},
	}
	cmd.Flags().StringVarP(&opts.Collection, "collection", "c", opts.Collection, "Collection to tally")
	cmd.Flags().IntVar(&startYear, "start-year", startYear, "First year of the first chunk")
	cmd.Flags().IntVar(&chunkYears, "chunk-years", chunkYears, "Years per chunk")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", opts.PageSize, "Items per page")
	cmd.Flags().StringVar(&opts.Output, "output", "", "CSV file name (default derived from the collection)")
	cmd.Flags().StringVar(&opts.ErrorLog, "error-log", "", "Error log file name (default derived from the collection)")
	return cmd
}

func (a *app) trackGIFCmd() *cobra.Command {
	opts := jobs.DefaultTrackGIFOptions()

	cmd := &cobra.Command{
		Use:   "track-gif",
		Short: "Render a hazard track as an animated GIF",
		Long: "Loads hazard items from a collection (optionally filtered by datetime and monty:corr_id) " +
			"or from a GeoJSON file, and renders one frame per point coloured by Saffir-Simpson category.",
		Example: "  montandon-reports track-gif -c gdacs-hazards --corr-id beryl --datetime 2024-06-28T00:00:00Z/2024-07-11T00:00:00Z\n" +
			"  montandon-reports track-gif --input beryl.geojson --fps 3",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Input == "" && opts.Collection == "" {
				return fmt.Errorf("--collection or --input is required")
			}
			return a.run(cmd, "track-gif", jobs.TrackGIF(opts))
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.Collection, "collection", "c", "", "Collection holding the hazard items")
	flags.StringVarP(&opts.Input, "input", "i", "", "GeoJSON FeatureCollection to render instead of querying the API")
	flags.StringVar(&opts.Datetime, "datetime", "", "STAC datetime or interval")
	flags.StringVar(&opts.CorrID, "corr-id", "", "Keep only items with this monty:corr_id")
	flags.IntVar(&opts.PageSize, "page-size", opts.PageSize, "Items per page")
	flags.StringVar(&opts.Output, "output", opts.Output, "GIF file name")
	flags.StringVar(&opts.Render.Title, "title", opts.Render.Title, "Plot title")
	flags.IntVar(&opts.Render.FPS, "fps", opts.Render.FPS, "Frames per second")
	flags.IntVar(&opts.Render.Width, "width", opts.Render.Width, "Frame width in pixels")
	flags.IntVar(&opts.Render.Height, "height", opts.Render.Height, "Frame height in pixels")
	return cmd
}
