// Package jobs composes the lister, partitioner, fetcher, dispatcher and
// exporters into the reporting jobs. Each job is one process run: fetch,
// aggregate, write, exit.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/batpad/Montandon-Data-Fetching-Examples/internal/config"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/cache"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/client"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/dispatch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/errlog"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/fetch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/logging"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/metrics"
)

// Env is everything a job run needs. One Env serves one run.
type Env struct {
	Config  *config.Config
	Client  *client.Client
	Fetcher *fetch.Fetcher

	// RunID tags every log line and error record of the run.
	RunID  string
	Logger zerolog.Logger

	// Now is the clock used to clip the final time bin.
	Now func() time.Time

	// Stdout receives console tables.
	Stdout io.Writer

	redis *redis.Client
}

// NewEnv builds the shared client, optional cache and fetcher from cfg.
func NewEnv(ctx context.Context, cfg *config.Config) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	runID := uuid.NewString()
	logger := logging.WithRun(logging.NewLogger("jobs"), runID)

	env := &Env{
		Config: cfg,
		RunID:  runID,
		Logger: logger,
		Now:    time.Now,
		Stdout: os.Stdout,
	}

	clientCfg := cfg.Client()
	if cfg.CacheTTL > 0 {
		if cfg.RedisAddr != "" {
			env.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := env.redis.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				env.redis.Close()
				return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
			}
			logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
		}
		clientCfg.Cache = cache.NewManager(env.redis, cfg.CacheSize, cfg.CacheTTL)
		logger.Info().
			Dur("ttl", cfg.CacheTTL).
			Bool("redis", env.redis != nil).
			Msg("Response cache enabled")
	}

	c, err := client.New(clientCfg)
	if err != nil {
		if env.redis != nil {
			env.redis.Close()
		}
		return nil, fmt.Errorf("create client: %w", err)
	}
	env.Client = c
	env.Fetcher = fetch.New(c, cfg.Fetch()).WithLogger(logging.WithRun(logging.NewLogger("fetcher"), runID))

	return env, nil
}

// Close releases the client and the Redis connection.
func (e *Env) Close() error {
	var errs []error
	if e.Client != nil {
		errs = append(errs, e.Client.Close())
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	return errors.Join(errs...)
}

// pool returns the dispatcher configuration for a job.
func (e *Env) pool(name string) dispatch.Config {
	cfg := dispatch.DefaultConfig()
	cfg.Name = name
	cfg.Workers = e.Config.Workers
	logger := e.Logger
	cfg.Logger = &logger
	return cfg
}

// openErrorLog opens (and truncates) the error log of one run.
func (e *Env) openErrorLog(name string) (*errlog.Writer, error) {
	return errlog.Open(e.Config.OutputPath(name), true)
}

// failure builds the error record of a task that gave up.
func (e *Env) failure(collection, period string, err error) errlog.Record {
	return errlog.Record{
		RunID:      e.RunID,
		Collection: collection,
		TimePeriod: period,
		Page:       fetch.FailedPage(err),
		ErrorClass: string(client.ClassOf(err)),
		Reason:     err.Error(),
	}
}

// Result describes a finished job run.
type Result struct {
	Job   string
	RunID string

	// Outputs lists the files written.
	Outputs []string

	// ErrorLog is the path of the run's error log.
	ErrorLog     string
	ErrorRecords int

	Tasks    dispatch.Summary
	Duration time.Duration
}

// Job is one reporting job.
type Job func(ctx context.Context, env *Env) (*Result, error)

// Run executes job, logs its outcome, records job metrics and writes the
// metrics textfile when one is configured.
func Run(ctx context.Context, env *Env, name string, job Job) (*Result, error) {
	logger := env.Logger.With().Str("job", name).Logger()
	logger.Info().Str("base_url", env.Config.BaseURL).Msg("Starting job")

	start := time.Now()
	res, err := job(ctx, env)
	if res == nil {
		res = &Result{}
	}
	res.Job = name
	res.RunID = env.RunID
	res.Duration = time.Since(start)

	metrics.ObserveRun(name, res.Duration, res.ErrorRecords, err)
	if merr := metrics.WriteTextfile(env.Config.MetricsFile); merr != nil {
		logger.Warn().Err(merr).Str("path", env.Config.MetricsFile).Msg("Failed to write metrics textfile")
	}

	if err != nil {
		logger.Error().Err(err).Dur("duration", res.Duration).Msg("Job failed")
		return res, err
	}

	event := logger.Info().
		Strs("outputs", res.Outputs).
		Int("tasks", res.Tasks.Total).
		Int("failed", res.Tasks.Failed).
		Int("error_records", res.ErrorRecords).
		Dur("duration", res.Duration)
	if res.ErrorRecords > 0 {
		event = event.Str("error_log", res.ErrorLog)
	}
	event.Msg("Job complete")

	return res, nil
}
