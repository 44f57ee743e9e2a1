// Package dispatch runs independent tasks on a bounded worker pool.
//
// Tasks are fed through a queue channel to a fixed number of workers. Each
// worker sends its result on a results channel; a single reducer (the caller's
// callback) consumes results in completion order, so reducers need no locking.
// A failing or panicking task never cancels its siblings.
//
// Example usage:
//
//	summary := dispatch.Run(ctx, dispatch.DefaultConfig(), tasks,
//		func(ctx context.Context, t task) (int, error) { return fetcher.CountMatched(ctx, t.id, &t.bin) },
//		func(r dispatch.Result[task, int]) { rows = append(rows, ...) })
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrPanic wraps a panic recovered from a task.
var ErrPanic = errors.New("task panicked")

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_tasks_total",
		Help: "Total dispatched tasks by pool and outcome",
	}, []string{"pool", "status"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_task_duration_seconds",
		Help:    "Task duration in seconds by pool",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"pool"})
)

// Config holds worker pool configuration.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// Workers is the maximum number of tasks running at once.
	Workers int

	// ProgressEvery logs progress after every N completed tasks (1 = every task).
	ProgressEvery int

	// Logger is used for progress events. Defaults to a "dispatch" component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Name:          "default",
		Workers:       10,
		ProgressEvery: 1,
	}
}

// Result is the outcome of one task.
type Result[T, R any] struct {
	// Index is the task's position in the submitted slice.
	Index int
	Task  T
	Value R
	Err   error
}

// Summary describes a finished run.
type Summary struct {
	Total     int
	Completed int
	Failed    int
	Duration  time.Duration
}

type job[T any] struct {
	index int
	task  T
}

// Run executes fn for every task on cfg.Workers workers and calls reduce once
// per task, from the calling goroutine, in completion order. Run returns after
// every task has been reduced. If ctx is cancelled, tasks not yet started are
// reported with ctx's error.
func Run[T, R any](ctx context.Context, cfg Config, tasks []T, fn func(context.Context, T) (R, error), reduce func(Result[T, R])) Summary {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	logger := logging.NewLogger("dispatch")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("pool", cfg.Name).Logger()

	start := time.Now()
	total := len(tasks)
	summary := Summary{Total: total}
	if total == 0 {
		return summary
	}

	workers := cfg.Workers
	if workers > total {
		workers = total
	}

	logger.Info().
		Int("tasks", total).
		Int("workers", workers).
		Msg("Starting dispatch")

	queue := make(chan job[T], total)
	results := make(chan Result[T, R], workers)

	for i, t := range tasks {
		queue <- job[T]{index: i, task: t}
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(ctx, cfg.Name, queue, results, fn, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		summary.Completed++
		if r.Err != nil {
			summary.Failed++
		}

		if reduce != nil {
			reduce(r)
		}

		if summary.Completed%cfg.ProgressEvery == 0 || summary.Completed == total {
			logger.Info().
				Int("completed", summary.Completed).
				Int("total", total).
				Float64("progress_pct", float64(summary.Completed)/float64(total)*100).
				Msg("Dispatch progress")
		}
	}

	summary.Duration = time.Since(start)
	logger.Info().
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Dispatch complete")

	return summary
}

// worker processes tasks from the queue until it is drained.
func worker[T, R any](ctx context.Context, pool string, queue <-chan job[T], results chan<- Result[T, R], fn func(context.Context, T) (R, error), wg *sync.WaitGroup) {
	defer wg.Done()

	for j := range queue {
		r := Result[T, R]{Index: j.index, Task: j.task}

		if err := ctx.Err(); err != nil {
			r.Err = err
		} else {
			started := time.Now()
			r.Value, r.Err = call(ctx, j.task, fn)
			taskDuration.WithLabelValues(pool).Observe(time.Since(started).Seconds())
		}

		status := "ok"
		if r.Err != nil {
			status = "failed"
		}
		tasksTotal.WithLabelValues(pool, status).Inc()

		results <- r
	}
}

// call runs fn and converts a panic into an error.
func call[T, R any](ctx context.Context, task T, fn func(context.Context, T) (R, error)) (value R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, p, debug.Stack())
		}
	}()
	return fn(ctx, task)
}
