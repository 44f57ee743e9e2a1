package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/fetch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/timebin"
)

// binTask is one (collection, time bin) fetch task.
type binTask struct {
	Collection string
	Bin        timebin.Bin
}

// grid returns one task per collection and bin, collection-major.
func grid(collections []string, bins []timebin.Bin) []binTask {
	tasks := make([]binTask, 0, len(collections)*len(bins))
	for _, c := range collections {
		for _, b := range bins {
			tasks = append(tasks, binTask{Collection: c, Bin: b})
		}
	}
	return tasks
}

// partition evaluates policy at env's clock.
func (e *Env) partition(policy timebin.Policy) ([]timebin.Bin, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	bins, err := policy.Bins(now())
	if err != nil {
		return nil, fmt.Errorf("partition time: %w", err)
	}
	e.Logger.Info().
		Int("bins", len(bins)).
		Str("first", bins[0].Label).
		Str("last", bins[len(bins)-1].Label).
		Msg("Generated time bins")
	return bins, nil
}

// listIDs lists the collections accepted by filter.
func (e *Env) listIDs(ctx context.Context, filter fetch.Filter) ([]string, error) {
	collections, err := e.Fetcher.ListCollections(ctx, filter)
	if err != nil {
		return nil, err
	}
	return fetch.IDs(collections), nil
}
