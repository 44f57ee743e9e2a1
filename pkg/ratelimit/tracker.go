package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	stacThrottleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stac_throttle_wait_seconds",
		Help:    "Time requests spent waiting for the upstream throttle to clear",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 120},
	})

	stacThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stac_throttles_total",
		Help: "Total number of throttle responses (429/503) received",
	})
)

// Tracker holds the shared throttle state for all workers of a run.
type Tracker struct {
	mu     sync.Mutex
	state  State
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new throttle tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		now:    time.Now,
	}
}

// GetState returns a copy of the current state.
func (t *Tracker) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// UpdateFromResponse records a throttle response. Non-throttle statuses are
// ignored. The pause only ever extends, never shortens.
func (t *Tracker) UpdateFromResponse(status int, headers http.Header) {
	if !IsThrottleStatus(status) {
		return
	}

	now := t.now()
	pause, ok := ParseRetryAfter(headers.Get("Retry-After"), now)
	if !ok {
		pause = DefaultRetryAfter
	}

	t.mu.Lock()
	until := now.Add(pause)
	if until.After(t.state.BlockedUntil) {
		t.state.BlockedUntil = until
	}
	t.state.LastStatus = status
	t.state.LastUpdate = now
	t.mu.Unlock()

	stacThrottlesTotal.Inc()
	t.logger.Warn().
		Int("status", status).
		Dur("pause", pause).
		Msg("Upstream asked to slow down - pausing requests")
}

// Wait blocks until the throttle clears or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	wait := t.state.TimeUntilUnblocked(t.now())
	t.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	t.logger.Debug().Dur("wait", wait).Msg("Waiting for throttle to clear")
	stacThrottleWaitSeconds.Observe(wait.Seconds())

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("throttle wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Pacer spaces out consecutive calls by a fixed interval. A zero interval
// disables pacing.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewPacer creates a pacer that allows one call per interval.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Wait blocks until the next slot or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.interval <= 0 {
		return nil
	}

	p.mu.Lock()
	now := time.Now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.interval)
	p.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("pacer wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
