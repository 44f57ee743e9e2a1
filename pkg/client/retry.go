package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter is the +/- fraction of randomness applied to each delay (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration: three attempts,
// delay doubling from one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// ForErrorClass returns the retry configuration for an error class, derived
// from the base configuration.
func (rc RetryConfig) ForErrorClass(errorClass ErrorClass) RetryConfig {
	cfg := rc
	switch errorClass {
	case ErrorClassRateLimit:
		// 429 - longer backoff on top of any Retry-After pause
		cfg.InitialBackoff = rc.InitialBackoff * 5
		cfg.MaxBackoff = rc.MaxBackoff * 2
	case ErrorClassNetwork:
		cfg.InitialBackoff = rc.InitialBackoff * 2
	}
	if cfg.MaxBackoff > 0 && cfg.InitialBackoff > cfg.MaxBackoff {
		cfg.InitialBackoff = cfg.MaxBackoff
	}
	return cfg
}

// Backoff returns the un-jittered delay after the given failed attempt (1-based).
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	mult := rc.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}

	backoff := float64(rc.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= mult
		if rc.MaxBackoff > 0 && backoff > float64(rc.MaxBackoff) {
			return rc.MaxBackoff
		}
	}

	d := time.Duration(backoff)
	if rc.MaxBackoff > 0 && d > rc.MaxBackoff {
		d = rc.MaxBackoff
	}
	return d
}

func (rc RetryConfig) jittered(d time.Duration) time.Duration {
	if rc.Jitter <= 0 || d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 - rc.Jitter + rand.Float64()*2*rc.Jitter))
}

// retryWithBackoff runs fn until it succeeds, returns a non-retriable error, or
// MaxAttempts is reached. The class of each failure is taken from the
// STACError in its chain. Context cancellation stops the loop immediately.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func(attempt int) error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var lastClass ErrorClass

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		if errors.Is(err, ErrContextCancelled) {
			return err
		}

		lastErr = err
		lastClass = ClassOf(err)

		if !shouldRetry(lastClass) {
			return err
		}

		if attempt >= maxAttempts {
			break
		}

		stacRetriesTotal.WithLabelValues(string(lastClass)).Inc()

		delay := cfg.jittered(cfg.ForErrorClass(lastClass).Backoff(attempt))
		stacRetryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(delay.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(lastClass)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Request failed, retrying after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	stacRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	logger.Warn().
		Str("error_class", string(lastClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
