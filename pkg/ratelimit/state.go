// Package ratelimit gates STAC requests shared by all workers of a run. It
// honours Retry-After on 429/503 responses and paces slow scan loops.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the server asks us to back off without saying for how long.
const (
	// DefaultRetryAfter is used for 429/503 responses without a Retry-After header.
	DefaultRetryAfter = 5 * time.Second

	// MaxRetryAfter caps the pause a single response can impose.
	MaxRetryAfter = 2 * time.Minute
)

// State represents the current throttle state of the upstream API.
type State struct {
	// BlockedUntil is when requests may resume. Zero means not blocked.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastStatus is the last status code that updated the state.
	LastStatus int `json:"last_status"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// IsBlocked reports whether requests must wait at time now.
func (s *State) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// TimeUntilUnblocked returns the remaining pause, or 0 when not blocked.
func (s *State) TimeUntilUnblocked(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsThrottleStatus reports whether a status code asks the client to slow down.
func IsThrottleStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// ParseRetryAfter parses a Retry-After header given either as delta-seconds
// or as an HTTP date. ok is false when the header is absent or invalid.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return clamp(time.Duration(secs) * time.Second), true
	}

	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return clamp(d), true
	}

	return 0, false
}

func clamp(d time.Duration) time.Duration {
	if d > MaxRetryAfter {
		return MaxRetryAfter
	}
	return d
}
