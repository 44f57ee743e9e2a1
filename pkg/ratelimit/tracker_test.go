package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTracker_UpdateFromResponse(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		status      int
		retryAfter  string
		wantBlocked time.Duration
	}{
		{"ok is ignored", http.StatusOK, "10", 0},
		{"server error is ignored", http.StatusInternalServerError, "10", 0},
		{"429 with header", http.StatusTooManyRequests, "10", 10 * time.Second},
		{"503 without header", http.StatusServiceUnavailable, "", DefaultRetryAfter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(zerolog.Nop())
			tracker.now = func() time.Time { return now }

			headers := http.Header{}
			if tt.retryAfter != "" {
				headers.Set("Retry-After", tt.retryAfter)
			}
			tracker.UpdateFromResponse(tt.status, headers)

			state := tracker.GetState()
			if got := state.TimeUntilUnblocked(now); got != tt.wantBlocked {
				t.Errorf("blocked for %v, want %v", got, tt.wantBlocked)
			}
		})
	}
}

func TestTracker_PauseOnlyExtends(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(zerolog.Nop())
	tracker.now = func() time.Time { return now }

	long := http.Header{"Retry-After": []string{"30"}}
	short := http.Header{"Retry-After": []string{"2"}}
	tracker.UpdateFromResponse(http.StatusTooManyRequests, long)
	tracker.UpdateFromResponse(http.StatusTooManyRequests, short)

	state := tracker.GetState()
	if got := state.TimeUntilUnblocked(now); got != 30*time.Second {
		t.Errorf("blocked for %v, want 30s", got)
	}
}

func TestTracker_Wait(t *testing.T) {
	tracker := NewTracker(zerolog.Nop())

	// Not blocked: returns immediately.
	start := time.Now()
	if err := tracker.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Wait should not block when unthrottled")
	}

	tracker.mu.Lock()
	tracker.state.BlockedUntil = time.Now().Add(100 * time.Millisecond)
	tracker.mu.Unlock()

	start = time.Now()
	if err := tracker.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Wait returned after %v, want >= ~100ms", elapsed)
	}
}

func TestTracker_WaitCancelled(t *testing.T) {
	tracker := NewTracker(zerolog.Nop())
	tracker.mu.Lock()
	tracker.state.BlockedUntil = time.Now().Add(time.Hour)
	tracker.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tracker.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPacer_Spacing(t *testing.T) {
	pacer := NewPacer(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := pacer.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	// First call is immediate, the next three wait one interval each.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("4 paced calls took %v, want >= ~90ms", elapsed)
	}
}

func TestPacer_Disabled(t *testing.T) {
	var nilPacer *Pacer
	if err := nilPacer.Wait(context.Background()); err != nil {
		t.Errorf("nil pacer Wait: %v", err)
	}
	if err := NewPacer(0).Wait(context.Background()); err != nil {
		t.Errorf("zero pacer Wait: %v", err)
	}
}
