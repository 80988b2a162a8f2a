// Package ratelimit implements a sliding-window admission limiter.
// Thread-safe. No background goroutines — the window is pruned lazily on
// each Allow call.
package ratelimit

import (
	"sync"
	"time"

	"github.com/fenceio/fence/internal/errs"
)

// Config configures a sliding-window limiter.
type Config struct {
	MaxCalls int           // Invocations permitted per window. 0 = unlimited.
	Window   time.Duration // Window length. 0 = one minute.
}

const defaultWindow = time.Minute

// Limiter admits at most MaxCalls invocations per rolling window. Each
// limiter guards one session; sessions never share quota.
type Limiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    []time.Time // admission timestamps, oldest first

	now func() time.Time // test seam
}

// NewLimiter creates a limiter. If MaxCalls is 0, Allow always succeeds.
func NewLimiter(cfg Config) *Limiter {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &Limiter{
		maxCalls: cfg.MaxCalls,
		window:   window,
		now:      time.Now,
	}
}

// Allow records one invocation if the window has room, or fails with a
// rate-limit error. The check and the record are a single atomic step, so
// concurrent retried calls within a session cannot both sneak under the cap.
func (l *Limiter) Allow() error {
	if l.maxCalls <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Drop timestamps that fell out of the window. The slice is ordered, so
	// everything after the first surviving entry survives too.
	keep := 0
	for keep < len(l.calls) && !l.calls[keep].After(cutoff) {
		keep++
	}
	l.calls = append(l.calls[:0], l.calls[keep:]...)

	if len(l.calls) >= l.maxCalls {
		return errs.New(errs.RateLimitExceeded, "rate limit exceeded: %d calls per %s", l.maxCalls, l.window)
	}
	l.calls = append(l.calls, now)
	return nil
}
