package executor

import (
	"sync"
	"time"

	"github.com/techprocreative/fx-platform-windows-sub003/internal/types"
)

// rateLimiter enforces a sliding-window request cap. The window is
// computed from the timestamped admission history, not a fixed-epoch
// counter, so a burst at a window boundary cannot double the budget.
type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	history []time.Time

	now func() time.Time // test hook
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	return &rateLimiter{window: window, max: max, now: time.Now}
}

// Allow admits the request or returns a RateLimitError with a retry-after
// hint. Admitted requests are recorded immediately.
func (r *rateLimiter) Allow() error {
	if r.max <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)

	if len(r.history) >= r.max {
		retryAfter := r.history[0].Add(r.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &types.RateLimitError{
			Limit:      r.max,
			Window:     r.window,
			RetryAfter: retryAfter,
		}
	}
	r.history = append(r.history, now)
	return nil
}

// Remaining reports how many admissions are left in the current window.
func (r *rateLimiter) Remaining() int {
	if r.max <= 0 {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	return r.max - len(r.history)
}

func (r *rateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	idx := 0
	for idx < len(r.history) && !r.history[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		r.history = append(r.history[:0], r.history[idx:]...)
	}
}
