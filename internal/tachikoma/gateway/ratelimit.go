package gateway

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the maximum number of completion calls allowed per
	// channel per window when no explicit limit is configured.
	DefaultRateLimit = 10

	// defaultRateLimitWindow is the sliding window duration.
	defaultRateLimitWindow = time.Minute
)

// RateLimiter enforces a per-channel sliding-window limit on completion
// calls. It holds call timestamps within the current window per channel and
// prunes stale entries on every Allow call, keeping memory bounded to
// O(limit) entries per active channel.
//
// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	history map[string][]time.Time // channelID → call timestamps in window
}

// NewRateLimiter returns a RateLimiter that allows at most limit calls per
// channel within window. Non-positive arguments use the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		history: make(map[string][]time.Time),
	}
}

// Allow reports whether the channel may make another completion call and, if
// so, records the call.
func (r *RateLimiter) Allow(channelID string) bool {
	return r.allowAt(channelID, time.Now())
}

// allowAt is the time-injectable core of Allow (for testing).
func (r *RateLimiter) allowAt(channelID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	existing := r.history[channelID]
	valid := existing[:0] // reuse backing array
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= r.limit {
		r.history[channelID] = valid
		return false
	}

	r.history[channelID] = append(valid, now)
	return true
}
