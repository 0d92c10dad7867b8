package signal

import (
	"sync"
	"time"

	"github.com/dkeye/sfu/internal/domain"
)

// Key identifies whose offers are counted.
type Key struct {
	SessionID  domain.SessionID
	EndpointID domain.EndpointID
}

// OfferRateLimiter is a sliding window limiter shared by every signaling
// transport.
type OfferRateLimiter struct {
	mu       sync.Mutex
	history  map[Key][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
	swept    time.Time
}

func NewOfferRateLimiter(limit int, interval time.Duration) *OfferRateLimiter {
	return &OfferRateLimiter{
		history:  make(map[Key][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *OfferRateLimiter) Allow(k Key) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)
	if now.Sub(rl.swept) >= rl.interval {
		rl.sweep(windowStart)
		rl.swept = now
	}

	attempts := rl.history[k]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[k] = fresh
		return false
	}

	rl.history[k] = append(fresh, now)
	return true
}

// sweep drops keys with no attempt inside the window, so the map only
// holds keys seen during the last interval or so.
func (rl *OfferRateLimiter) sweep(windowStart time.Time) {
	for k, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, k)
		}
	}
}

// Len is the number of keys currently tracked.
func (rl *OfferRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.history)
}

// Forget drops the history of k, e.g. once the endpoint left.
func (rl *OfferRateLimiter) Forget(k Key) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, k)
}
