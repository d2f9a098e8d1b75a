// Package ratelimit implements the per-caller request guard applied before
// any sync or link attempt.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit describes an allowance of Events per Per.
type Limit struct {
	Events int
	Per    time.Duration
}

// Guard keeps one token bucket per caller key. Buckets are created lazily
// and kept for the life of the process; caller keys are user ids, so the
// map stays small.
type Guard struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewGuard() *Guard {
	return &Guard{buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether the caller may proceed under the given limit.
// The first call for a key creates a full bucket.
func (g *Guard) Allow(key string, l Limit) bool {
	if l.Events <= 0 || l.Per <= 0 {
		return true
	}

	g.mu.Lock()
	lim, ok := g.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.Per/time.Duration(l.Events)), l.Events)
		g.buckets[key] = lim
	}
	g.mu.Unlock()

	return lim.Allow()
}
