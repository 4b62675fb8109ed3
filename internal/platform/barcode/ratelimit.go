package barcode

import (
	"sync"
	"time"
)

// SlidingWindowLimiter caps requests per key over a rolling window. Each
// key holds a timestamp list pruned on every check, matching the scanner
// polling pattern this endpoint serves: bursts from one client, long idle
// gaps between clients.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time
}

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		window:  window,
		limit:   limit,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
}

// Allow records the request when under the cap and reports whether the
// caller may proceed.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.buckets[key]
	alive := bucket[:0]
	for _, ts := range bucket {
		if !ts.Before(cutoff) {
			alive = append(alive, ts)
		}
	}
	if len(alive) >= l.limit {
		l.buckets[key] = alive
		return false
	}
	l.buckets[key] = append(alive, now)
	return true
}
