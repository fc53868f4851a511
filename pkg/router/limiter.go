package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/txn2/room-engine/pkg/session"
)

// Limiter enforces a minimum interval between accepted messages per key.
// Rejected messages do not count, so the interval is measured from the last
// accepted message. It is safe for concurrent use and independent of the
// session table lock.
type Limiter struct {
	mu       sync.Mutex
	every    rate.Limit
	interval time.Duration
	limiters map[session.Key]*rate.Limiter
}

// NewLimiter creates a limiter. A zero interval accepts everything.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{
		every:    rate.Every(interval),
		interval: interval,
		limiters: make(map[session.Key]*rate.Limiter),
	}
}

// Allow reports whether a message for key arriving at now is accepted,
// recording it when it is.
func (l *Limiter) Allow(key session.Key, now time.Time) bool {
	if l.interval <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.every, 1)
		l.limiters[key] = lim
	}
	return lim.AllowN(now, 1)
}

// Prune forgets keys that have been quiet for at least the interval. A
// forgotten key behaves exactly like one that was never seen.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= 1 {
			delete(l.limiters, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
