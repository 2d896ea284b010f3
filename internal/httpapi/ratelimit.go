package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// playerLimiter keeps one token bucket per player. A zero rate disables limiting.
type playerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newPlayerLimiter(rps float64, burst int) *playerLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &playerLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *playerLimiter) allow(player string) bool {
	if l.rps <= 0 {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[player]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[player] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func (l *playerLimiter) forget(player string) {
	l.mu.Lock()
	delete(l.limiters, player)
	l.mu.Unlock()
}
