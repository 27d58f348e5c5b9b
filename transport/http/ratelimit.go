package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP
type IPRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	rate       rate.Limit
	burst      int

	cleanupTTL  time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// NewIPRateLimiter creates a limiter allowing rps requests per second per IP
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		rate:       rate.Limit(rps),
		burst:      burst,
		cleanupTTL: 10 * time.Minute,
		now:        time.Now,
	}
}

// Allow reports whether a request from ip may proceed
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastCleanup) > l.cleanupTTL {
		l.cleanup(now)
	}
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = limiter
	}
	l.lastAccess[ip] = now
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Len returns the number of tracked IPs
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *IPRateLimiter) cleanup(now time.Time) {
	for ip, seen := range l.lastAccess {
		if now.Sub(seen) > l.cleanupTTL {
			delete(l.limiters, ip)
			delete(l.lastAccess, ip)
		}
	}
	l.lastCleanup = now
}
