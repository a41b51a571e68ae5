// Package ratelimit keeps one token bucket per API client.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages rate limits for multiple clients
type Limiter struct {
	limiters map[string]*entry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	perHour  int
	idle     time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing requestsPerHour per client with the
// given burst
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:    burst,
		perHour:  requestsPerHour,
		idle:     time.Hour,
		now:      time.Now,
	}
}

// PerHour is the configured hourly allowance
func (l *Limiter) PerHour() int {
	return l.perHour
}

func (l *Limiter) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.limiters[client]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[client] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Allow reports whether client may make a request now and consumes a token
// if so. The second value is the tokens left afterwards.
func (l *Limiter) Allow(client string) (bool, int) {
	lim := l.get(client)
	ok := lim.Allow()
	left := int(lim.Tokens())
	if left < 0 {
		left = 0
	}
	return ok, left
}

// Prune drops clients idle for longer than an hour and returns how many
// were removed
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	n := 0
	for k, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
			n++
		}
	}
	return n
}

// Clients is the number of tracked clients
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
