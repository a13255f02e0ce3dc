package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one token bucket per key. Entries idle for longer
// than ttl are dropped by sweep.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &limiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   limit,
		burst: burst,
		ttl:   10 * time.Minute,
		now:   time.Now,
	}
}

func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	now := p.now()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.rps, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	p.mu.Unlock()
	return e.l.AllowN(now, 1)
}

func (p *limiterPool) sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.ttl)
	removed := 0
	for key, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, key)
			removed++
		}
	}
	return removed
}

// run sweeps every period until done is closed.
func (p *limiterPool) run(period time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}
