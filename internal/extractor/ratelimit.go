package extractor

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// domainLimiter paces outbound fetches per host with one token bucket each.
type domainLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
}

func newDomainLimiter(rps float64) *domainLimiter {
	return &domainLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
	}
}

func (d *domainLimiter) wait(ctx context.Context, host string) error {
	if d == nil || d.rps <= 0 {
		return nil
	}

	d.mu.Lock()
	limiter, ok := d.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(d.rps), 1)
		d.limiters[host] = limiter
	}
	d.mu.Unlock()

	return limiter.Wait(ctx)
}
