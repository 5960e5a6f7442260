package fetcher

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter paces requests per hostname with a token bucket. Every
// monitored target on the same host shares one bucket, so adding targets
// never multiplies request pressure on a single site.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewHostLimiter creates a limiter allowing rps requests per second per host.
func NewHostLimiter(rps float64) *HostLimiter {
	if rps <= 0 {
		rps = 0.5
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    1,
	}
}

// Wait blocks until the host's bucket permits a request, or the context is
// cancelled. Unparseable URLs pass through; hostname validation happens
// before any limiter is consulted.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}

	h.mu.Lock()
	limiter, exists := h.limiters[u.Hostname()]
	if !exists {
		limiter = rate.NewLimiter(h.rps, h.burst)
		h.limiters[u.Hostname()] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}

// SetHostRate overrides the rate for a single host. Used by the solution
// engine when a mitigation slows one platform without touching the other.
func (h *HostLimiter) SetHostRate(hostname string, rps float64) {
	if rps <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if limiter, exists := h.limiters[hostname]; exists {
		limiter.SetLimit(rate.Limit(rps))
	} else {
		h.limiters[hostname] = rate.NewLimiter(rate.Limit(rps), h.burst)
	}
}
