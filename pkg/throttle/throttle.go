// Package throttle spaces out requests to third-party origins. Mirrors are
// rate-limited and unfriendly to bursts, so every outgoing call to the same
// host goes through a shared per-origin limiter.
package throttle

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle keeps one token-bucket limiter per origin host
type Throttle struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a throttle admitting requests to each origin at the given rate
func New(limit rate.Limit, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to the origin of rawURL is allowed or the
// context is canceled
func (t *Throttle) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("throttle: bad url %q", rawURL)
	}

	t.mu.Lock()
	lim, ok := t.limiters[u.Host]
	if !ok {
		lim = rate.NewLimiter(t.limit, t.burst)
		t.limiters[u.Host] = lim
	}
	t.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("throttle %s: %w", u.Host, err)
	}
	return nil
}
