package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
)

// Limiter is an in-process sliding-window rate limiter keyed by caller and
// path. Counts live in this process only; in a multi-instance deployment
// each instance enforces its own window, which is accepted for the admin
// endpoints this guards.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string][]time.Time
	stop    chan struct{}
}

// New creates a limiter allowing limit calls per window per key. The
// background sweep keeps idle keys from accumulating.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string][]time.Time),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow records an attempt for the key and reports whether it is within
// the limit. The second return is how long until the oldest attempt falls
// out of the window, for the Retry-After header.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.buckets[key][:0]
	for _, t := range l.buckets[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.buckets[key] = kept
		return false, kept[0].Sub(cutoff)
	}

	l.buckets[key] = append(kept, now)
	return true, 0
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	close(l.stop)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.window)
			l.mu.Lock()
			for key, times := range l.buckets {
				if len(times) == 0 || !times[len(times)-1].After(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Middleware limits requests per (caller, path). Unauthenticated requests
// fall back to the client IP as the caller key.
func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := c.IP()
		if p, ok := c.Locals("principal").(*kernel.Principal); ok && p != nil {
			caller = p.IdentityID.String()
		}

		ok, retryAfter := l.Allow(caller + ":" + c.Path())
		if !ok {
			seconds := int(retryAfter.Seconds()) + 1
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
			return errx.RateLimited("Too many attempts, slow down").
				WithDetail("retry_after_seconds", seconds)
		}

		return c.Next()
	}
}
