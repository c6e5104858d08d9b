package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/isdmx/coderun/metrics"
)

// Limiter admits requests under a global token bucket and a cap on
// executions in flight.
type Limiter struct {
	bucket *rate.Limiter
	slots  chan struct{}
}

// NewLimiter creates a Limiter. A non-positive rps disables the token bucket;
// maxConcurrent must be positive.
func NewLimiter(rps float64, burst, maxConcurrent int) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(limit, burst),
		slots:  make(chan struct{}, maxConcurrent),
	}
}

// Acquire reports whether a request may run now. Every successful Acquire
// must be paired with Release.
func (l *Limiter) Acquire() bool {
	if !l.bucket.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		metrics.RateLimitHits.Inc()
		return false
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	<-l.slots
}

// Handler rejects requests over the limits with 429.
func (l *Limiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Acquire() {
			return c.Status(fiber.StatusTooManyRequests).JSON(errorResponse{Detail: "Too many requests"})
		}
		defer l.Release()
		return c.Next()
	}
}
