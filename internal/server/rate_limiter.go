package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter is a per-connection token bucket: burst frames at once,
// refilled evenly so that burst more are allowed every interval.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	every := rate.Every(interval / time.Duration(burst))
	return &rateLimiter{limiter: rate.NewLimiter(every, burst)}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}
