package validator

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UploadLimiter applies a per-user token bucket to upload initiation.
// Exceeding the limit yields a retry-after hint rather than an error.
type UploadLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewUploadLimiter allows ratePerMin actions per minute per user with the
// given burst.
func NewUploadLimiter(ratePerMin int, burst int) *UploadLimiter {
	if ratePerMin <= 0 {
		ratePerMin = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &UploadLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(ratePerMin) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether the user may initiate an upload now. When denied,
// retryAfter is the wait before the next attempt can succeed.
func (l *UploadLimiter) Allow(userID string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	lim, exists := l.limiters[userID]
	if !exists {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()

	res := lim.Reserve()
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}
