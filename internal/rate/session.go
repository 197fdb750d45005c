package rate

import (
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// SessionThrottle is an in-process token bucket per session ID, used to bound
// refresh and extend calls.
type SessionThrottle struct {
	mu       sync.Mutex
	limit    xrate.Limit
	burst    int
	limiters map[string]*xrate.Limiter
}

// NewSessionThrottle allows burst calls per session, refilled at one call per interval.
// A non-positive interval disables throttling.
func NewSessionThrottle(interval time.Duration, burst int) *SessionThrottle {
	if burst <= 0 {
		burst = 1
	}
	limit := xrate.Inf
	if interval > 0 {
		limit = xrate.Every(interval)
	}
	return &SessionThrottle{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*xrate.Limiter),
	}
}

// Allow reports whether a call for sessionID may proceed at now.
func (t *SessionThrottle) Allow(sessionID string, now time.Time) bool {
	if t == nil || t.limit == xrate.Inf {
		return true
	}
	t.mu.Lock()
	lim, ok := t.limiters[sessionID]
	if !ok {
		lim = xrate.NewLimiter(t.limit, t.burst)
		t.limiters[sessionID] = lim
	}
	t.mu.Unlock()
	return lim.AllowN(now, 1)
}

// Forget drops the bucket for sessionID.
func (t *SessionThrottle) Forget(sessionID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.limiters, sessionID)
	t.mu.Unlock()
}

// Len returns the number of tracked buckets.
func (t *SessionThrottle) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
