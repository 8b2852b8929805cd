package broker

import (
	"strconv"
	"sync"
	"time"

	"autotrade-core/pkg/logger"
)

// UsageTracker follows the request budget the venue reports in response headers.
type UsageTracker struct {
	used          int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	now           func() time.Time
	mu            sync.RWMutex
}

// NewUsageTracker creates a tracker for a budget of limit requests per resetInterval.
func NewUsageTracker(limit int, resetInterval time.Duration) *UsageTracker {
	return &UsageTracker{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		now:           time.Now,
	}
}

// UpdateFromHeader records the used count reported by the venue.
func (u *UsageTracker) UpdateFromHeader(headerValue string) {
	if headerValue == "" || u.limit <= 0 {
		return
	}
	used, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.now().Sub(u.lastReset) >= u.resetInterval {
		u.used = 0
		u.lastReset = u.now()
	}
	u.used = used

	pct := float64(u.used) / float64(u.limit) * 100
	log := logger.WithComponent("broker").WithFields(logger.Fields{"used": u.used, "limit": u.limit})
	if pct >= 95 {
		log.Warnf("request budget critical (%.1f%%)", pct)
	} else if pct >= 80 {
		log.Infof("request budget high (%.1f%%)", pct)
	}
}

// Usage returns current usage information.
func (u *UsageTracker) Usage() (used int, limit int, percentage float64) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.limit <= 0 || u.now().Sub(u.lastReset) >= u.resetInterval {
		return 0, u.limit, 0
	}
	return u.used, u.limit, float64(u.used) / float64(u.limit) * 100
}

// ShouldDelay reports whether the next request should back off.
func (u *UsageTracker) ShouldDelay() bool {
	_, _, pct := u.Usage()
	return pct >= 90
}
