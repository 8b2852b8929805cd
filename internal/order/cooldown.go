package order

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCooldown is the minimum spacing of orders on one (account, instrument).
const DefaultCooldown = 30 * time.Minute

// Cooldown rate-limits orders per (account, instrument) with one token per window.
// It is shared by all sessions so a restarted session cannot bypass it.
type Cooldown struct {
	window   time.Duration
	now      func() time.Time
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewCooldown creates a cooldown of window, evaluated at now().
func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Cooldown{window: window, now: now, limiters: make(map[string]*rate.Limiter)}
}

func cooldownKey(accountID, code string) string {
	return accountID + "|" + code
}

func (c *Cooldown) limiter(accountID, code string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cooldownKey(accountID, code)
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.window), 1)
		c.limiters[key] = l
	}
	return l
}

// Allow consumes the pair's token when available.
func (c *Cooldown) Allow(accountID, code string) bool {
	return c.limiter(accountID, code).AllowN(c.now(), 1)
}

// Mark starts a fresh window for the pair at now, e.g. after a forced exit.
func (c *Cooldown) Mark(accountID, code string) {
	l := rate.NewLimiter(rate.Every(c.window), 1)
	l.AllowN(c.now(), 1)
	c.mu.Lock()
	c.limiters[cooldownKey(accountID, code)] = l
	c.mu.Unlock()
}

// Release gives the pair's window back, for orders that never reached the venue.
func (c *Cooldown) Release(accountID, code string) {
	c.mu.Lock()
	delete(c.limiters, cooldownKey(accountID, code))
	c.mu.Unlock()
}

// Window returns the configured cooldown.
func (c *Cooldown) Window() time.Duration {
	return c.window
}
