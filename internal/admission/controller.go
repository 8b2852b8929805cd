// Package admission decides whether new orders may be sent to a market segment.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/cache"
	"autotrade-core/pkg/logger"
)

// ErrAdmissionDenied means the segment is closed; callers skip, it is not a failure.
var ErrAdmissionDenied = errors.New("admission denied: market closed")

// Source tells where a verdict came from.
type Source string

const (
	SourceAuthoritative Source = "AUTHORITATIVE"
	SourceHeuristic     Source = "HEURISTIC"
	SourceError         Source = "ERROR"
)

// MarketStatus is one admission verdict.
type MarketStatus struct {
	Segment broker.Segment `json:"segment"`
	IsOpen  bool           `json:"is_open"`
	AsOf    time.Time      `json:"as_of"`
	Source  Source         `json:"source"`
}

// Options tune the controller.
type Options struct {
	// TTL of authoritative verdicts.
	TTL time.Duration
	// HeuristicTTL is shorter so the authority is asked again soon.
	HeuristicTTL time.Duration
	// Timeout bounds one authoritative query.
	Timeout time.Duration
	Now     func() time.Time
}

// Controller resolves MarketStatus: fresh cache, then the authoritative clock,
// then the calendar heuristic, and otherwise a closed ERROR verdict.
type Controller struct {
	authority broker.MarketClock
	calendar  *Calendar
	cache     *cache.ShardedCache[MarketStatus]
	group     singleflight.Group
	opts      Options
}

// NewController builds a controller. authority may be nil.
func NewController(authority broker.MarketClock, calendar *Calendar, opts Options) *Controller {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.HeuristicTTL <= 0 || opts.HeuristicTTL > opts.TTL {
		opts.HeuristicTTL = opts.TTL / 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		authority: authority,
		calendar:  calendar,
		cache:     cache.New[MarketStatus](opts.TTL, opts.Now),
		opts:      opts,
	}
}

// Status returns the current verdict for segment. It never fails: uncertainty
// yields IsOpen=false with Source ERROR.
func (c *Controller) Status(ctx context.Context, segment broker.Segment) MarketStatus {
	if st, ok := c.cache.Get(string(segment)); ok {
		return st
	}

	// Concurrent misses for one segment share a single refresh.
	v, _, _ := c.group.Do(string(segment), func() (any, error) {
		if st, ok := c.cache.Get(string(segment)); ok {
			return st, nil
		}
		return c.refresh(ctx, segment), nil
	})
	return v.(MarketStatus)
}

func (c *Controller) refresh(ctx context.Context, segment broker.Segment) MarketStatus {
	log := logger.WithComponent("admission").WithField("segment", segment)
	now := c.opts.Now()

	if c.authority != nil {
		qctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		open, err := c.authority.MarketOpen(qctx, segment)
		cancel()
		if err == nil {
			st := MarketStatus{Segment: segment, IsOpen: open, AsOf: now, Source: SourceAuthoritative}
			c.cache.Set(string(segment), st)
			return st
		}
		log.WithError(err).Debug("authoritative market status unavailable, using calendar")
	}

	open, err := c.calendar.IsOpen(segment, now)
	if err != nil {
		log.WithError(err).Warn("market status unknown, failing closed")
		return MarketStatus{Segment: segment, IsOpen: false, AsOf: now, Source: SourceError}
	}
	st := MarketStatus{Segment: segment, IsOpen: open, AsOf: now, Source: SourceHeuristic}
	c.cache.SetWithTTL(string(segment), st, c.opts.HeuristicTTL)
	return st
}

// Admit returns nil when orders may be sent to segment, else ErrAdmissionDenied.
func (c *Controller) Admit(ctx context.Context, segment broker.Segment) (MarketStatus, error) {
	st := c.Status(ctx, segment)
	if !st.IsOpen {
		return st, fmt.Errorf("%w: %s (%s)", ErrAdmissionDenied, segment, st.Source)
	}
	return st, nil
}
