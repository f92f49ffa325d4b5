package broker

import (
	"context"
	"sync"
	"time"

	"quorum/internal/logger"
)

// MarketHours answers "is the market open" from the brokerage clock,
// caching the answer briefly. When the clock endpoint is down it falls
// back to the regular New York session so the scheduler keeps a sane
// cadence instead of stalling.
type MarketHours struct {
	broker Broker
	ttl    time.Duration

	mu      sync.Mutex
	clock   Clock
	fetched time.Time

	nowFn func() time.Time
	loc   *time.Location
}

func NewMarketHours(b Broker, ttl time.Duration) *MarketHours {
	if ttl <= 0 {
		ttl = time.Minute
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &MarketHours{broker: b, ttl: ttl, nowFn: time.Now, loc: loc}
}

func (h *MarketHours) IsOpen(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	if now.Sub(h.fetched) < h.ttl && !h.fetched.IsZero() {
		return h.clock.IsOpen
	}
	if h.broker != nil {
		clock, err := h.broker.MarketClock(ctx)
		if err == nil {
			h.clock = clock
			h.fetched = now
			return clock.IsOpen
		}
		logger.Warnf("market clock fetch failed, using fallback window: %v", err)
	}
	open := h.fallbackOpen(now)
	h.clock = Clock{IsOpen: open}
	h.fetched = now
	return open
}

// fallbackOpen approximates the regular session: weekdays 09:30-16:00 ET.
func (h *MarketHours) fallbackOpen(now time.Time) bool {
	ny := now.In(h.loc)
	switch ny.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := ny.Hour()*60 + ny.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
