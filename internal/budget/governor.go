package budget

import (
	"errors"
	"sync"
	"time"

	"quorum/internal/logger"
)

// ErrDailyCeilingExceeded is returned when a reservation would push the
// day's committed plus reserved spend over the ceiling.
var ErrDailyCeilingExceeded = errors.New("daily inference budget ceiling exceeded")

const (
	// Operational clamp for ceiling updates coming in over the admin API.
	MinCeilingUSD = 0.50
	MaxCeilingUSD = 50.0
)

// Cost is an inference spend amount, tracked in both tokens and dollars.
type Cost struct {
	Tokens int
	USD    float64
}

// Governor enforces a shared day-scoped spending ceiling across all agents.
// Reservations are taken optimistically before a call and settled to actual
// billed usage afterwards, so concurrent agents cannot jointly overshoot.
type Governor struct {
	mu          sync.Mutex
	ceilingUSD  float64
	spentUSD    float64
	spentTokens int
	reservedUSD float64
	day         string

	nowFn func() time.Time
}

func NewGovernor(ceilingUSD float64) *Governor {
	g := &Governor{ceilingUSD: ceilingUSD, nowFn: time.Now}
	g.day = g.nowFn().Format("2006-01-02")
	return g
}

// Grant is a single-use reservation. Exactly one of Commit or Refund must
// be called; later calls are no-ops.
type Grant struct {
	g       *Governor
	est     Cost
	settled bool
}

// TryReserve books est against the remaining headroom for today.
func (g *Governor) TryReserve(est Cost) (*Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	if g.spentUSD+g.reservedUSD+est.USD > g.ceilingUSD {
		return nil, ErrDailyCeilingExceeded
	}
	g.reservedUSD += est.USD
	return &Grant{g: g, est: est}, nil
}

// Commit settles the reservation to the actually billed cost. Actual spend
// is recorded even if it differs from the estimate; a model that billed
// more than estimated still counts in full against the ceiling.
func (gr *Grant) Commit(actual Cost) {
	if gr == nil || gr.settled {
		return
	}
	gr.settled = true
	g := gr.g
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.reservedUSD -= gr.est.USD
	if g.reservedUSD < 0 {
		g.reservedUSD = 0
	}
	g.spentUSD += actual.USD
	g.spentTokens += actual.Tokens
}

// Refund releases the reservation after a call that failed before billing.
func (gr *Grant) Refund() {
	if gr == nil || gr.settled {
		return
	}
	gr.settled = true
	g := gr.g
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.reservedUSD -= gr.est.USD
	if g.reservedUSD < 0 {
		g.reservedUSD = 0
	}
}

// Snapshot is a point-in-time view of today's spend.
type Snapshot struct {
	Day         string  `json:"day"`
	CeilingUSD  float64 `json:"ceiling_usd"`
	SpentUSD    float64 `json:"spent_usd"`
	ReservedUSD float64 `json:"reserved_usd"`
	SpentTokens int     `json:"spent_tokens"`
	PercentUsed float64 `json:"percent_used"`
}

func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	pct := 0.0
	if g.ceilingUSD > 0 {
		pct = (g.spentUSD + g.reservedUSD) / g.ceilingUSD * 100
	}
	return Snapshot{
		Day:         g.day,
		CeilingUSD:  g.ceilingUSD,
		SpentUSD:    g.spentUSD,
		ReservedUSD: g.reservedUSD,
		SpentTokens: g.spentTokens,
		PercentUsed: pct,
	}
}

// SetCeiling updates the daily ceiling, clamped to the operational range.
// Returns the value actually applied. Spend already committed today is kept.
func (g *Governor) SetCeiling(usd float64) float64 {
	if usd < MinCeilingUSD {
		usd = MinCeilingUSD
	}
	if usd > MaxCeilingUSD {
		usd = MaxCeilingUSD
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	old := g.ceilingUSD
	g.ceilingUSD = usd
	if old != usd {
		logger.Infof("budget ceiling updated: %.2f -> %.2f USD/day", old, usd)
	}
	return usd
}

// rolloverLocked resets counters when the local date has changed. Checked
// inside the lock on every operation so the first caller after midnight
// performs the reset.
func (g *Governor) rolloverLocked() {
	day := g.nowFn().Format("2006-01-02")
	if day == g.day {
		return
	}
	logger.Infof("budget day rollover %s -> %s (spent %.4f USD, %d tokens)",
		g.day, day, g.spentUSD, g.spentTokens)
	g.day = day
	g.spentUSD = 0
	g.spentTokens = 0
	g.reservedUSD = 0
}
