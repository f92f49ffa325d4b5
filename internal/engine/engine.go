package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quorum/internal/agent"
	"quorum/internal/decision"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/marketctx"
	"quorum/internal/store"
	"quorum/internal/store/decisionlog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Decider is one agent unit.
type Decider interface {
	Name() string
	Decide(ctx context.Context, cycle agent.Cycle) (decision.Decision, error)
}

// Applier executes decisions against the ledger.
type Applier interface {
	Apply(ctx context.Context, d decision.Decision) (ledger.ExecutionResult, error)
	RetryPending(ctx context.Context)
}

// ContextProvider builds the shared market snapshot.
type ContextProvider interface {
	GetContext(ctx context.Context, symbols []string) (*marketctx.MarketContext, error)
}

// Aggregator synthesizes the consortium decision.
type Aggregator interface {
	Aggregate(ctx context.Context, id, cycleID string, inputs []decision.Decision) decision.Decision
}

// PriceSource is used by the review loop for mark-to-market.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// DecisionSink receives the audit trail. May be nil.
type DecisionSink interface {
	Append(ctx context.Context, rec decisionlog.Record) error
}

type EngineParams struct {
	Symbols        []string
	InitialCapital float64
	Market         ContextProvider
	Units          []Decider
	Aggregator     Aggregator
	Ledger         Applier
	Store          store.Store
	DecisionLog    DecisionSink
	Prices         PriceSource
	CycleTimeout   time.Duration
}

// LiveEngine runs one decision cycle end to end: shared context build,
// parallel agent inference, consortium aggregation, then execution. Agent
// failures are isolated; one broken agent never cancels its siblings.
type LiveEngine struct {
	p EngineParams
}

func NewLiveEngine(p EngineParams) *LiveEngine {
	if p.CycleTimeout <= 0 {
		p.CycleTimeout = 4 * time.Minute
	}
	return &LiveEngine{p: p}
}

func (e *LiveEngine) RunCycle(parent context.Context) error {
	cycleID := uuid.NewString()
	started := time.Now()
	// Detach from the shutdown signal so an in-flight cycle runs to
	// completion. Shutdown only stops the next trigger; the cycle itself
	// is bounded by its own timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.p.CycleTimeout)
	defer cancel()

	logger.Infof("cycle %s: start (%d agents, symbols=%v)", cycleID, len(e.p.Units), e.p.Symbols)
	e.p.Ledger.RetryPending(ctx)

	mc, err := e.p.Market.GetContext(ctx, e.p.Symbols)
	if err != nil {
		logger.Errorf("cycle %s: market context unavailable, skipping: %v", cycleID, err)
		return err
	}
	if len(mc.Degraded) > 0 {
		logger.Warnf("cycle %s: degraded sources: %v", cycleID, mc.Degraded)
	}

	votes := e.collectVotes(ctx, cycleID, mc)

	decisions := append([]decision.Decision(nil), votes...)
	if e.p.Aggregator != nil {
		decisions = append(decisions, e.p.Aggregator.Aggregate(ctx, uuid.NewString(), cycleID, votes))
	}

	applied := e.applyAll(ctx, decisions)

	logger.Infof("cycle %s: done in %s (%d votes, %d applied)",
		cycleID, time.Since(started).Truncate(time.Millisecond), len(votes), applied)
	return nil
}

// collectVotes fans the shared snapshot out to every unit. Votes are
// gathered under a mutex; a skip or failure just means no vote.
func (e *LiveEngine) collectVotes(ctx context.Context, cycleID string, mc *marketctx.MarketContext) []decision.Decision {
	var (
		mu    sync.Mutex
		votes []decision.Decision
	)
	var g errgroup.Group
	for _, unit := range e.p.Units {
		unit := unit
		g.Go(func() error {
			d, err := e.decideSafe(ctx, cycleID, mc, unit)
			if err != nil {
				if errors.Is(err, agent.ErrSkipped) {
					logger.Infof("cycle %s: %v", cycleID, err)
				} else {
					logger.Errorf("cycle %s: agent %s failed: %v", cycleID, unit.Name(), err)
				}
				return nil
			}
			mu.Lock()
			votes = append(votes, d)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return votes
}

// decideSafe builds the per-agent cycle input and shields the engine from
// a panicking unit.
func (e *LiveEngine) decideSafe(ctx context.Context, cycleID string, mc *marketctx.MarketContext, unit Decider) (d decision.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panicked: %v", unit.Name(), r)
		}
	}()

	cash := e.p.InitialCapital
	if rec, ok, aerr := e.p.Store.GetAgent(ctx, unit.Name()); aerr == nil && ok {
		cash = rec.Cash
	}
	positions, perr := e.p.Store.ListPositions(ctx, unit.Name())
	if perr != nil {
		logger.Warnf("cycle %s: positions read for %s failed: %v", cycleID, unit.Name(), perr)
	}
	return unit.Decide(ctx, agent.Cycle{
		ID:        cycleID,
		Market:    mc,
		Positions: positions,
		Cash:      cash,
	})
}

func (e *LiveEngine) applyAll(ctx context.Context, decisions []decision.Decision) int {
	var (
		mu      sync.Mutex
		applied int
	)
	var g errgroup.Group
	for _, d := range decisions {
		d := d
		g.Go(func() error {
			res, err := e.p.Ledger.Apply(ctx, d)
			switch {
			case err == nil:
				logger.Infof("apply %s/%s: %s %s x%.4f -> %s",
					d.AgentName, d.ID, d.Action, d.Symbol, d.Quantity, res.Status)
			case errors.Is(err, ledger.ErrInsufficientResources):
				logger.Warnf("apply %s/%s: rejected: %s", d.AgentName, d.ID, res.Reason)
			case errors.Is(err, store.ErrWriteFailed):
				logger.Errorf("apply %s/%s: executed but write queued: %v", d.AgentName, d.ID, err)
			default:
				logger.Errorf("apply %s/%s: %v", d.AgentName, d.ID, err)
			}
			e.logDecision(ctx, d, res)
			mu.Lock()
			applied++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return applied
}

func (e *LiveEngine) logDecision(ctx context.Context, d decision.Decision, res ledger.ExecutionResult) {
	if e.p.DecisionLog == nil {
		return
	}
	err := e.p.DecisionLog.Append(ctx, decisionlog.Record{
		DecisionID: d.ID,
		AgentName:  d.AgentName,
		CycleID:    d.CycleID,
		Symbol:     d.Symbol,
		Action:     string(d.Action),
		Quantity:   d.Quantity,
		Confidence: d.Confidence,
		Source:     string(d.Source),
		Reasoning:  d.Reasoning,
		Status:     res.Status,
	})
	if err != nil {
		logger.Warnf("decision log append for %s failed: %v", d.ID, err)
	}
}

// RunReview marks open positions to market without any inference spend
// and leaves a review note in the decision log.
func (e *LiveEngine) RunReview(parent context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), time.Minute)
	defer cancel()

	agents, err := e.p.Store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("review: list agents: %w", err)
	}
	reviewID := uuid.NewString()
	for _, a := range agents {
		positions, err := e.p.Store.ListPositions(ctx, a.Name)
		if err != nil || len(positions) == 0 {
			continue
		}
		for _, pos := range positions {
			price, perr := e.p.Prices.LatestPrice(ctx, pos.Symbol)
			if perr != nil {
				logger.Warnf("review: price for %s failed: %v", pos.Symbol, perr)
				continue
			}
			unrealized := (price - pos.AvgEntryPrice) * pos.Quantity
			logger.Infof("review %s: %s %s %.4f @ avg %.2f now %.2f unrealized %.2f",
				reviewID, a.Name, pos.Symbol, pos.Quantity, pos.AvgEntryPrice, price, unrealized)
			if e.p.DecisionLog != nil {
				_ = e.p.DecisionLog.Append(ctx, decisionlog.Record{
					DecisionID: uuid.NewString(),
					AgentName:  a.Name,
					CycleID:    reviewID,
					Symbol:     pos.Symbol,
					Action:     string(decision.ActionHold),
					Quantity:   pos.Quantity,
					Source:     string(decision.SourceReview),
					Reasoning:  fmt.Sprintf("mark-to-market: price %.2f avg %.2f unrealized %.2f", price, pos.AvgEntryPrice, unrealized),
					Status:     "reviewed",
				})
			}
		}
	}
	return nil
}
