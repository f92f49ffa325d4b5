package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quorum/internal/budget"
	"quorum/internal/decision"
	"quorum/internal/gateway/inference"
	"quorum/internal/logger"
	"quorum/internal/pkg/circuit"

	"github.com/google/uuid"
)

// ErrSkipped means the agent produced no vote this cycle (budget denied or
// breaker open). It is not a failure of the cycle.
var ErrSkipped = errors.New("agent skipped cycle")

// Unit runs one agent's decision step: optional self-critique, a budget
// reservation, one governed inference call and a defensive parse.
type Unit struct {
	profile     StrategyProfile
	provider    inference.ModelProvider
	governor    *budget.Governor
	history     HistoryReader
	breaker     *circuit.Breaker
	callTimeout time.Duration
	feePerTrade float64
}

type UnitParams struct {
	Profile     StrategyProfile
	Provider    inference.ModelProvider
	Governor    *budget.Governor
	History     HistoryReader
	CallTimeout time.Duration
	FeePerTrade float64
	Breaker     *circuit.Breaker
}

func NewUnit(p UnitParams) *Unit {
	if p.CallTimeout <= 0 {
		p.CallTimeout = 90 * time.Second
	}
	if p.Breaker == nil {
		p.Breaker = circuit.NewBreaker("inference-"+p.Profile.Name, 3, time.Minute)
	}
	if p.Profile.CritiqueEvery <= 0 {
		p.Profile.CritiqueEvery = defaultCritiqueEvery
	}
	return &Unit{
		profile:     p.Profile,
		provider:    p.Provider,
		governor:    p.Governor,
		history:     p.History,
		breaker:     p.Breaker,
		callTimeout: p.CallTimeout,
		feePerTrade: p.FeePerTrade,
	}
}

func (u *Unit) Name() string { return u.profile.Name }

// Decide produces this agent's decision for the cycle. A malformed model
// response comes back as a HOLD with confidence 0 and a nil error; only
// skips and transport failures return errors.
func (u *Unit) Decide(ctx context.Context, cycle Cycle) (decision.Decision, error) {
	id := uuid.NewString()

	critique := buildCritique(ctx, u.history, u.profile)
	systemPrompt := buildSystemPrompt(u.profile)
	userPrompt := buildUserPrompt(cycle, critique, u.feePerTrade)

	est := budget.Estimate(len(systemPrompt)+len(userPrompt), u.provider.MaxOutputTokens(), u.provider.Pricing())
	grant, err := u.governor.TryReserve(est)
	if err != nil {
		logger.Warnf("agent %s: budget denied (est $%.4f): %v", u.profile.Name, est.USD, err)
		return decision.Decision{}, fmt.Errorf("%w: %s: %w", ErrSkipped, u.profile.Name, err)
	}

	if !u.breaker.Allow() {
		grant.Refund()
		return decision.Decision{}, fmt.Errorf("%w: %s: inference breaker open", ErrSkipped, u.profile.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, u.callTimeout)
	defer cancel()
	content, usage, err := u.provider.Call(callCtx, systemPrompt, userPrompt)
	if err != nil {
		grant.Refund()
		u.breaker.RecordFailure()
		return decision.Decision{}, fmt.Errorf("agent %s: inference call: %w", u.profile.Name, err)
	}
	u.breaker.RecordSuccess()
	grant.Commit(budget.Actual(usage, u.provider.Pricing()))

	d, perr := decision.Parse(id, u.profile.Name, cycle.ID, content)
	if perr != nil {
		logger.Warnf("agent %s: %v, holding", u.profile.Name, perr)
	}
	return d, nil
}
