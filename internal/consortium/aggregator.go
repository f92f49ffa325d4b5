package consortium

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"quorum/internal/decision"
	"quorum/internal/logger"
)

const (
	// defaultWinRate is assumed until an agent has minTrades completed
	// trades behind it.
	defaultWinRate = 0.5
	minTrades      = 5
)

// WinRateSource exposes closed-trade outcomes per agent.
type WinRateSource interface {
	WinLoss(ctx context.Context, agent string) (wins, losses int, err error)
}

// Aggregator synthesizes a consortium decision from the member verdicts of
// one cycle. It never calls a model itself.
type Aggregator struct {
	Name     string
	winRates WinRateSource
}

func NewAggregator(name string, winRates WinRateSource) *Aggregator {
	if name == "" {
		name = "consortium"
	}
	return &Aggregator{Name: name, winRates: winRates}
}

// Aggregate computes a weighted vote across inputs for the given cycle.
// Weight per vote is the agent's historical win rate times its stated
// confidence. Inputs from another cycle are discarded. A tie for the top
// total, or no usable inputs at all, resolves to HOLD. Identical inputs
// always produce an identical result.
func (a *Aggregator) Aggregate(ctx context.Context, id, cycleID string, inputs []decision.Decision) decision.Decision {
	votes := make([]decision.Decision, 0, len(inputs))
	for _, d := range inputs {
		if d.CycleID != cycleID {
			logger.Warnf("consortium: discarding vote from %s tagged %s, current cycle %s",
				d.AgentName, d.CycleID, cycleID)
			continue
		}
		votes = append(votes, d)
	}
	if len(votes) == 0 {
		return decision.Hold(id, a.Name, cycleID, decision.SourceAggregated, "no member decisions this cycle")
	}
	// Deterministic tally order regardless of completion order.
	sort.Slice(votes, func(i, j int) bool { return votes[i].AgentName < votes[j].AgentName })

	weights := make(map[decision.Action]float64, 3)
	total := 0.0
	var detail []string
	for _, v := range votes {
		w := a.winRate(ctx, v.AgentName) * v.Confidence
		weights[v.Action] += w
		total += w
		detail = append(detail, fmt.Sprintf("%s=%s(%.1f)", v.AgentName, v.Action, w))
	}

	winner, tied := topAction(weights)
	if tied || total == 0 {
		return decision.Hold(id, a.Name, cycleID, decision.SourceAggregated,
			"weighted vote tied: "+strings.Join(detail, " "))
	}

	out := decision.Decision{
		ID:         id,
		AgentName:  a.Name,
		CycleID:    cycleID,
		Action:     winner,
		Confidence: math.Round(weights[winner] / total * 100),
		Reasoning:  "weighted vote: " + strings.Join(detail, " "),
		Source:     decision.SourceAggregated,
		CreatedAt:  time.Now(),
	}
	if winner != decision.ActionHold {
		out.Symbol, out.Quantity = carryTrade(votes, winner)
	}
	return out
}

// winRate falls back to 0.5 until enough history exists.
func (a *Aggregator) winRate(ctx context.Context, agent string) float64 {
	if a.winRates == nil {
		return defaultWinRate
	}
	wins, losses, err := a.winRates.WinLoss(ctx, agent)
	if err != nil {
		logger.Warnf("consortium: win rate lookup for %s failed: %v", agent, err)
		return defaultWinRate
	}
	closed := wins + losses
	if closed < minTrades {
		return defaultWinRate
	}
	return float64(wins) / float64(closed)
}

// topAction picks the action with the highest total weight; tied tops
// count as no winner.
func topAction(weights map[decision.Action]float64) (decision.Action, bool) {
	// Fixed iteration order keeps results deterministic.
	order := []decision.Action{decision.ActionBuy, decision.ActionSell, decision.ActionHold}
	best := decision.ActionHold
	bestW := -1.0
	tied := false
	for _, action := range order {
		w, ok := weights[action]
		if !ok {
			continue
		}
		if w > bestW {
			best, bestW, tied = action, w, false
		} else if w == bestW {
			tied = true
		}
	}
	return best, tied
}

// carryTrade takes symbol and quantity from the strongest-confidence vote
// for the winning action; agent-name order breaks confidence ties.
func carryTrade(votes []decision.Decision, action decision.Action) (string, float64) {
	var best *decision.Decision
	for i := range votes {
		v := &votes[i]
		if v.Action != action {
			continue
		}
		if best == nil || v.Confidence > best.Confidence {
			best = v
		}
	}
	if best == nil {
		return "", 0
	}
	return best.Symbol, best.Quantity
}
