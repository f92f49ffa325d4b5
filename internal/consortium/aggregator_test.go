package consortium

import (
	"context"
	"testing"

	"quorum/internal/decision"

	"github.com/stretchr/testify/assert"
)

type fakeWinRates struct {
	rates map[string][2]int
}

func (f *fakeWinRates) WinLoss(ctx context.Context, agent string) (int, int, error) {
	r := f.rates[agent]
	return r[0], r[1], nil
}

func vote(agent string, action decision.Action, confidence float64) decision.Decision {
	return decision.Decision{
		ID: "dec-" + agent, AgentName: agent, CycleID: "cycle-1",
		Symbol: "AAPL", Action: action, Quantity: 5, Confidence: confidence,
		Source: decision.SourceInference,
	}
}

func TestAggregate_WeightedVote(t *testing.T) {
	// momentum: 60% win rate, BUY conf 80 -> 48
	// contrarian: 30% win rate, SELL conf 90 -> 27
	// sentinel: 50% win rate, HOLD conf 50 -> 25
	wr := &fakeWinRates{rates: map[string][2]int{
		"momentum":   {6, 4},
		"contrarian": {3, 7},
		"sentinel":   {5, 5},
	}}
	a := NewAggregator("consortium", wr)

	out := a.Aggregate(context.Background(), "agg-1", "cycle-1", []decision.Decision{
		vote("momentum", decision.ActionBuy, 80),
		vote("contrarian", decision.ActionSell, 90),
		vote("sentinel", decision.ActionHold, 50),
	})

	assert.Equal(t, decision.ActionBuy, out.Action)
	assert.Equal(t, "AAPL", out.Symbol)
	assert.Equal(t, decision.SourceAggregated, out.Source)
	assert.Equal(t, "cycle-1", out.CycleID)
	// 48 of 100 total weight
	assert.Equal(t, 48.0, out.Confidence)
}

func TestAggregate_TieResolvesToHold(t *testing.T) {
	wr := &fakeWinRates{rates: map[string][2]int{
		"momentum":   {5, 5},
		"contrarian": {5, 5},
	}}
	a := NewAggregator("consortium", wr)

	out := a.Aggregate(context.Background(), "agg-1", "cycle-1", []decision.Decision{
		vote("momentum", decision.ActionBuy, 60),
		vote("contrarian", decision.ActionSell, 60),
	})
	assert.Equal(t, decision.ActionHold, out.Action)
	assert.Equal(t, 0.0, out.Confidence)
}

func TestAggregate_DefaultWinRateUnderMinHistory(t *testing.T) {
	// Both agents have fewer than five closed trades, so both weigh at
	// 0.5 x confidence and the higher confidence wins.
	wr := &fakeWinRates{rates: map[string][2]int{
		"momentum":   {2, 0},
		"contrarian": {0, 3},
	}}
	a := NewAggregator("consortium", wr)

	out := a.Aggregate(context.Background(), "agg-1", "cycle-1", []decision.Decision{
		vote("momentum", decision.ActionBuy, 70),
		vote("contrarian", decision.ActionSell, 60),
	})
	assert.Equal(t, decision.ActionBuy, out.Action)
}

func TestAggregate_DiscardsForeignCycles(t *testing.T) {
	a := NewAggregator("consortium", &fakeWinRates{})

	stale := vote("momentum", decision.ActionBuy, 90)
	stale.CycleID = "cycle-0"

	out := a.Aggregate(context.Background(), "agg-1", "cycle-1", []decision.Decision{stale})
	assert.Equal(t, decision.ActionHold, out.Action)
	assert.Contains(t, out.Reasoning, "no member decisions")
}

func TestAggregate_Deterministic(t *testing.T) {
	wr := &fakeWinRates{rates: map[string][2]int{
		"momentum":   {6, 4},
		"contrarian": {3, 7},
		"sentinel":   {5, 5},
	}}
	a := NewAggregator("consortium", wr)
	inputs := []decision.Decision{
		vote("momentum", decision.ActionBuy, 80),
		vote("contrarian", decision.ActionSell, 90),
		vote("sentinel", decision.ActionHold, 50),
	}
	reversed := []decision.Decision{inputs[2], inputs[1], inputs[0]}

	first := a.Aggregate(context.Background(), "agg-1", "cycle-1", inputs)
	second := a.Aggregate(context.Background(), "agg-1", "cycle-1", reversed)

	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Symbol, second.Symbol)
	assert.Equal(t, first.Reasoning, second.Reasoning)
}

func TestAggregate_NoInputs(t *testing.T) {
	a := NewAggregator("consortium", &fakeWinRates{})
	out := a.Aggregate(context.Background(), "agg-1", "cycle-1", nil)
	assert.Equal(t, decision.ActionHold, out.Action)
	assert.Equal(t, 0.0, out.Confidence)
}
