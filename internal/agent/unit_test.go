package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"quorum/internal/budget"
	"quorum/internal/decision"
	"quorum/internal/marketctx"
	"quorum/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string         { return "mock" }
func (m *MockProvider) Model() string        { return "mock-model" }
func (m *MockProvider) MaxOutputTokens() int { return 400 }
func (m *MockProvider) Pricing() budget.Pricing {
	return budget.Pricing{InputPerMTokens: 1, OutputPerMTokens: 2}
}

func (m *MockProvider) Call(ctx context.Context, systemPrompt, userPrompt string) (string, budget.Usage, error) {
	args := m.Called(ctx, systemPrompt, userPrompt)
	return args.String(0), args.Get(1).(budget.Usage), args.Error(2)
}

type fakeHistory struct {
	agent  store.AgentRecord
	exists bool
	trades []store.TradeRecord
}

func (f *fakeHistory) GetAgent(ctx context.Context, name string) (store.AgentRecord, bool, error) {
	return f.agent, f.exists, nil
}

func (f *fakeHistory) RecentTrades(ctx context.Context, agent string, limit int) ([]store.TradeRecord, error) {
	return f.trades, nil
}

func testCycle() Cycle {
	return Cycle{
		ID: "cycle-1",
		Market: &marketctx.MarketContext{
			AsOf:    time.Now(),
			Symbols: []marketctx.SymbolContext{{Symbol: "AAPL", Price: 182.5}},
		},
		Cash: 1000,
	}
}

func newTestUnit(provider *MockProvider, governor *budget.Governor, history HistoryReader) *Unit {
	if history == nil {
		history = &fakeHistory{}
	}
	return NewUnit(UnitParams{
		Profile:     StrategyProfile{Name: "momentum", Model: "primary", CritiqueEvery: 5},
		Provider:    provider,
		Governor:    governor,
		History:     history,
		FeePerTrade: 1.0,
	})
}

func TestDecide_HappyPath(t *testing.T) {
	provider := new(MockProvider)
	governor := budget.NewGovernor(1.0)
	u := newTestUnit(provider, governor, nil)

	provider.On("Call", mock.Anything, mock.Anything, mock.Anything).
		Return(`{"action":"BUY","symbol":"AAPL","quantity":2,"confidence":75,"reasoning":"breakout"}`,
			budget.Usage{PromptTokens: 500, CompletionTokens: 100}, nil)

	d, err := u.Decide(context.Background(), testCycle())
	require.NoError(t, err)
	assert.Equal(t, decision.ActionBuy, d.Action)
	assert.Equal(t, "momentum", d.AgentName)
	assert.Equal(t, "cycle-1", d.CycleID)
	assert.NotEmpty(t, d.ID)

	snap := governor.Snapshot()
	assert.Greater(t, snap.SpentUSD, 0.0)
	assert.InDelta(t, 0.0, snap.ReservedUSD, 1e-9)
}

func TestDecide_BudgetDenialSkips(t *testing.T) {
	provider := new(MockProvider)
	governor := budget.NewGovernor(0.50)
	burn, err := governor.TryReserve(budget.Cost{USD: 0.50})
	require.NoError(t, err)
	burn.Commit(budget.Cost{USD: 0.50})

	u := newTestUnit(provider, governor, nil)
	_, err = u.Decide(context.Background(), testCycle())
	assert.ErrorIs(t, err, ErrSkipped)
	assert.ErrorIs(t, err, budget.ErrDailyCeilingExceeded)
	provider.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
}

func TestDecide_TransportFailureRefunds(t *testing.T) {
	provider := new(MockProvider)
	governor := budget.NewGovernor(1.0)
	u := newTestUnit(provider, governor, nil)

	provider.On("Call", mock.Anything, mock.Anything, mock.Anything).
		Return("", budget.Usage{}, errors.New("connection reset"))

	_, err := u.Decide(context.Background(), testCycle())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSkipped)

	snap := governor.Snapshot()
	assert.InDelta(t, 0.0, snap.SpentUSD, 1e-9)
	assert.InDelta(t, 0.0, snap.ReservedUSD, 1e-9)
}

func TestDecide_GarbageResponseHolds(t *testing.T) {
	provider := new(MockProvider)
	governor := budget.NewGovernor(1.0)
	u := newTestUnit(provider, governor, nil)

	provider.On("Call", mock.Anything, mock.Anything, mock.Anything).
		Return("I am unable to make a recommendation today.", budget.Usage{PromptTokens: 100, CompletionTokens: 20}, nil)

	d, err := u.Decide(context.Background(), testCycle())
	require.NoError(t, err)
	assert.Equal(t, decision.ActionHold, d.Action)
	assert.Equal(t, 0.0, d.Confidence)
	// the call still cost money
	assert.Greater(t, governor.Snapshot().SpentUSD, 0.0)
}

func TestDecide_CritiqueIncludedOnSchedule(t *testing.T) {
	provider := new(MockProvider)
	governor := budget.NewGovernor(1.0)
	history := &fakeHistory{
		agent:  store.AgentRecord{Name: "momentum", Trades: 5, Wins: 2, Losses: 3, RealizedPnL: -40},
		exists: true,
		trades: []store.TradeRecord{
			{Action: "SELL", Symbol: "AAPL", Quantity: 3, Price: 180, Status: store.TradeStatusExecuted, RealizedPnL: -12},
		},
	}
	u := newTestUnit(provider, governor, history)

	var captured string
	provider.On("Call", mock.Anything, mock.Anything, mock.MatchedBy(func(user string) bool {
		captured = user
		return true
	})).Return(`{"action":"HOLD","symbol":"AAPL"}`, budget.Usage{PromptTokens: 10, CompletionTokens: 5}, nil)

	_, err := u.Decide(context.Background(), testCycle())
	require.NoError(t, err)
	assert.Contains(t, captured, "Self-critique checkpoint")
	assert.Contains(t, captured, "2 wins, 3 losses")
}

func TestDecide_NoCritiqueOffSchedule(t *testing.T) {
	provider := new(MockProvider)
	governor := budget.NewGovernor(1.0)
	history := &fakeHistory{
		agent:  store.AgentRecord{Name: "momentum", Trades: 4},
		exists: true,
	}
	u := newTestUnit(provider, governor, history)

	var captured string
	provider.On("Call", mock.Anything, mock.Anything, mock.MatchedBy(func(user string) bool {
		captured = user
		return true
	})).Return(`{"action":"HOLD","symbol":"AAPL"}`, budget.Usage{PromptTokens: 10, CompletionTokens: 5}, nil)

	_, err := u.Decide(context.Background(), testCycle())
	require.NoError(t, err)
	assert.NotContains(t, captured, "Self-critique checkpoint")
}

func TestDecide_ZeroCritiqueEveryDefaulted(t *testing.T) {
	provider := new(MockProvider)
	governor := budget.NewGovernor(1.0)
	history := &fakeHistory{
		agent:  store.AgentRecord{Name: "momentum", Trades: 3},
		exists: true,
	}
	// Hand-built profile without a critique cadence. The unit must fall
	// back to the default instead of taking trades modulo zero.
	u := NewUnit(UnitParams{
		Profile:     StrategyProfile{Name: "momentum", Model: "primary"},
		Provider:    provider,
		Governor:    governor,
		History:     history,
		FeePerTrade: 1.0,
	})

	provider.On("Call", mock.Anything, mock.Anything, mock.Anything).
		Return(`{"action":"HOLD","symbol":"AAPL"}`, budget.Usage{PromptTokens: 10, CompletionTokens: 5}, nil)

	d, err := u.Decide(context.Background(), testCycle())
	require.NoError(t, err)
	assert.Equal(t, decision.ActionHold, d.Action)
}

func TestDecide_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	provider := new(MockProvider)
	governor := budget.NewGovernor(1.0)
	u := newTestUnit(provider, governor, nil)

	provider.On("Call", mock.Anything, mock.Anything, mock.Anything).
		Return("", budget.Usage{}, errors.New("timeout")).Times(3)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := u.Decide(ctx, testCycle())
		require.Error(t, err)
	}

	_, err := u.Decide(ctx, testCycle())
	assert.ErrorIs(t, err, ErrSkipped)
	provider.AssertNumberOfCalls(t, "Call", 3)

	snap := governor.Snapshot()
	assert.InDelta(t, 0.0, snap.SpentUSD+snap.ReservedUSD, 1e-9)
}
