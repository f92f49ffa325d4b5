package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"quorum/internal/decision"
	"quorum/internal/gateway/broker"
	"quorum/internal/store"
	"quorum/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) SubmitMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(broker.OrderResult), args.Error(1)
}

func (m *MockBroker) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockBroker) MarketClock(ctx context.Context) (broker.Clock, error) {
	args := m.Called(ctx)
	return args.Get(0).(broker.Clock), args.Error(1)
}

func newTestManager(t *testing.T, initialCapital float64) (*Manager, *MockBroker, store.Store) {
	t.Helper()
	st, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	br := new(MockBroker)
	return NewManager(st, br, 1.0, initialCapital), br, st
}

func buyDecision(id string, qty float64) decision.Decision {
	return decision.Decision{
		ID: id, AgentName: "momentum", CycleID: "cycle-1", Symbol: "AAPL",
		Action: decision.ActionBuy, Quantity: qty, Confidence: 70,
		Source: decision.SourceInference,
	}
}

func TestApply_BuyDebitsCashAndOpensPosition(t *testing.T) {
	m, br, st := newTestManager(t, 10000)
	ctx := context.Background()

	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil)
	br.On("SubmitMarketOrder", ctx, mock.Anything).Return(broker.OrderResult{OrderID: "ord-1", Status: "filled", Accepted: true}, nil)

	res, err := m.Apply(ctx, buyDecision("dec-1", 10))
	require.NoError(t, err)
	assert.Equal(t, store.TradeStatusExecuted, res.Status)

	agent, ok, err := st.GetAgent(ctx, "momentum")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9499.0, agent.Cash)
	assert.Equal(t, 1.0, agent.FeesPaid)
	assert.Equal(t, 1, agent.Trades)

	pos, ok, err := st.GetPosition(ctx, "momentum", "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Quantity)
	assert.Equal(t, 50.0, pos.AvgEntryPrice)
}

func TestApply_BuyMergesAveragePrice(t *testing.T) {
	m, br, st := newTestManager(t, 10000)
	ctx := context.Background()

	br.On("SubmitMarketOrder", ctx, mock.Anything).Return(broker.OrderResult{OrderID: "ord", Status: "new", Accepted: true}, nil)
	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil).Once()
	_, err := m.Apply(ctx, buyDecision("dec-1", 10))
	require.NoError(t, err)

	br.On("LatestPrice", ctx, "AAPL").Return(60.0, nil).Once()
	_, err = m.Apply(ctx, buyDecision("dec-2", 10))
	require.NoError(t, err)

	pos, _, err := st.GetPosition(ctx, "momentum", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 20.0, pos.Quantity)
	assert.Equal(t, 55.0, pos.AvgEntryPrice)
}

func TestApply_SellRealizesPnLAndClosesPosition(t *testing.T) {
	m, br, st := newTestManager(t, 10000)
	ctx := context.Background()

	br.On("SubmitMarketOrder", ctx, mock.Anything).Return(broker.OrderResult{OrderID: "ord", Status: "filled", Accepted: true}, nil)
	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil).Once()
	_, err := m.Apply(ctx, buyDecision("dec-1", 10))
	require.NoError(t, err)

	br.On("LatestPrice", ctx, "AAPL").Return(60.0, nil).Once()
	sell := decision.Decision{
		ID: "dec-2", AgentName: "momentum", CycleID: "cycle-2", Symbol: "AAPL",
		Action: decision.ActionSell, Quantity: 10, Source: decision.SourceInference,
	}
	res, err := m.Apply(ctx, sell)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.RealizedPnL)

	agent, _, err := st.GetAgent(ctx, "momentum")
	require.NoError(t, err)
	// 10000 - (500 + 1) + (600 - 1)
	assert.Equal(t, 10098.0, agent.Cash)
	assert.Equal(t, 100.0, agent.RealizedPnL)
	assert.Equal(t, 1, agent.Wins)
	assert.Equal(t, 0, agent.Losses)

	// cash == initial + realized - fees
	assert.Equal(t, agent.InitialCapital+agent.RealizedPnL-agent.FeesPaid, agent.Cash)

	_, ok, err := st.GetPosition(ctx, "momentum", "AAPL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApply_BuyRejectedOnInsufficientCash(t *testing.T) {
	m, br, st := newTestManager(t, 100)
	ctx := context.Background()

	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil)

	res, err := m.Apply(ctx, buyDecision("dec-1", 10))
	assert.ErrorIs(t, err, ErrInsufficientResources)
	assert.Equal(t, store.TradeStatusRejected, res.Status)

	agent, _, err := st.GetAgent(ctx, "momentum")
	require.NoError(t, err)
	assert.Equal(t, 100.0, agent.Cash)

	rec, ok, err := st.TradeByDecisionID(ctx, "dec-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.TradeStatusRejected, rec.Status)
	br.AssertNotCalled(t, "SubmitMarketOrder", mock.Anything, mock.Anything)
}

func TestApply_SellRejectedWithoutPosition(t *testing.T) {
	m, _, _ := newTestManager(t, 10000)

	sell := decision.Decision{
		ID: "dec-1", AgentName: "momentum", Symbol: "AAPL",
		Action: decision.ActionSell, Quantity: 5, Source: decision.SourceInference,
	}
	res, err := m.Apply(context.Background(), sell)
	assert.ErrorIs(t, err, ErrInsufficientResources)
	assert.Equal(t, store.TradeStatusRejected, res.Status)
}

func TestApply_BrokerRejectionLeavesLedgerUntouched(t *testing.T) {
	m, br, st := newTestManager(t, 10000)
	ctx := context.Background()

	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil)
	br.On("SubmitMarketOrder", ctx, mock.Anything).Return(broker.OrderResult{Status: "rejected"}, nil)

	res, err := m.Apply(ctx, buyDecision("dec-1", 10))
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Equal(t, store.TradeStatusFailed, res.Status)

	agent, _, err := st.GetAgent(ctx, "momentum")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, agent.Cash)
	_, ok, _ := st.GetPosition(ctx, "momentum", "AAPL")
	assert.False(t, ok)
}

func TestApply_BrokerErrorLeavesLedgerUntouched(t *testing.T) {
	m, br, st := newTestManager(t, 10000)
	ctx := context.Background()

	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil)
	br.On("SubmitMarketOrder", ctx, mock.Anything).Return(broker.OrderResult{}, errors.New("connection reset"))

	_, err := m.Apply(ctx, buyDecision("dec-1", 10))
	assert.ErrorIs(t, err, ErrExecutionFailed)

	agent, _, err := st.GetAgent(ctx, "momentum")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, agent.Cash)
}

func TestApply_HoldRecordsWithoutOrder(t *testing.T) {
	m, br, st := newTestManager(t, 10000)
	ctx := context.Background()

	hold := decision.Hold("dec-1", "momentum", "cycle-1", decision.SourceInference, "nothing actionable")
	res, err := m.Apply(ctx, hold)
	require.NoError(t, err)
	assert.Equal(t, store.TradeStatusHeld, res.Status)

	rec, ok, err := st.TradeByDecisionID(ctx, "dec-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.TradeStatusHeld, rec.Status)
	br.AssertNotCalled(t, "SubmitMarketOrder", mock.Anything, mock.Anything)
	br.AssertNotCalled(t, "LatestPrice", mock.Anything, mock.Anything)
}

func TestApply_IdempotentByDecisionID(t *testing.T) {
	m, br, st := newTestManager(t, 10000)
	ctx := context.Background()

	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil)
	br.On("SubmitMarketOrder", ctx, mock.Anything).Return(broker.OrderResult{OrderID: "ord-1", Status: "filled", Accepted: true}, nil).Once()

	d := buyDecision("dec-1", 10)
	first, err := m.Apply(ctx, d)
	require.NoError(t, err)

	second, err := m.Apply(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.OrderID, second.OrderID)

	agent, _, err := st.GetAgent(ctx, "momentum")
	require.NoError(t, err)
	assert.Equal(t, 9499.0, agent.Cash)
	assert.Equal(t, 1, agent.Trades)
	br.AssertNumberOfCalls(t, "SubmitMarketOrder", 1)
}

func TestApply_IdempotentAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	st, err := gormstore.NewGormStore(path)
	require.NoError(t, err)
	br := new(MockBroker)
	m := NewManager(st, br, 1.0, 10000)
	ctx := context.Background()

	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil)
	br.On("SubmitMarketOrder", ctx, mock.Anything).Return(broker.OrderResult{OrderID: "ord-1", Status: "filled", Accepted: true}, nil).Once()
	_, err = m.Apply(ctx, buyDecision("dec-1", 10))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// Fresh manager, same database: the replay must hit the trade log.
	st2, err := gormstore.NewGormStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st2.Close() })
	m2 := NewManager(st2, br, 1.0, 10000)

	res, err := m2.Apply(ctx, buyDecision("dec-1", 10))
	require.NoError(t, err)
	assert.Equal(t, store.TradeStatusExecuted, res.Status)
	br.AssertNumberOfCalls(t, "SubmitMarketOrder", 1)
}

type flakyStore struct {
	store.Store
	failNext bool
}

func (f *flakyStore) ApplyExecution(ctx context.Context, mut store.ExecutionMutation) error {
	if f.failNext {
		f.failNext = false
		return store.ErrWriteFailed
	}
	return f.Store.ApplyExecution(ctx, mut)
}

type positionReadFailStore struct {
	store.Store
	failNext bool
}

func (f *positionReadFailStore) GetPosition(ctx context.Context, agent, symbol string) (store.PositionRecord, bool, error) {
	if f.failNext {
		f.failNext = false
		return store.PositionRecord{}, false, errors.New("database is locked")
	}
	return f.Store.GetPosition(ctx, agent, symbol)
}

func TestApply_BuyFailsBeforeOrderWhenPositionReadErrors(t *testing.T) {
	inner, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })
	fs := &positionReadFailStore{Store: inner}
	br := new(MockBroker)
	m := NewManager(fs, br, 1.0, 10000)
	ctx := context.Background()

	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil)
	br.On("SubmitMarketOrder", ctx, mock.Anything).Return(broker.OrderResult{OrderID: "ord", Status: "filled", Accepted: true}, nil)
	_, err = m.Apply(ctx, buyDecision("dec-1", 10))
	require.NoError(t, err)

	// A transient read failure on the second buy must abort before the
	// order goes out. Treating it as an empty position would overwrite
	// the 10 open shares while still debiting cash.
	fs.failNext = true
	_, err = m.Apply(ctx, buyDecision("dec-2", 10))
	require.Error(t, err)
	br.AssertNumberOfCalls(t, "SubmitMarketOrder", 1)

	agent, _, err := inner.GetAgent(ctx, "momentum")
	require.NoError(t, err)
	assert.Equal(t, 9499.0, agent.Cash)
	pos, ok, err := inner.GetPosition(ctx, "momentum", "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Quantity)

	// Once the store recovers, a retried decision merges as usual.
	_, err = m.Apply(ctx, buyDecision("dec-3", 10))
	require.NoError(t, err)
	pos, _, err = inner.GetPosition(ctx, "momentum", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 20.0, pos.Quantity)
}

func TestApply_StoreWriteFailureQueuedAndReplayed(t *testing.T) {
	inner, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })
	fs := &flakyStore{Store: inner, failNext: true}
	br := new(MockBroker)
	m := NewManager(fs, br, 1.0, 10000)
	ctx := context.Background()

	br.On("LatestPrice", ctx, "AAPL").Return(50.0, nil)
	br.On("SubmitMarketOrder", ctx, mock.Anything).Return(broker.OrderResult{OrderID: "ord-1", Status: "filled", Accepted: true}, nil)

	res, err := m.Apply(ctx, buyDecision("dec-1", 10))
	assert.ErrorIs(t, err, store.ErrWriteFailed)
	assert.Equal(t, store.TradeStatusExecuted, res.Status)
	assert.Equal(t, 1, m.PendingWrites())

	m.RetryPending(ctx)
	assert.Equal(t, 0, m.PendingWrites())

	agent, _, err := inner.GetAgent(ctx, "momentum")
	require.NoError(t, err)
	assert.Equal(t, 9499.0, agent.Cash)
}
