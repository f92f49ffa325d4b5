package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"quorum/internal/decision"
	"quorum/internal/gateway/broker"
	"quorum/internal/logger"
	"quorum/internal/store"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientResources covers both not-enough-cash on a BUY and
	// not-enough-open-quantity on a SELL.
	ErrInsufficientResources = errors.New("insufficient resources for trade")
	// ErrExecutionFailed means the brokerage rejected or errored; the
	// ledger was not touched.
	ErrExecutionFailed = errors.New("order execution failed")
)

// ExecutionResult is the recorded outcome of applying one decision.
type ExecutionResult struct {
	DecisionID  string
	Status      string
	Price       float64
	Fee         float64
	RealizedPnL float64
	OrderID     string
	Reason      string
}

// Manager applies decisions to per-agent ledgers. Applies for the same
// agent are serialized; different agents proceed in parallel. A decision
// ID is applied at most once, replays return the recorded outcome.
type Manager struct {
	store          store.Store
	broker         broker.Broker
	fee            decimal.Decimal
	initialCapital float64

	mu         sync.Mutex
	agentLocks map[string]*sync.Mutex
	applied    map[string]ExecutionResult
	pending    []store.ExecutionMutation
}

func NewManager(st store.Store, br broker.Broker, feePerTrade, initialCapital float64) *Manager {
	return &Manager{
		store:          st,
		broker:         br,
		fee:            decimal.NewFromFloat(feePerTrade),
		initialCapital: initialCapital,
		agentLocks:     make(map[string]*sync.Mutex),
		applied:        make(map[string]ExecutionResult),
	}
}

func (m *Manager) lockFor(agent string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.agentLocks[agent]
	if !ok {
		lk = &sync.Mutex{}
		m.agentLocks[agent] = lk
	}
	return lk
}

// Apply executes one decision against its agent's ledger.
//
// Order of operations for BUY/SELL: resource checks first, then the
// brokerage order, then ledger mutation plus trade record in a single
// store transaction. If the store write fails after an accepted order the
// mutation is queued and replayed via RetryPending.
func (m *Manager) Apply(ctx context.Context, d decision.Decision) (ExecutionResult, error) {
	if d.ID == "" || d.AgentName == "" {
		return ExecutionResult{}, fmt.Errorf("decision id and agent name required")
	}
	lk := m.lockFor(d.AgentName)
	lk.Lock()
	defer lk.Unlock()

	if res, ok := m.priorResult(ctx, d.ID); ok {
		logger.Debugf("ledger: decision %s already applied, returning recorded result", d.ID)
		return res, nil
	}

	agent, err := m.loadOrSeedAgent(ctx, d.AgentName)
	if err != nil {
		return ExecutionResult{}, err
	}

	switch d.Action {
	case decision.ActionHold:
		return m.recordOutcome(ctx, d, ExecutionResult{
			DecisionID: d.ID, Status: store.TradeStatusHeld, Reason: d.Reasoning,
		}), nil
	case decision.ActionBuy:
		return m.applyBuy(ctx, d, agent)
	case decision.ActionSell:
		return m.applySell(ctx, d, agent)
	default:
		return ExecutionResult{}, fmt.Errorf("unknown action %q", d.Action)
	}
}

func (m *Manager) priorResult(ctx context.Context, decisionID string) (ExecutionResult, bool) {
	m.mu.Lock()
	res, ok := m.applied[decisionID]
	m.mu.Unlock()
	if ok {
		return res, true
	}
	rec, found, err := m.store.TradeByDecisionID(ctx, decisionID)
	if err != nil || !found {
		return ExecutionResult{}, false
	}
	return ExecutionResult{
		DecisionID:  rec.DecisionID,
		Status:      rec.Status,
		Price:       rec.Price,
		Fee:         rec.Fee,
		RealizedPnL: rec.RealizedPnL,
		OrderID:     rec.OrderID,
		Reason:      rec.Reason,
	}, true
}

func (m *Manager) loadOrSeedAgent(ctx context.Context, name string) (store.AgentRecord, error) {
	agent, ok, err := m.store.GetAgent(ctx, name)
	if err != nil {
		return store.AgentRecord{}, err
	}
	if ok {
		return agent, nil
	}
	agent = store.AgentRecord{
		Name:           name,
		InitialCapital: m.initialCapital,
		Cash:           m.initialCapital,
		UpdatedAt:      time.Now(),
	}
	if err := m.store.UpsertAgent(ctx, agent); err != nil {
		return store.AgentRecord{}, err
	}
	logger.Infof("ledger: seeded agent %s with %.2f starting cash", name, m.initialCapital)
	return agent, nil
}

func (m *Manager) applyBuy(ctx context.Context, d decision.Decision, agent store.AgentRecord) (ExecutionResult, error) {
	price, err := m.broker.LatestPrice(ctx, d.Symbol)
	if err != nil {
		res := m.recordOutcome(ctx, d, ExecutionResult{
			DecisionID: d.ID, Status: store.TradeStatusFailed,
			Reason: fmt.Sprintf("price lookup failed: %v", err),
		})
		return res, fmt.Errorf("%w: price lookup: %v", ErrExecutionFailed, err)
	}

	qty := decimal.NewFromFloat(d.Quantity)
	px := decimal.NewFromFloat(price)
	cash := decimal.NewFromFloat(agent.Cash)
	cost := qty.Mul(px).Add(m.fee)
	if cost.GreaterThan(cash) {
		res := m.recordOutcome(ctx, d, ExecutionResult{
			DecisionID: d.ID, Status: store.TradeStatusRejected, Price: price,
			Reason: fmt.Sprintf("cost %s exceeds cash %s", cost, cash),
		})
		return res, ErrInsufficientResources
	}

	// Read the position before placing the order. After acceptance the
	// only recoverable failure is the persist step; guessing an empty
	// position here would clobber the existing row on the upsert.
	pos, havePos, err := m.store.GetPosition(ctx, d.AgentName, d.Symbol)
	if err != nil {
		return ExecutionResult{}, err
	}

	order, err := m.submitOrder(ctx, d, broker.SideBuy)
	if err != nil {
		res := m.recordOutcome(ctx, d, ExecutionResult{
			DecisionID: d.ID, Status: store.TradeStatusFailed, Price: price,
			OrderID: order.OrderID, Reason: err.Error(),
		})
		return res, err
	}

	oldQty := decimal.NewFromFloat(pos.Quantity)
	oldAvg := decimal.NewFromFloat(pos.AvgEntryPrice)
	newQty := oldQty.Add(qty)
	var newAvg decimal.Decimal
	if havePos && oldQty.IsPositive() {
		newAvg = oldQty.Mul(oldAvg).Add(qty.Mul(px)).Div(newQty)
	} else {
		newAvg = px
	}

	agent.Cash, _ = cash.Sub(cost).Float64()
	agent.FeesPaid, _ = decimal.NewFromFloat(agent.FeesPaid).Add(m.fee).Float64()
	agent.Trades++
	agent.UpdatedAt = time.Now()

	feeF, _ := m.fee.Float64()
	newQtyF, _ := newQty.Float64()
	newAvgF, _ := newAvg.Float64()
	result := ExecutionResult{
		DecisionID: d.ID, Status: store.TradeStatusExecuted,
		Price: price, Fee: feeF, OrderID: order.OrderID,
	}
	mut := store.ExecutionMutation{
		Agent: agent,
		Position: &store.PositionRecord{
			AgentName: d.AgentName, Symbol: d.Symbol,
			Quantity: newQtyF, AvgEntryPrice: newAvgF,
		},
		Trade: m.tradeRecord(d, result),
	}
	return m.persist(ctx, d, result, mut)
}

func (m *Manager) applySell(ctx context.Context, d decision.Decision, agent store.AgentRecord) (ExecutionResult, error) {
	pos, havePos, err := m.store.GetPosition(ctx, d.AgentName, d.Symbol)
	if err != nil {
		return ExecutionResult{}, err
	}
	qty := decimal.NewFromFloat(d.Quantity)
	held := decimal.NewFromFloat(pos.Quantity)
	if !havePos || qty.GreaterThan(held) {
		res := m.recordOutcome(ctx, d, ExecutionResult{
			DecisionID: d.ID, Status: store.TradeStatusRejected,
			Reason: fmt.Sprintf("sell %s exceeds open quantity %s", qty, held),
		})
		return res, ErrInsufficientResources
	}

	price, err := m.broker.LatestPrice(ctx, d.Symbol)
	if err != nil {
		res := m.recordOutcome(ctx, d, ExecutionResult{
			DecisionID: d.ID, Status: store.TradeStatusFailed,
			Reason: fmt.Sprintf("price lookup failed: %v", err),
		})
		return res, fmt.Errorf("%w: price lookup: %v", ErrExecutionFailed, err)
	}

	order, err := m.submitOrder(ctx, d, broker.SideSell)
	if err != nil {
		res := m.recordOutcome(ctx, d, ExecutionResult{
			DecisionID: d.ID, Status: store.TradeStatusFailed, Price: price,
			OrderID: order.OrderID, Reason: err.Error(),
		})
		return res, err
	}

	px := decimal.NewFromFloat(price)
	avg := decimal.NewFromFloat(pos.AvgEntryPrice)
	revenue := qty.Mul(px).Sub(m.fee)
	pnl := px.Sub(avg).Mul(qty)

	agent.Cash, _ = decimal.NewFromFloat(agent.Cash).Add(revenue).Float64()
	agent.RealizedPnL, _ = decimal.NewFromFloat(agent.RealizedPnL).Add(pnl).Float64()
	agent.FeesPaid, _ = decimal.NewFromFloat(agent.FeesPaid).Add(m.fee).Float64()
	agent.Trades++
	if pnl.IsPositive() {
		agent.Wins++
	} else {
		agent.Losses++
	}
	agent.UpdatedAt = time.Now()

	remaining := held.Sub(qty)
	feeF, _ := m.fee.Float64()
	pnlF, _ := pnl.Float64()
	result := ExecutionResult{
		DecisionID: d.ID, Status: store.TradeStatusExecuted,
		Price: price, Fee: feeF, RealizedPnL: pnlF, OrderID: order.OrderID,
	}
	mut := store.ExecutionMutation{
		Agent: agent,
		Trade: m.tradeRecord(d, result),
	}
	if remaining.IsZero() {
		mut.DeletePosition = true
	} else {
		remF, _ := remaining.Float64()
		mut.Position = &store.PositionRecord{
			AgentName: d.AgentName, Symbol: d.Symbol,
			Quantity: remF, AvgEntryPrice: pos.AvgEntryPrice,
		}
	}
	return m.persist(ctx, d, result, mut)
}

func (m *Manager) submitOrder(ctx context.Context, d decision.Decision, side string) (broker.OrderResult, error) {
	order, err := m.broker.SubmitMarketOrder(ctx, broker.OrderRequest{
		Symbol:        d.Symbol,
		Qty:           decimal.NewFromFloat(d.Quantity),
		Side:          side,
		ClientOrderID: d.ID,
	})
	if err != nil {
		return order, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	if !order.Accepted {
		return order, fmt.Errorf("%w: order status %s", ErrExecutionFailed, order.Status)
	}
	return order, nil
}

// persist commits the execution mutation. On a store failure the order has
// already been accepted, so the mutation is queued for replay and the
// caller still gets the executed result.
func (m *Manager) persist(ctx context.Context, d decision.Decision, result ExecutionResult, mut store.ExecutionMutation) (ExecutionResult, error) {
	m.mu.Lock()
	m.applied[d.ID] = result
	m.mu.Unlock()

	if err := m.store.ApplyExecution(ctx, mut); err != nil {
		logger.Errorf("ledger: store write failed for %s, queued for replay: %v", d.ID, err)
		m.mu.Lock()
		m.pending = append(m.pending, mut)
		m.mu.Unlock()
		return result, err
	}
	return result, nil
}

// RetryPending replays queued ledger mutations whose original store write
// failed. Called at the top of every cycle.
func (m *Manager) RetryPending(ctx context.Context) {
	m.mu.Lock()
	queued := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(queued) == 0 {
		return
	}
	logger.Infof("ledger: replaying %d pending store writes", len(queued))
	for _, mut := range queued {
		if err := m.store.ApplyExecution(ctx, mut); err != nil {
			logger.Errorf("ledger: replay for %s failed again: %v", mut.Trade.DecisionID, err)
			m.mu.Lock()
			m.pending = append(m.pending, mut)
			m.mu.Unlock()
		}
	}
}

// PendingWrites reports the replay queue depth.
func (m *Manager) PendingWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// recordOutcome persists a non-executed outcome row (held, rejected,
// failed). Write failures here only lose audit detail, so they are logged
// rather than propagated.
func (m *Manager) recordOutcome(ctx context.Context, d decision.Decision, result ExecutionResult) ExecutionResult {
	m.mu.Lock()
	m.applied[d.ID] = result
	m.mu.Unlock()
	if err := m.store.RecordTrade(ctx, m.tradeRecord(d, result)); err != nil {
		logger.Warnf("ledger: recording %s outcome for %s failed: %v", result.Status, d.ID, err)
	}
	return result
}

func (m *Manager) tradeRecord(d decision.Decision, result ExecutionResult) store.TradeRecord {
	payload, _ := json.Marshal(map[string]any{
		"id":         d.ID,
		"agent":      d.AgentName,
		"cycle":      d.CycleID,
		"symbol":     d.Symbol,
		"action":     string(d.Action),
		"quantity":   d.Quantity,
		"confidence": d.Confidence,
		"source":     string(d.Source),
		"reasoning":  d.Reasoning,
	})
	return store.TradeRecord{
		DecisionID:   d.ID,
		AgentName:    d.AgentName,
		CycleID:      d.CycleID,
		Symbol:       d.Symbol,
		Action:       string(d.Action),
		Status:       result.Status,
		Quantity:     d.Quantity,
		Price:        result.Price,
		Fee:          result.Fee,
		RealizedPnL:  result.RealizedPnL,
		OrderID:      result.OrderID,
		Reason:       result.Reason,
		DecisionJSON: payload,
		CreatedAt:    time.Now(),
	}
}
