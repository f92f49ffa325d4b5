package store

import (
	"context"
	"errors"
	"time"
)

// ErrWriteFailed wraps persistence failures so callers can tell a lost
// write apart from a rejected operation.
var ErrWriteFailed = errors.New("store write failed")

// AgentRecord is the durable ledger state of one agent.
type AgentRecord struct {
	Name           string    `json:"name"`
	Model          string    `json:"model"`
	InitialCapital float64   `json:"initial_capital"`
	Cash           float64   `json:"cash"`
	RealizedPnL    float64   `json:"realized_pnl"`
	FeesPaid       float64   `json:"fees_paid"`
	Trades         int       `json:"trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PositionRecord is one open holding, unique per (agent, symbol).
type PositionRecord struct {
	AgentName     string    `json:"agent_name"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Trade outcome statuses.
const (
	TradeStatusExecuted = "executed"
	TradeStatusRejected = "rejected"
	TradeStatusFailed   = "failed"
	TradeStatusHeld     = "held"
)

// TradeRecord is append-only. DecisionID is unique; a replayed decision
// must not produce a second row.
type TradeRecord struct {
	DecisionID  string
	AgentName   string
	CycleID     string
	Symbol      string
	Action      string
	Status      string
	Quantity    float64
	Price       float64
	Fee         float64
	RealizedPnL float64
	OrderID     string
	Reason      string
	// DecisionJSON is the serialized decision that produced this trade.
	DecisionJSON []byte
	CreatedAt    time.Time
}

// ExecutionMutation is the ledger delta of one accepted order. Store
// implementations apply all parts in a single transaction.
type ExecutionMutation struct {
	Agent          AgentRecord
	Position       *PositionRecord
	DeletePosition bool
	Trade          TradeRecord
}

// Store is the persistence surface the execution manager and the agents
// depend on.
type Store interface {
	UpsertAgent(ctx context.Context, rec AgentRecord) error
	GetAgent(ctx context.Context, name string) (AgentRecord, bool, error)
	ListAgents(ctx context.Context) ([]AgentRecord, error)

	GetPosition(ctx context.Context, agent, symbol string) (PositionRecord, bool, error)
	ListPositions(ctx context.Context, agent string) ([]PositionRecord, error)

	TradeByDecisionID(ctx context.Context, decisionID string) (TradeRecord, bool, error)
	RecentTrades(ctx context.Context, agent string, limit int) ([]TradeRecord, error)
	RecordTrade(ctx context.Context, rec TradeRecord) error
	ApplyExecution(ctx context.Context, mut ExecutionMutation) error

	Close() error
}
