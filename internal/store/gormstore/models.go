package gormstore

import (
	"time"

	"quorum/internal/store"

	"gorm.io/datatypes"
)

type agentModel struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	Name           string    `gorm:"column:name;uniqueIndex;size:64;not null"`
	Model          string    `gorm:"column:model;size:128"`
	InitialCapital float64   `gorm:"column:initial_capital"`
	Cash           float64   `gorm:"column:cash"`
	RealizedPnL    float64   `gorm:"column:realized_pnl"`
	FeesPaid       float64   `gorm:"column:fees_paid"`
	Trades         int       `gorm:"column:trades"`
	Wins           int       `gorm:"column:wins"`
	Losses         int       `gorm:"column:losses"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (agentModel) TableName() string { return "agents" }

type positionModel struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	AgentName     string    `gorm:"column:agent_name;size:64;not null;uniqueIndex:idx_positions_agent_symbol"`
	Symbol        string    `gorm:"column:symbol;size:16;not null;uniqueIndex:idx_positions_agent_symbol"`
	Quantity      float64   `gorm:"column:quantity"`
	AvgEntryPrice float64   `gorm:"column:avg_entry_price"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (positionModel) TableName() string { return "positions" }

type tradeModel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	DecisionID  string    `gorm:"column:decision_id;uniqueIndex;size:64;not null"`
	AgentName   string    `gorm:"column:agent_name;index;size:64;not null"`
	CycleID     string    `gorm:"column:cycle_id;size:64"`
	Symbol      string    `gorm:"column:symbol;size:16"`
	Action      string    `gorm:"column:action;size:8"`
	Status      string    `gorm:"column:status;size:16"`
	Quantity    float64   `gorm:"column:quantity"`
	Price       float64   `gorm:"column:price"`
	Fee         float64   `gorm:"column:fee"`
	RealizedPnL float64   `gorm:"column:realized_pnl"`
	OrderID     string    `gorm:"column:order_id;size:64"`
	Reason      string    `gorm:"column:reason;type:text"`
	// Full decision payload snapshot for audit, stored as JSON.
	Decision  datatypes.JSON `gorm:"column:decision_json"`
	CreatedAt time.Time      `gorm:"column:created_at;index"`
}

func (tradeModel) TableName() string { return "trade_records" }

func newAgentModel(rec store.AgentRecord) agentModel {
	return agentModel{
		Name:           rec.Name,
		Model:          rec.Model,
		InitialCapital: rec.InitialCapital,
		Cash:           rec.Cash,
		RealizedPnL:    rec.RealizedPnL,
		FeesPaid:       rec.FeesPaid,
		Trades:         rec.Trades,
		Wins:           rec.Wins,
		Losses:         rec.Losses,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func agentModelToRecord(m agentModel) store.AgentRecord {
	return store.AgentRecord{
		Name:           m.Name,
		Model:          m.Model,
		InitialCapital: m.InitialCapital,
		Cash:           m.Cash,
		RealizedPnL:    m.RealizedPnL,
		FeesPaid:       m.FeesPaid,
		Trades:         m.Trades,
		Wins:           m.Wins,
		Losses:         m.Losses,
		UpdatedAt:      m.UpdatedAt,
	}
}

func newPositionModel(rec store.PositionRecord) positionModel {
	return positionModel{
		AgentName:     rec.AgentName,
		Symbol:        rec.Symbol,
		Quantity:      rec.Quantity,
		AvgEntryPrice: rec.AvgEntryPrice,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func positionModelToRecord(m positionModel) store.PositionRecord {
	return store.PositionRecord{
		AgentName:     m.AgentName,
		Symbol:        m.Symbol,
		Quantity:      m.Quantity,
		AvgEntryPrice: m.AvgEntryPrice,
		UpdatedAt:     m.UpdatedAt,
	}
}

func newTradeModel(rec store.TradeRecord) tradeModel {
	return tradeModel{
		DecisionID:  rec.DecisionID,
		AgentName:   rec.AgentName,
		CycleID:     rec.CycleID,
		Symbol:      rec.Symbol,
		Action:      rec.Action,
		Status:      rec.Status,
		Quantity:    rec.Quantity,
		Price:       rec.Price,
		Fee:         rec.Fee,
		RealizedPnL: rec.RealizedPnL,
		OrderID:     rec.OrderID,
		Reason:      rec.Reason,
		Decision:    datatypes.JSON(rec.DecisionJSON),
		CreatedAt:   rec.CreatedAt,
	}
}

func tradeModelToRecord(m tradeModel) store.TradeRecord {
	return store.TradeRecord{
		DecisionID:  m.DecisionID,
		AgentName:   m.AgentName,
		CycleID:     m.CycleID,
		Symbol:      m.Symbol,
		Action:      m.Action,
		Status:      m.Status,
		Quantity:    m.Quantity,
		Price:       m.Price,
		Fee:         m.Fee,
		RealizedPnL: m.RealizedPnL,
		OrderID:     m.OrderID,
		Reason:      m.Reason,
		DecisionJSON: []byte(m.Decision),
		CreatedAt:   m.CreatedAt,
	}
}
