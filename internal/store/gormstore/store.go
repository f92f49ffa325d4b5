package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quorum/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore persists agents, positions and trades with Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// NewGormStore opens (and migrates) the ledger database at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&agentModel{}, &positionModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little parallelism for HTTP reads while keeping
	// lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------- agents -------------------------

func (s *GormStore) UpsertAgent(ctx context.Context, rec store.AgentRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("agent name required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	m := newAgentModel(rec)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"model", "cash", "realized_pnl", "fees_paid",
				"trades", "wins", "losses", "updated_at",
			}),
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("%w: upsert agent %s: %v", store.ErrWriteFailed, rec.Name, err)
	}
	return nil
}

func (s *GormStore) GetAgent(ctx context.Context, name string) (store.AgentRecord, bool, error) {
	if s == nil || s.db == nil {
		return store.AgentRecord{}, false, fmt.Errorf("gorm store not initialized")
	}
	var m agentModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.AgentRecord{}, false, nil
	}
	if err != nil {
		return store.AgentRecord{}, false, err
	}
	return agentModelToRecord(m), true, nil
}

func (s *GormStore) ListAgents(ctx context.Context) ([]store.AgentRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []agentModel
	if err := s.db.WithContext(ctx).Order("name asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.AgentRecord, 0, len(models))
	for _, m := range models {
		out = append(out, agentModelToRecord(m))
	}
	return out, nil
}

// --------------------- positions -------------------------

func (s *GormStore) GetPosition(ctx context.Context, agent, symbol string) (store.PositionRecord, bool, error) {
	if s == nil || s.db == nil {
		return store.PositionRecord{}, false, fmt.Errorf("gorm store not initialized")
	}
	var m positionModel
	err := s.db.WithContext(ctx).
		Where("agent_name = ? AND symbol = ?", agent, symbol).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.PositionRecord{}, false, nil
	}
	if err != nil {
		return store.PositionRecord{}, false, err
	}
	return positionModelToRecord(m), true, nil
}

func (s *GormStore) ListPositions(ctx context.Context, agent string) ([]store.PositionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	q := s.db.WithContext(ctx).Model(&positionModel{})
	if agent != "" {
		q = q.Where("agent_name = ?", agent)
	}
	var models []positionModel
	if err := q.Order("agent_name asc, symbol asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.PositionRecord, 0, len(models))
	for _, m := range models {
		out = append(out, positionModelToRecord(m))
	}
	return out, nil
}

// --------------------- trades -------------------------

func (s *GormStore) TradeByDecisionID(ctx context.Context, decisionID string) (store.TradeRecord, bool, error) {
	if s == nil || s.db == nil {
		return store.TradeRecord{}, false, fmt.Errorf("gorm store not initialized")
	}
	var m tradeModel
	err := s.db.WithContext(ctx).Where("decision_id = ?", decisionID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.TradeRecord{}, false, nil
	}
	if err != nil {
		return store.TradeRecord{}, false, err
	}
	return tradeModelToRecord(m), true, nil
}

func (s *GormStore) RecentTrades(ctx context.Context, agent string, limit int) ([]store.TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Model(&tradeModel{})
	if agent != "" {
		q = q.Where("agent_name = ?", agent)
	}
	var models []tradeModel
	if err := q.Order("created_at desc, id desc").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToRecord(m))
	}
	return out, nil
}

// RecordTrade appends a trade outcome row. Conflicting decision IDs are
// ignored so a replay cannot double-record.
func (s *GormStore) RecordTrade(ctx context.Context, rec store.TradeRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m := newTradeModel(rec)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "decision_id"}},
			DoNothing: true,
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("%w: record trade %s: %v", store.ErrWriteFailed, rec.DecisionID, err)
	}
	return nil
}

// ApplyExecution writes the agent, position and trade rows of one accepted
// order inside a single transaction, so the ledger never reflects half an
// execution.
func (s *GormStore) ApplyExecution(ctx context.Context, mut store.ExecutionMutation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	now := time.Now()
	if mut.Agent.UpdatedAt.IsZero() {
		mut.Agent.UpdatedAt = now
	}
	if mut.Trade.CreatedAt.IsZero() {
		mut.Trade.CreatedAt = now
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		am := newAgentModel(mut.Agent)
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"model", "cash", "realized_pnl", "fees_paid",
				"trades", "wins", "losses", "updated_at",
			}),
		}).Create(&am).Error; err != nil {
			return err
		}

		if mut.DeletePosition {
			if err := tx.Where("agent_name = ? AND symbol = ?", mut.Trade.AgentName, mut.Trade.Symbol).
				Delete(&positionModel{}).Error; err != nil {
				return err
			}
		} else if mut.Position != nil {
			if mut.Position.Quantity < 0 {
				return fmt.Errorf("refusing negative position %s/%s", mut.Position.AgentName, mut.Position.Symbol)
			}
			pos := *mut.Position
			if pos.UpdatedAt.IsZero() {
				pos.UpdatedAt = now
			}
			pm := newPositionModel(pos)
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "agent_name"}, {Name: "symbol"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"quantity", "avg_entry_price", "updated_at",
				}),
			}).Create(&pm).Error; err != nil {
				return err
			}
		}

		tm := newTradeModel(mut.Trade)
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "decision_id"}},
			DoNothing: true,
		}).Create(&tm).Error
	})
	if err != nil {
		return fmt.Errorf("%w: apply execution %s: %v", store.ErrWriteFailed, mut.Trade.DecisionID, err)
	}
	return nil
}

// WinLoss returns the executed win/loss counts for an agent, used for
// consortium weighting.
func (s *GormStore) WinLoss(ctx context.Context, agent string) (wins, losses int, err error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("gorm store not initialized")
	}
	rec, ok, err := s.GetAgent(ctx, agent)
	if err != nil || !ok {
		return 0, 0, err
	}
	return rec.Wins, rec.Losses, nil
}
