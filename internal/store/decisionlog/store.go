package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one appended decision-log row. Review notes from the position
// review loop land here too, with Source "review".
type Record struct {
	ID         int64     `json:"id"`
	DecisionID string    `json:"decision_id"`
	AgentName  string    `json:"agent_name"`
	CycleID    string    `json:"cycle_id"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Quantity   float64   `json:"quantity"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Reasoning  string    `json:"reasoning"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is an append-only decision log on plain database/sql. It is kept
// separate from the ledger database so audit writes never contend with
// execution transactions.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decision_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			decision_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			cycle_id TEXT,
			symbol TEXT,
			action TEXT,
			quantity REAL,
			confidence REAL,
			source TEXT,
			reasoning TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_log_agent ON decision_log(agent_name)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_log_cycle ON decision_log(cycle_id)`,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("decision log schema: %w", err)
		}
	}
	// status arrived after the first schema version
	return s.addColumnIfMissing("decision_log", "status", "TEXT")
}

func (s *Store) addColumnIfMissing(table, column, typ string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ))
	return err
}

func (s *Store) Append(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("decision log not initialized")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_log
			(decision_id, agent_name, cycle_id, symbol, action, quantity, confidence, source, reasoning, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DecisionID, rec.AgentName, rec.CycleID, rec.Symbol, rec.Action,
		rec.Quantity, rec.Confidence, rec.Source, rec.Reasoning, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("decision log append: %w", err)
	}
	return nil
}

// Recent returns the newest rows, optionally filtered by agent.
func (s *Store) Recent(ctx context.Context, agent string, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("decision log not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, decision_id, agent_name, cycle_id, symbol, action, quantity, confidence, source, reasoning, COALESCE(status, ''), created_at
		FROM decision_log`
	args := []any{}
	if agent != "" {
		query += ` WHERE agent_name = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryRecords(ctx, query, args...)
}

// ByCycle returns every decision logged for one cycle, oldest first.
func (s *Store) ByCycle(ctx context.Context, cycleID string) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("decision log not initialized")
	}
	query := `SELECT id, decision_id, agent_name, cycle_id, symbol, action, quantity, confidence, source, reasoning, COALESCE(status, ''), created_at
		FROM decision_log WHERE cycle_id = ? ORDER BY id ASC`
	return s.queryRecords(ctx, query, cycleID)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.DecisionID, &rec.AgentName, &rec.CycleID, &rec.Symbol,
			&rec.Action, &rec.Quantity, &rec.Confidence, &rec.Source,
			&rec.Reasoning, &rec.Status, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
