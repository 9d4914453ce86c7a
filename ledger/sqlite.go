package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the default Store. WAL mode plus a busy timeout lets concurrent
// sessions append to their own namespaces without cross-session locking.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) UpsertSession(sess Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, name, created_at, last_active_at, config_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_active_at = excluded.last_active_at,
			config_json = excluded.config_json`,
		sess.ID, sess.Name, sess.CreatedAt, sess.LastActiveAt, sess.ConfigJSON,
	)
	return err
}

func (s *SQLite) TouchSession(sessionID string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET last_active_at = ? WHERE id = ?`, at, sessionID)
	return err
}

func (s *SQLite) OpenTrade(t Trade) error {
	_, err := s.db.Exec(`
		INSERT INTO trades
		(id, session_id, symbol, side, leverage, entry_price, size, size_pct,
		 stop_price, take_profit, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Symbol, t.Side, t.Leverage, t.EntryPrice,
		t.Size, t.SizePct, t.StopPrice, t.TakeProfit, t.OpenedAt,
	)
	return err
}

// CloseTrade finalizes a live trade. It refuses unknown close reasons and is
// a no-op on an already-closed trade, which makes replayed confirmations
// harmless.
func (s *SQLite) CloseTrade(tradeID string, closedAt time.Time, realizedPL float64, reason CloseReason) error {
	if !ValidCloseReason(reason) {
		return fmt.Errorf("invalid close reason %q", reason)
	}
	_, err := s.db.Exec(`
		UPDATE trades
		SET closed_at = ?, realized_pl = ?, close_reason = ?
		WHERE id = ? AND closed_at IS NULL`,
		closedAt, realizedPL, string(reason), tradeID,
	)
	return err
}

func (s *SQLite) RecordAdjustment(a StopAdjustment) error {
	_, err := s.db.Exec(`
		INSERT INTO stop_adjustments (trade_id, stop_price, take_profit, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.TradeID, a.StopPrice, a.TakeProfit, a.Reason, a.CreatedAt,
	)
	return err
}

func (s *SQLite) RecordRiskEvent(e RiskEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO risk_events (session_id, created_at, severity, rule, description, action)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.CreatedAt, e.Severity, e.Rule, e.Description, e.Action,
	)
	return err
}

func (s *SQLite) RecordCost(c CostRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO cost_records (session_id, call_type, created_at, estimated_cost, latency_ms)
		VALUES (?, ?, ?, ?, ?)`,
		c.SessionID, c.CallType, c.CreatedAt, c.EstimatedCost, c.Latency.Milliseconds(),
	)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
