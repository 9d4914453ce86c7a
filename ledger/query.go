package ledger

import (
	"database/sql"
	"fmt"
	"time"
)

const tradeColumns = `id, session_id, symbol, side, leverage, entry_price, size, size_pct,
	stop_price, take_profit, opened_at, closed_at, realized_pl, close_reason`

func scanTrade(row interface{ Scan(...any) error }) (Trade, error) {
	var t Trade
	var closedAt sql.NullTime
	var realized sql.NullFloat64
	var reason sql.NullString

	err := row.Scan(
		&t.ID, &t.SessionID, &t.Symbol, &t.Side, &t.Leverage, &t.EntryPrice,
		&t.Size, &t.SizePct, &t.StopPrice, &t.TakeProfit, &t.OpenedAt,
		&closedAt, &realized, &reason,
	)
	if err != nil {
		return Trade{}, err
	}
	if closedAt.Valid {
		ct := closedAt.Time
		t.ClosedAt = &ct
	}
	if realized.Valid {
		pl := realized.Float64
		t.RealizedPL = &pl
	}
	if reason.Valid {
		t.CloseReason = CloseReason(reason.String)
	}
	return t, nil
}

func (s *SQLite) GetSession(name string) (Session, error) {
	var sess Session
	row := s.db.QueryRow(`
		SELECT id, name, created_at, last_active_at, config_json
		FROM sessions WHERE name = ?`, name)
	err := row.Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.LastActiveAt, &sess.ConfigJSON)
	if err == sql.ErrNoRows {
		return Session{}, fmt.Errorf("session %q not found", name)
	}
	return sess, err
}

func (s *SQLite) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, name, created_at, last_active_at, config_json
		FROM sessions ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.CreatedAt, &sess.LastActiveAt, &sess.ConfigJSON); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLite) GetTrade(tradeID string) (Trade, error) {
	row := s.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, tradeID)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return Trade{}, fmt.Errorf("trade %q not found", tradeID)
	}
	return t, err
}

// GetOpenTrade returns the session's live trade, or nil when flat.
func (s *SQLite) GetOpenTrade(sessionID string) (*Trade, error) {
	row := s.db.QueryRow(`
		SELECT `+tradeColumns+` FROM trades
		WHERE session_id = ? AND closed_at IS NULL`, sessionID)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) ListTrades(sessionID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+tradeColumns+` FROM trades
		WHERE session_id = ?
		ORDER BY opened_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) CountTradesOpenedBetween(sessionID string, start, end time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM trades
		WHERE session_id = ? AND opened_at >= ? AND opened_at < ?`,
		sessionID, start, end,
	).Scan(&n)
	return n, err
}

func (s *SQLite) SumRealizedBetween(sessionID string, start, end time.Time) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT SUM(realized_pl) FROM trades
		WHERE session_id = ? AND closed_at >= ? AND closed_at < ?`,
		sessionID, start, end,
	).Scan(&sum)
	return sum.Float64, err
}

// LastCloseTime returns the most recent close time for the session, zero
// when nothing has closed yet.
func (s *SQLite) LastCloseTime(sessionID string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(`
		SELECT closed_at FROM trades
		WHERE session_id = ? AND closed_at IS NOT NULL
		ORDER BY closed_at DESC LIMIT 1`, sessionID,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return t, err
}

func (s *SQLite) ListAdjustments(tradeID string) ([]StopAdjustment, error) {
	rows, err := s.db.Query(`
		SELECT seq, trade_id, stop_price, take_profit, reason, created_at
		FROM stop_adjustments WHERE trade_id = ?
		ORDER BY seq ASC`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StopAdjustment
	for rows.Next() {
		var a StopAdjustment
		if err := rows.Scan(&a.Seq, &a.TradeID, &a.StopPrice, &a.TakeProfit, &a.Reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) ListRiskEvents(sessionID string, limit int) ([]RiskEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`
		SELECT seq, session_id, created_at, severity, rule, description, action
		FROM risk_events WHERE session_id = ?
		ORDER BY seq DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RiskEvent
	for rows.Next() {
		var e RiskEvent
		if err := rows.Scan(&e.Seq, &e.SessionID, &e.CreatedAt, &e.Severity, &e.Rule, &e.Description, &e.Action); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) SumCosts(sessionID string) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT SUM(estimated_cost) FROM cost_records WHERE session_id = ?`,
		sessionID,
	).Scan(&sum)
	return sum.Float64, err
}

// Performance aggregates closed trades for the operator surface.
func (s *SQLite) Performance(sessionID string) (Performance, error) {
	var p Performance
	var total sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN realized_pl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN realized_pl < 0 THEN 1 ELSE 0 END), 0),
			SUM(realized_pl)
		FROM trades
		WHERE session_id = ? AND closed_at IS NOT NULL`, sessionID,
	).Scan(&p.Trades, &p.Wins, &p.Losses, &total)
	if err != nil {
		return Performance{}, err
	}

	p.TotalPL = total.Float64
	if p.Trades > 0 {
		p.WinRate = float64(p.Wins) / float64(p.Trades)
		p.AvgPL = p.TotalPL / float64(p.Trades)
	}
	return p, nil
}
