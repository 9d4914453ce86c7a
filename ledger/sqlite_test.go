package ledger

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func newTestStore(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	s, err := NewSQLite(path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, path
}

func seedSession(t *testing.T, s *SQLite, id, name string) {
	t.Helper()

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	assert.NoError(t, s.UpsertSession(Session{
		ID:           id,
		Name:         name,
		CreatedAt:    now,
		LastActiveAt: now,
	}))
}

func openTestTrade(t *testing.T, s *SQLite, tradeID, sessionID string, at time.Time) {
	t.Helper()

	assert.NoError(t, s.OpenTrade(Trade{
		ID:         tradeID,
		SessionID:  sessionID,
		Symbol:     "BTC-USD",
		Side:       "buy",
		Leverage:   5,
		EntryPrice: 100,
		Size:       10,
		SizePct:    10,
		StopPrice:  98,
		TakeProfit: 104,
		OpenedAt:   at,
	}))
}

func TestSchemaCreated(t *testing.T) {
	t.Parallel()

	s, path := newTestStore(t)
	assert.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'
		AND name IN ('sessions','trades','stop_adjustments','risk_events','cost_records')`)
	assert.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	for _, table := range []string{"sessions", "trades", "stop_adjustments", "risk_events", "cost_records"} {
		assert.True(t, found[table], table)
	}
}

func TestSessionUpsertAndLookup(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "btc-scalper")

	got, err := s.GetSession("btc-scalper")
	assert.NoError(t, err)
	assert.Equal(t, "S1", got.ID)

	// Re-registering under the same name keeps the identity and bumps
	// last_active_at.
	later := got.LastActiveAt.Add(time.Hour)
	assert.NoError(t, s.UpsertSession(Session{
		ID:           "S1",
		Name:         "btc-scalper",
		CreatedAt:    got.CreatedAt,
		LastActiveAt: later,
		ConfigJSON:   `{"symbols":["BTC-USD"]}`,
	}))

	got, err = s.GetSession("btc-scalper")
	assert.NoError(t, err)
	assert.Equal(t, "S1", got.ID)
	assert.True(t, got.LastActiveAt.Equal(later))
	assert.Contains(t, got.ConfigJSON, "BTC-USD")

	all, err := s.ListSessions()
	assert.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.GetSession("nope")
	assert.Error(t, err)
}

func TestTradeLifecycle(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "sess")

	opened := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	openTestTrade(t, s, "T1", "S1", opened)

	open, err := s.GetOpenTrade("S1")
	assert.NoError(t, err)
	if assert.NotNil(t, open) {
		assert.Equal(t, "T1", open.ID)
		assert.True(t, open.Open())
		assert.Nil(t, open.RealizedPL)
		assert.Equal(t, CloseReason(""), open.CloseReason)
	}

	closed := opened.Add(45 * time.Minute)
	assert.NoError(t, s.CloseTrade("T1", closed, 42.5, CloseTargetHit))

	got, err := s.GetTrade("T1")
	assert.NoError(t, err)
	assert.False(t, got.Open())
	if assert.NotNil(t, got.RealizedPL) {
		assert.Equal(t, 42.5, *got.RealizedPL)
	}
	assert.Equal(t, CloseTargetHit, got.CloseReason)

	open, err = s.GetOpenTrade("S1")
	assert.NoError(t, err)
	assert.Nil(t, open)
}

func TestCloseTradeIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "sess")

	opened := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	openTestTrade(t, s, "T1", "S1", opened)

	first := opened.Add(time.Hour)
	assert.NoError(t, s.CloseTrade("T1", first, -10, CloseStopHit))

	// A replayed confirmation must not rewrite the settled row.
	assert.NoError(t, s.CloseTrade("T1", first.Add(time.Hour), 99, CloseManual))

	got, err := s.GetTrade("T1")
	assert.NoError(t, err)
	assert.Equal(t, CloseStopHit, got.CloseReason)
	assert.Equal(t, -10.0, *got.RealizedPL)
	assert.True(t, got.ClosedAt.Equal(first))
}

func TestCloseTradeRejectsUnknownReason(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "sess")
	openTestTrade(t, s, "T1", "S1", time.Now().UTC())

	err := s.CloseTrade("T1", time.Now().UTC(), 0, CloseReason("because"))
	assert.Error(t, err)
}

func TestOneOpenTradePerSession(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "sess")

	opened := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	openTestTrade(t, s, "T1", "S1", opened)

	// Second live trade violates the partial unique index.
	err := s.OpenTrade(Trade{
		ID: "T2", SessionID: "S1", Symbol: "ETH-USD", Side: "sell",
		Leverage: 2, EntryPrice: 50, Size: 1, SizePct: 5,
		StopPrice: 51, TakeProfit: 45, OpenedAt: opened.Add(time.Minute),
	})
	assert.Error(t, err)

	// Once T1 settles, a new open is fine.
	assert.NoError(t, s.CloseTrade("T1", opened.Add(time.Hour), 5, CloseManual))
	openTestTrade(t, s, "T2", "S1", opened.Add(2*time.Hour))
}

func TestDailyWindowQueries(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "sess")
	seedSession(t, s, "S2", "other")

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	next := day.Add(24 * time.Hour)

	openTestTrade(t, s, "T1", "S1", day.Add(1*time.Hour))
	assert.NoError(t, s.CloseTrade("T1", day.Add(2*time.Hour), -100, CloseStopHit))
	openTestTrade(t, s, "T2", "S1", day.Add(3*time.Hour))
	assert.NoError(t, s.CloseTrade("T2", day.Add(4*time.Hour), 60, CloseTargetHit))

	// Yesterday's trade stays out of today's window.
	openTestTrade(t, s, "T0", "S1", day.Add(-2*time.Hour))
	assert.NoError(t, s.CloseTrade("T0", day.Add(-1*time.Hour), 500, CloseTargetHit))

	// Another session's activity is invisible.
	openTestTrade(t, s, "TX", "S2", day.Add(1*time.Hour))

	n, err := s.CountTradesOpenedBetween("S1", day, next)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	sum, err := s.SumRealizedBetween("S1", day, next)
	assert.NoError(t, err)
	assert.InDelta(t, -40, sum, 1e-9)

	last, err := s.LastCloseTime("S1")
	assert.NoError(t, err)
	assert.True(t, last.Equal(day.Add(4*time.Hour)))

	// Untouched session has no close time.
	last, err = s.LastCloseTime("S2")
	assert.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestAdjustmentHistory(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "sess")
	openTestTrade(t, s, "T1", "S1", time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))

	at := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
	assert.NoError(t, s.RecordAdjustment(StopAdjustment{
		TradeID: "T1", StopPrice: 99, TakeProfit: 104, Reason: "trail", CreatedAt: at,
	}))
	assert.NoError(t, s.RecordAdjustment(StopAdjustment{
		TradeID: "T1", StopPrice: 100, TakeProfit: 105, Reason: "trail", CreatedAt: at.Add(time.Minute),
	}))

	hist, err := s.ListAdjustments("T1")
	assert.NoError(t, err)
	if assert.Len(t, hist, 2) {
		assert.Less(t, hist[0].Seq, hist[1].Seq)
		assert.Equal(t, 99.0, hist[0].StopPrice)
		assert.Equal(t, 100.0, hist[1].StopPrice)
	}
}

func TestRiskEventsAppendOnly(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "sess")

	at := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	for i, rule := range []string{"daily_trade_ceiling", "cooldown_active"} {
		assert.NoError(t, s.RecordRiskEvent(RiskEvent{
			SessionID:   "S1",
			CreatedAt:   at.Add(time.Duration(i) * time.Minute),
			Severity:    "breach",
			Rule:        rule,
			Description: "denied",
			Action:      "denied",
		}))
	}

	events, err := s.ListRiskEvents("S1", 10)
	assert.NoError(t, err)
	if assert.Len(t, events, 2) {
		// Newest first.
		assert.Equal(t, "cooldown_active", events[0].Rule)
		assert.Equal(t, "daily_trade_ceiling", events[1].Rule)
	}
}

func TestCostAccounting(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "sess")

	at := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	assert.NoError(t, s.RecordCost(CostRecord{
		SessionID: "S1", CallType: "initiate", CreatedAt: at,
		EstimatedCost: 0.02, Latency: 1200 * time.Millisecond,
	}))
	assert.NoError(t, s.RecordCost(CostRecord{
		SessionID: "S1", CallType: "monitor", CreatedAt: at.Add(time.Minute),
		EstimatedCost: 0.01, Latency: 800 * time.Millisecond,
	}))

	sum, err := s.SumCosts("S1")
	assert.NoError(t, err)
	assert.InDelta(t, 0.03, sum, 1e-9)

	sum, err = s.SumCosts("S2")
	assert.NoError(t, err)
	assert.Zero(t, sum)
}

func TestPerformanceAggregate(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	seedSession(t, s, "S1", "sess")

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	results := []float64{100, -40, 20, -10}
	for i, pl := range results {
		id := string(rune('A' + i))
		openTestTrade(t, s, id, "S1", day.Add(time.Duration(i)*time.Hour))
		reason := CloseTargetHit
		if pl < 0 {
			reason = CloseStopHit
		}
		assert.NoError(t, s.CloseTrade(id, day.Add(time.Duration(i)*time.Hour+30*time.Minute), pl, reason))
	}

	p, err := s.Performance("S1")
	assert.NoError(t, err)
	assert.Equal(t, 4, p.Trades)
	assert.Equal(t, 2, p.Wins)
	assert.Equal(t, 2, p.Losses)
	assert.InDelta(t, 0.5, p.WinRate, 1e-9)
	assert.InDelta(t, 70, p.TotalPL, 1e-9)
	assert.InDelta(t, 17.5, p.AvgPL, 1e-9)

	// Empty session aggregates cleanly.
	p, err = s.Performance("S9")
	assert.NoError(t, err)
	assert.Zero(t, p.Trades)
	assert.Zero(t, p.WinRate)
}

func TestValidCloseReason(t *testing.T) {
	t.Parallel()

	for _, r := range []CloseReason{CloseTargetHit, CloseStopHit, CloseManual, CloseRiskForced, CloseEmergencyStop} {
		assert.True(t, ValidCloseReason(r), string(r))
	}
	assert.False(t, ValidCloseReason("oops"))
	assert.False(t, ValidCloseReason(""))
}
