// Package ledger is the durable, append-mostly audit trail: sessions,
// trades, stop adjustments, risk events, and oracle cost records. Everything
// the governor refuses or executes leaves a row here.
package ledger

import "time"

// CloseReason is the canonical vocabulary recorded on every closed trade.
type CloseReason string

const (
	CloseTargetHit     CloseReason = "target_hit"
	CloseStopHit       CloseReason = "stop_hit"
	CloseManual        CloseReason = "manual_close"
	CloseRiskForced    CloseReason = "risk_forced_close"
	CloseEmergencyStop CloseReason = "emergency_stop"
)

// ValidCloseReason reports membership in the closed enum.
func ValidCloseReason(r CloseReason) bool {
	switch r {
	case CloseTargetHit, CloseStopHit, CloseManual, CloseRiskForced, CloseEmergencyStop:
		return true
	}
	return false
}

// Session is the durable identity of one trading control loop.
type Session struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ConfigJSON   string // configuration snapshot at creation
}

// Trade is one position lifecycle. ClosedAt, RealizedPL and CloseReason are
// null while the position is live; once set the row is immutable except for
// append-only adjustment records.
type Trade struct {
	ID          string
	SessionID   string
	Symbol      string
	Side        string
	Leverage    float64
	EntryPrice  float64
	Size        float64 // base quantity
	SizePct     float64 // percent of balance at entry
	StopPrice   float64
	TakeProfit  float64
	OpenedAt    time.Time
	ClosedAt    *time.Time
	RealizedPL  *float64
	CloseReason CloseReason // "" while open
}

// Open reports whether the trade is still live.
func (t Trade) Open() bool { return t.ClosedAt == nil }

// StopAdjustment is one TP/SL change during monitoring. Appended, never
// overwritten, so a trade's full adjustment history is reconstructible.
type StopAdjustment struct {
	Seq        int64
	TradeID    string
	StopPrice  float64
	TakeProfit float64
	Reason     string
	CreatedAt  time.Time
}

// RiskEvent is one non-Allow verdict or operator action. Never deleted.
type RiskEvent struct {
	Seq         int64
	SessionID   string
	CreatedAt   time.Time
	Severity    string // warning | breach | emergency
	Rule        string // triggering limit
	Description string
	Action      string // denied | clamped | emergency_stop | ...
}

// CostRecord is the accounting row for one oracle invocation.
type CostRecord struct {
	Seq           int64
	SessionID     string
	CallType      string // initiate | monitor | close
	CreatedAt     time.Time
	EstimatedCost float64
	Latency       time.Duration
}

// Performance is the aggregate view the operator surface reports.
type Performance struct {
	Trades  int
	Wins    int
	Losses  int
	WinRate float64
	TotalPL float64
	AvgPL   float64
}

// Store is the persistence contract. Writes are per-session-namespaced and
// append-style; only aggregate reads span sessions.
type Store interface {
	UpsertSession(s Session) error
	TouchSession(sessionID string, at time.Time) error
	GetSession(name string) (Session, error)
	ListSessions() ([]Session, error)

	OpenTrade(t Trade) error
	CloseTrade(tradeID string, closedAt time.Time, realizedPL float64, reason CloseReason) error
	GetTrade(tradeID string) (Trade, error)
	GetOpenTrade(sessionID string) (*Trade, error)
	ListTrades(sessionID string, limit int) ([]Trade, error)
	CountTradesOpenedBetween(sessionID string, start, end time.Time) (int, error)
	SumRealizedBetween(sessionID string, start, end time.Time) (float64, error)
	LastCloseTime(sessionID string) (time.Time, error)

	RecordAdjustment(a StopAdjustment) error
	ListAdjustments(tradeID string) ([]StopAdjustment, error)

	RecordRiskEvent(e RiskEvent) error
	ListRiskEvents(sessionID string, limit int) ([]RiskEvent, error)

	RecordCost(c CostRecord) error
	SumCosts(sessionID string) (float64, error)

	Performance(sessionID string) (Performance, error)

	Close() error
}
