package risk

import "time"

// Limits is a session's immutable risk configuration. Percentages are whole
// numbers (5 means 5%). Daily percentages are evaluated against the balance
// snapshotted at the start of the UTC trading day, not live equity, so the
// ceiling stays fixed while equity swings intraday.
type Limits struct {
	// Position sizing, as percent of balance.
	MinSizePct float64
	MaxSizePct float64

	MaxLeverage float64

	// Per-position stop distance ceiling, percent price move from entry.
	MaxPositionLossPct float64

	// Tighter stops than this are usually noise-triggered; denied.
	MinStopDistancePct float64

	// Daily circuit breakers.
	MaxDailyLossPct float64
	MaxTradesPerDay int

	// Highest-severity threshold. A realized or live loss past this forces
	// closure and halts the session.
	EmergencyStopPct float64

	Cooldown time.Duration
}

// DefaultLimits mirrors a conservative retail profile.
func DefaultLimits() Limits {
	return Limits{
		MinSizePct:         5,
		MaxSizePct:         25,
		MaxLeverage:        10,
		MaxPositionLossPct: 5,
		MinStopDistancePct: 0.5,
		MaxDailyLossPct:    10,
		MaxTradesPerDay:    3,
		EmergencyStopPct:   15,
		Cooldown:           30 * time.Minute,
	}
}

// Snapshot is the session/account state a verdict is computed from. All of
// it is read fresh for the evaluation; none of it is owned by this package.
type Snapshot struct {
	Now             time.Time
	Balance         float64 // current available balance
	Equity          float64
	DayStartBalance float64 // balance at first tick of the UTC day
	TradesToday     int
	RealizedToday   float64   // signed, account currency
	LastCloseAt     time.Time // zero when no trade closed yet
	RefPrice        float64   // reference price for stop-distance math, 0 when unknown
}

// dailyLossFloor returns the realized-P&L level at which the daily breaker
// trips, in account currency.
func (s Snapshot) dailyLossFloor(pct float64) float64 {
	return -pct / 100 * s.DayStartBalance
}
