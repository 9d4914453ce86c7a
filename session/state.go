package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rustyeddy/autopilot/broker"
	"github.com/rustyeddy/autopilot/ledger"
	"github.com/rustyeddy/autopilot/oracle"
	"github.com/rustyeddy/autopilot/risk"
)

// gather reads the fresh account snapshot and builds the risk snapshot for
// this tick. Risk decisions always use current data; nothing here is cached
// across ticks.
func (s *Session) gather(ctx context.Context) (broker.Account, risk.Snapshot, bool) {
	acct, err := s.account(ctx)
	if err != nil {
		s.tickFailed(fmt.Errorf("read account: %w", err))
		return broker.Account{}, risk.Snapshot{}, false
	}

	now := time.Now().UTC()
	s.rollDay(now, acct)

	snap, err := s.riskSnapshot(acct, now)
	if err != nil {
		s.tickFailed(fmt.Errorf("risk snapshot: %w", err))
		return broker.Account{}, risk.Snapshot{}, false
	}
	return acct, snap, true
}

func (s *Session) account(ctx context.Context) (broker.Account, error) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	defer cancel()
	return s.venue.GetAccount(ectx)
}

// rollDay snapshots the day-start balance at the first tick of each UTC day.
// Daily risk percentages are evaluated against this figure.
func (s *Session) rollDay(now time.Time, acct broker.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := midnightUTC(now)
	if !day.Equal(s.dayStart) {
		s.dayStart = day
		s.dayStartBalance = acct.Balance
	}
}

func (s *Session) riskSnapshot(acct broker.Account, now time.Time) (risk.Snapshot, error) {
	s.mu.Lock()
	dayStart := s.dayStart
	dayStartBalance := s.dayStartBalance
	s.mu.Unlock()

	dayEnd := dayStart.Add(24 * time.Hour)

	trades, err := s.store.CountTradesOpenedBetween(s.id, dayStart, dayEnd)
	if err != nil {
		return risk.Snapshot{}, err
	}
	realized, err := s.store.SumRealizedBetween(s.id, dayStart, dayEnd)
	if err != nil {
		return risk.Snapshot{}, err
	}
	lastClose, err := s.store.LastCloseTime(s.id)
	if err != nil {
		return risk.Snapshot{}, err
	}

	return risk.Snapshot{
		Now:             now,
		Balance:         acct.Balance,
		Equity:          acct.Equity,
		DayStartBalance: dayStartBalance,
		TradesToday:     trades,
		RealizedToday:   realized,
		LastCloseAt:     lastClose,
	}, nil
}

func (s *Session) decisionContext(acct broker.Account, snap risk.Snapshot, pos *broker.Position) oracle.Context {
	return oracle.Context{
		Session:         s.cfg.Name,
		Symbols:         s.cfg.Symbols,
		Account:         acct,
		Position:        pos,
		TradesToday:     snap.TradesToday,
		RealizedToday:   snap.RealizedToday,
		StyleProfile:    s.cfg.StyleProfile,
		MinSizePct:      s.cfg.Limits.MinSizePct,
		MaxSizePct:      s.cfg.Limits.MaxSizePct,
		MaxLeverage:     s.cfg.Limits.MaxLeverage,
		MaxPositionLoss: s.cfg.Limits.MaxPositionLossPct,
	}
}

// scope is the venue scope this session watches. A session trades one
// position at a time across its symbol list; the open trade's symbol wins.
func (s *Session) scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trade != nil {
		return s.trade.Symbol
	}
	if len(s.cfg.Symbols) == 1 {
		return s.cfg.Symbols[0]
	}
	return ""
}

func (s *Session) entryBalanceLocked() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryBalance
}

// tickFailed implements the failure policy: the session stays put, retries
// next tick, warns at the threshold, and halts at the ceiling.
func (s *Session) tickFailed(err error) {
	s.mu.Lock()
	s.failures++
	n := s.failures
	s.mu.Unlock()

	failureGauge(s.cfg.Name, n)
	log.Printf("session %s: tick failed (%d consecutive): %v", s.cfg.Name, n, err)

	now := time.Now().UTC()
	if n == s.cfg.FailureWarnThreshold {
		s.recordEvent(ledger.RiskEvent{
			SessionID:   s.id,
			CreatedAt:   now,
			Severity:    string(risk.SeverityWarning),
			Rule:        "consecutive_failures",
			Description: fmt.Sprintf("%d consecutive tick failures: %v", n, err),
			Action:      "retrying",
		})
	}
	if n >= s.cfg.FailureHaltCeiling {
		s.recordEvent(ledger.RiskEvent{
			SessionID:   s.id,
			CreatedAt:   now,
			Severity:    string(risk.SeverityEmergency),
			Rule:        "consecutive_failures",
			Description: fmt.Sprintf("%d consecutive tick failures, halting: %v", n, err),
			Action:      string(risk.EmergencyStop),
		})
		s.setState(Halted)
	}
}

func (s *Session) tickSucceeded() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
	failureGauge(s.cfg.Name, 0)
}

// recordVerdict writes exactly one risk event per non-Allow verdict.
func (s *Session) recordVerdict(v risk.Verdict) {
	if v.Action == risk.Allow {
		return
	}
	verdictCounter(string(v.Rule), string(v.Action))
	s.recordEvent(ledger.RiskEvent{
		SessionID:   s.id,
		CreatedAt:   time.Now().UTC(),
		Severity:    string(v.Severity()),
		Rule:        string(v.Rule),
		Description: v.Reason,
		Action:      string(v.Action),
	})
}

func (s *Session) recordEvent(e ledger.RiskEvent) {
	if err := s.store.RecordRiskEvent(e); err != nil {
		// The audit trail is a correctness requirement; a write failure is
		// loud even though it cannot abort the safety action itself.
		log.Printf("session %s: RISK EVENT WRITE FAILED (%s %s): %v", s.cfg.Name, e.Rule, e.Action, err)
	}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func safePct(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}
