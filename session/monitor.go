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

// tickOpen supervises the live position: venue truth first, governor second,
// oracle last.
func (s *Session) tickOpen(ctx context.Context) {
	trade := s.OpenTrade()
	if trade == nil {
		// State says OPEN but no trade is tracked; re-derive from storage.
		restored, err := s.store.GetOpenTrade(s.id)
		if err != nil || restored == nil {
			s.setState(Idle)
			return
		}
		s.mu.Lock()
		s.trade = restored
		s.mu.Unlock()
		trade = restored
	}

	acct, snap, ok := s.gather(ctx)
	if !ok {
		return
	}

	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	pos, err := s.venue.GetOpenPosition(ectx, s.scope())
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("read position: %w", err))
		return
	}

	if pos == nil {
		// The venue closed it for us: stop or target hit.
		reason := ledger.CloseStopHit
		if acct.Balance >= s.entryBalanceLocked() {
			reason = ledger.CloseTargetHit
		}
		s.finalizeClose(acct, reason)
		return
	}

	// Governor check runs every tick regardless of what the oracle thinks.
	if v := risk.MonitorPosition(s.cfg.Limits, snap, *pos); v.Action == risk.EmergencyStop {
		s.recordVerdict(v)
		s.forceClose(ctx, pos.ID)
		return
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DecisionTimeout)
	eval, _, err := s.oracle.EvaluatePosition(dctx, s.decisionContext(acct, snap, pos))
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("evaluate position: %w", err))
		return
	}

	// A halt or stop may have landed while the oracle was thinking.
	if s.State() != Open {
		return
	}

	switch {
	case eval == nil:
		s.tickSucceeded()

	case eval.Close != nil:
		s.requestClose(ctx, pos.ID, ledger.CloseManual, eval.Close.Reason)

	case eval.Adjustment != nil:
		s.applyAdjustment(ctx, snap, *pos, trade.ID, *eval.Adjustment)
	}
}

func (s *Session) applyAdjustment(ctx context.Context, snap risk.Snapshot, pos broker.Position, tradeID string, adj oracle.Adjustment) {
	v := risk.EvaluateAdjustment(s.cfg.Limits, snap, pos, adj)
	if v.Action == risk.EmergencyStop {
		s.recordVerdict(v)
		s.forceClose(ctx, pos.ID)
		return
	}
	if !v.Allowed() {
		s.recordVerdict(v)
		s.tickSucceeded()
		return
	}

	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	res, err := s.venue.ModifyStops(ectx, pos.ID, adj.NewStop, adj.NewTakeProfit)
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("modify stops: %w", err))
		return
	}
	if !res.Confirmed() {
		s.tickFailed(fmt.Errorf("stop modification not confirmed"))
		return
	}

	if err := s.store.RecordAdjustment(ledger.StopAdjustment{
		TradeID:    tradeID,
		StopPrice:  adj.NewStop,
		TakeProfit: adj.NewTakeProfit,
		Reason:     adj.Reason,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("session %s: record adjustment: %v", s.cfg.Name, err)
	}
	log.Printf("session %s: stops adjusted stop=%.4f tp=%.4f", s.cfg.Name, adj.NewStop, adj.NewTakeProfit)
	s.tickSucceeded()
}

// requestClose sends the close order and moves to CLOSING. Intent alone is
// never enough to finalize: only a confirmed-flat venue answer is.
func (s *Session) requestClose(ctx context.Context, positionID string, reason ledger.CloseReason, why string) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	res, err := s.venue.Close(ectx, positionID)
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("close order: %w", err))
		return
	}

	s.mu.Lock()
	s.pendingCloseReason = reason
	s.mu.Unlock()
	log.Printf("session %s: close requested (%s): %s", s.cfg.Name, reason, why)

	s.setState(Closing)
	if res.Confirmed() {
		// Fast path: verify flat right away instead of waiting a tick.
		s.tickClosing(ctx)
	}
}

// tickClosing re-queries the venue until the position is actually flat.
func (s *Session) tickClosing(ctx context.Context) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	pos, err := s.venue.GetOpenPosition(ectx, s.scope())
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("confirm close: %w", err))
		return
	}
	if pos != nil {
		// Still live: remain in CLOSING. The failure ceiling bounds how long
		// we tolerate a venue that accepted a close and never flattens.
		s.tickFailed(fmt.Errorf("close sent but position still live"))
		return
	}

	ectx, cancel = context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	acct, err := s.venue.GetAccount(ectx)
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("confirm close account: %w", err))
		return
	}

	s.mu.Lock()
	reason := s.pendingCloseReason
	s.mu.Unlock()
	if reason == "" {
		reason = ledger.CloseManual
	}
	s.finalizeClose(acct, reason)
}

// finalizeClose writes the trade's terminal row and starts the cooldown.
func (s *Session) finalizeClose(acct broker.Account, reason ledger.CloseReason) {
	s.mu.Lock()
	trade := s.trade
	entryBalance := s.entryBalance
	s.mu.Unlock()
	if trade == nil {
		s.setState(Idle)
		return
	}

	now := time.Now().UTC()
	realized := acct.Balance - entryBalance

	if err := s.store.CloseTrade(trade.ID, now, realized, reason); err != nil {
		log.Printf("session %s: finalize trade: %v", s.cfg.Name, err)
		s.tickFailed(fmt.Errorf("finalize close: %w", err))
		return
	}

	s.mu.Lock()
	s.trade = nil
	s.pendingCloseReason = ""
	s.cooldownUntil = now.Add(s.cfg.Limits.Cooldown)
	s.mu.Unlock()

	result := "loss"
	if realized >= 0 {
		result = "win"
	}
	tradeCounter(s.cfg.Name, result)
	log.Printf("session %s: closed %s pl=%.2f reason=%s", s.cfg.Name, trade.Symbol, realized, reason)

	if reason == ledger.CloseEmergencyStop {
		s.setState(Halted)
		return
	}
	if s.cfg.Limits.Cooldown > 0 {
		s.setState(Cooldown)
	} else {
		s.setState(Idle)
	}
	s.tickSucceeded()
}

// forceClose issues an unconditional close and halts. The close attempt is
// made exactly once here; HALTED requires operator attention either way.
func (s *Session) forceClose(ctx context.Context, positionID string) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	res, err := s.venue.Close(ectx, positionID)
	cancel()

	if err != nil {
		log.Printf("session %s: emergency close failed: %v", s.cfg.Name, err)
	} else if res.Confirmed() {
		ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
		acct, aerr := s.venue.GetAccount(ectx)
		cancel()
		if aerr == nil {
			s.finalizeClose(acct, ledger.CloseEmergencyStop)
			return
		}
	} else {
		// Accepted but unconfirmed: the trade row stays open in the ledger;
		// the operator resolves it after the halt.
		log.Printf("session %s: emergency close accepted, fill unconfirmed", s.cfg.Name)
	}
	s.setState(Halted)
}

// GracefulClose is the operator-stop path: one oracle consultation for exit
// context, then close-and-confirm against the venue with bounded retries.
func (s *Session) GracefulClose(ctx context.Context) error {
	trade := s.OpenTrade()
	if trade == nil {
		return nil
	}

	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	pos, err := s.venue.GetOpenPosition(ectx, s.scope())
	cancel()
	if err != nil {
		return fmt.Errorf("graceful close: read position: %w", err)
	}
	if pos == nil {
		ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
		acct, aerr := s.venue.GetAccount(ectx)
		cancel()
		if aerr != nil {
			return fmt.Errorf("graceful close: account: %w", aerr)
		}
		s.finalizeClose(acct, ledger.CloseManual)
		return nil
	}

	// Advisory only: the oracle may annotate the exit, it cannot veto it.
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DecisionTimeout)
	if acct, aerr := s.account(dctx); aerr == nil {
		snap, serr := s.riskSnapshot(acct, time.Now().UTC())
		if serr == nil {
			_, _, _ = s.oracle.ProposeClose(dctx, s.decisionContext(acct, snap, pos))
		}
	}
	cancel()

	return s.closeAndConfirm(ctx, pos.ID, ledger.CloseManual)
}

// HardClose skips the oracle entirely and issues an unconditional close.
func (s *Session) HardClose(ctx context.Context) error {
	trade := s.OpenTrade()
	if trade == nil {
		return nil
	}

	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	pos, err := s.venue.GetOpenPosition(ectx, s.scope())
	cancel()
	if err != nil {
		return fmt.Errorf("hard close: read position: %w", err)
	}
	if pos == nil {
		return nil
	}
	return s.closeAndConfirm(ctx, pos.ID, ledger.CloseRiskForced)
}

func (s *Session) closeAndConfirm(ctx context.Context, positionID string, reason ledger.CloseReason) error {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	_, err := s.venue.Close(ectx, positionID)
	cancel()
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
		pos, perr := s.venue.GetOpenPosition(ectx, s.scope())
		cancel()
		if perr != nil {
			err = perr
			continue
		}
		if pos == nil {
			ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
			acct, aerr := s.venue.GetAccount(ectx)
			cancel()
			if aerr != nil {
				return fmt.Errorf("close confirmed, account read failed: %w", aerr)
			}
			s.finalizeClose(acct, reason)
			return nil
		}
	}
	return fmt.Errorf("close not confirmed: position still live (%v)", err)
}
