// Package session owns the per-session trade lifecycle: the state machine
// that turns untrusted oracle proposals into governed venue actions, the
// scheduler that ticks it, and the registry that isolates sessions from one
// another.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustyeddy/autopilot/broker"
	"github.com/rustyeddy/autopilot/id"
	"github.com/rustyeddy/autopilot/ledger"
	"github.com/rustyeddy/autopilot/oracle"
	"github.com/rustyeddy/autopilot/risk"
)

// State of the lifecycle machine.
type State string

const (
	Idle       State = "idle"       // no open trade, eligible to start one
	Initiating State = "initiating" // awaiting the oracle's opening decision
	Open       State = "open"       // position live, under supervision
	Closing    State = "closing"    // close sent, awaiting flat confirmation
	Cooldown   State = "cooldown"   // post-close pause
	Halted     State = "halted"     // emergency stop; needs explicit reset
)

// Config is one session's immutable configuration.
type Config struct {
	Name         string
	Symbols      []string
	StyleProfile string
	Limits       risk.Limits

	// MonitorInterval is the supervision cadence while a position is live;
	// IdleInterval paces start attempts and confirmation re-queries.
	MonitorInterval time.Duration
	IdleInterval    time.Duration

	DecisionTimeout time.Duration
	ExchangeTimeout time.Duration

	// Consecutive tick failures: warn at the threshold, halt at the ceiling.
	FailureWarnThreshold int
	FailureHaltCeiling   int
}

func (c *Config) applyDefaults() {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 15 * time.Minute
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = c.MonitorInterval
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 90 * time.Second
	}
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = 15 * time.Second
	}
	if c.FailureWarnThreshold <= 0 {
		c.FailureWarnThreshold = 3
	}
	if c.FailureHaltCeiling <= 0 {
		c.FailureHaltCeiling = 6
	}
}

// Session is the state machine for one position lifecycle at a time. Ticks
// are strictly sequential (the scheduler guarantees no overlap); the mutex
// only protects reads from the registry and operator stop paths.
type Session struct {
	cfg    Config
	id     string
	store  ledger.Store
	oracle oracle.DecisionGateway
	venue  broker.ExchangeGateway

	mu    sync.Mutex
	state State
	trade *ledger.Trade

	// pendingOrderID tracks an accepted-but-unconfirmed open order;
	// pendingCloseReason is what the eventual close gets finalized with.
	pendingOrderID     string
	pendingCloseReason ledger.CloseReason

	// lastAppliedExec makes a replayed confirmation a no-op.
	lastAppliedExec string

	failures      int
	cooldownUntil time.Time
	lastDenyRule  risk.Rule

	// Day accounting: balance snapshotted at the first tick of each UTC day,
	// the base for daily-loss percentages.
	dayStart        time.Time
	dayStartBalance float64

	// entryBalance at open time; the balance delta at close is realized P&L.
	entryBalance float64
}

// New restores or creates the session's durable identity and returns the
// state machine. The lifecycle state is derived from the ledger: an open
// trade in storage puts the session straight into OPEN supervision.
func New(cfg Config, store ledger.Store, gw oracle.DecisionGateway, venue broker.ExchangeGateway) (*Session, error) {
	cfg.applyDefaults()
	if cfg.Name == "" {
		return nil, fmt.Errorf("session: name required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("session %s: at least one symbol required", cfg.Name)
	}

	now := time.Now().UTC()
	cfgJSON, _ := json.Marshal(cfg)

	sess, err := store.GetSession(cfg.Name)
	if err != nil {
		sess = ledger.Session{ID: id.New(), Name: cfg.Name, CreatedAt: now}
	}
	sess.LastActiveAt = now
	sess.ConfigJSON = string(cfgJSON)
	if err := store.UpsertSession(sess); err != nil {
		return nil, fmt.Errorf("session %s: persist: %w", cfg.Name, err)
	}

	s := &Session{
		cfg:    cfg,
		id:     sess.ID,
		store:  store,
		oracle: gw,
		venue:  venue,
		state:  Idle,
	}

	open, err := store.GetOpenTrade(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("session %s: read open trade: %w", cfg.Name, err)
	}
	if open != nil {
		s.trade = open
		s.state = Open
	}
	return s, nil
}

func (s *Session) Name() string { return s.cfg.Name }
func (s *Session) ID() string   { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OpenTrade returns a copy of the live trade, or nil.
func (s *Session) OpenTrade() *ledger.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trade == nil {
		return nil
	}
	cp := *s.trade
	return &cp
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev != next {
		log.Printf("session %s: %s -> %s", s.cfg.Name, prev, next)
		gaugeState(s.cfg.Name, next)
	}
}

// ResetHalt clears a HALTED state. This is the explicit external reset the
// emergency stop requires; it is recorded in the audit trail.
func (s *Session) ResetHalt() error {
	s.mu.Lock()
	if s.state != Halted {
		s.mu.Unlock()
		return fmt.Errorf("session %s: not halted", s.cfg.Name)
	}
	s.state = Idle
	s.failures = 0
	s.mu.Unlock()

	gaugeState(s.cfg.Name, Idle)
	return s.store.RecordRiskEvent(ledger.RiskEvent{
		SessionID:   s.id,
		CreatedAt:   time.Now().UTC(),
		Severity:    string(risk.SeverityWarning),
		Rule:        "operator_reset",
		Description: "halt cleared by operator",
		Action:      "resumed",
	})
}

// Interval returns how long the scheduler should wait before the next tick,
// given the current state.
func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Open, Closing:
		return s.cfg.MonitorInterval
	case Cooldown:
		if rem := time.Until(s.cooldownUntil); rem > 0 && rem < s.cfg.IdleInterval {
			return rem
		}
		return s.cfg.IdleInterval
	case Halted:
		// Parked; the scheduler stays responsive to stop/reset but the
		// machine itself does nothing until reset.
		return s.cfg.IdleInterval
	default:
		return s.cfg.IdleInterval
	}
}

// Tick advances the machine by one step. It never runs concurrently with
// itself; the scheduler suppresses the next tick while one is in flight.
func (s *Session) Tick(ctx context.Context) {
	state := s.State()
	tickCounter(s.cfg.Name, state)

	switch state {
	case Halted:
		return
	case Cooldown:
		s.tickCooldown()
	case Idle:
		s.tickIdle(ctx)
	case Initiating:
		s.tickInitiating(ctx)
	case Open:
		s.tickOpen(ctx)
	case Closing:
		s.tickClosing(ctx)
	}

	if err := s.store.TouchSession(s.id, time.Now().UTC()); err != nil {
		log.Printf("session %s: touch: %v", s.cfg.Name, err)
	}
}

func (s *Session) tickCooldown() {
	s.mu.Lock()
	done := !time.Now().Before(s.cooldownUntil)
	s.mu.Unlock()
	if done {
		s.setState(Idle)
	}
}

// tickIdle checks eligibility and, when the governor agrees, rolls straight
// into the opening decision within the same tick.
func (s *Session) tickIdle(ctx context.Context) {
	acct, snap, ok := s.gather(ctx)
	if !ok {
		return
	}

	v := risk.CanInitiate(s.cfg.Limits, snap)
	if v.Action == risk.EmergencyStop {
		s.recordVerdict(v)
		s.setState(Halted)
		return
	}
	if !v.Allowed() {
		// Quietly ineligible ticks (cooldown running out, daily ceiling
		// reached) would flood the audit trail if logged every interval;
		// record only when the blocking rule changes.
		s.mu.Lock()
		changed := s.lastDenyRule != v.Rule
		s.lastDenyRule = v.Rule
		s.mu.Unlock()
		if changed {
			s.recordVerdict(v)
		}
		return
	}
	s.mu.Lock()
	s.lastDenyRule = risk.RuleNone
	s.mu.Unlock()

	s.setState(Initiating)
	s.initiate(ctx, acct, snap)
}

func (s *Session) tickInitiating(ctx context.Context) {
	s.mu.Lock()
	pending := s.pendingOrderID
	s.mu.Unlock()

	if pending != "" {
		s.confirmPendingOpen(ctx, pending)
		return
	}

	acct, snap, ok := s.gather(ctx)
	if !ok {
		return
	}
	s.initiate(ctx, acct, snap)
}

// initiate asks the oracle for an open, governs it, and executes.
func (s *Session) initiate(ctx context.Context, acct broker.Account, snap risk.Snapshot) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DecisionTimeout)
	proposal, _, err := s.oracle.ProposeOpen(dctx, s.decisionContext(acct, snap, nil))
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("propose open: %w", err))
		return
	}
	if proposal == nil {
		// Oracle declined; no cooldown incurred.
		s.setState(Idle)
		s.tickSucceeded()
		return
	}

	// The decision call may have outlived a stop or halt; never apply stale
	// results.
	if s.State() != Initiating {
		return
	}

	final, v := risk.EvaluateOpen(s.cfg.Limits, snap, *proposal)
	switch v.Action {
	case risk.EmergencyStop:
		s.recordVerdict(v)
		s.setState(Halted)
		return
	case risk.Deny:
		s.recordVerdict(v)
		s.setState(Idle)
		s.tickSucceeded()
		return
	case risk.Clamp:
		s.recordVerdict(v)
	}

	s.executeOpen(ctx, acct, final)
}

func (s *Session) executeOpen(ctx context.Context, acct broker.Account, p oracle.OpenProposal) {
	ref := p.EntryHint
	if ref <= 0 {
		// EvaluateOpen denies proposals without a price reference, so this
		// is unreachable unless limits were misconfigured. Refuse anyway.
		s.tickFailed(fmt.Errorf("open without reference price"))
		return
	}
	notional := acct.Balance * p.SizePct / 100
	order := broker.OrderRequest{
		ClientID:   uuid.NewString(),
		Symbol:     p.Symbol,
		Side:       p.Side,
		Size:       notional / ref,
		Leverage:   p.Leverage,
		StopPrice:  p.StopPrice,
		TakeProfit: p.TakeProfit,
	}

	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	res, err := s.venue.Open(ectx, order)
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("open order: %w", err))
		return
	}

	if s.State() != Initiating {
		return
	}

	switch res.Status {
	case broker.ExecRejected:
		log.Printf("session %s: venue rejected open", s.cfg.Name)
		s.setState(Idle)
		s.tickSucceeded()
	case broker.ExecAccepted:
		// Accepted is not filled. Stay in INITIATING and re-query until the
		// venue confirms, rather than assuming either outcome.
		s.mu.Lock()
		s.pendingOrderID = res.OrderID
		s.mu.Unlock()
	case broker.ExecConfirmed:
		s.applyOpenFill(acct, p, res)
	}
}

// confirmPendingOpen re-queries authoritative venue state for an order that
// was accepted but not confirmed.
func (s *Session) confirmPendingOpen(ctx context.Context, orderID string) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	pos, err := s.venue.GetOpenPosition(ectx, s.scope())
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("confirm open: %w", err))
		return
	}
	if pos == nil {
		// Still ambiguous. Counts against the failure ceiling so a venue
		// that never answers eventually halts the session.
		s.tickFailed(fmt.Errorf("order %s accepted but position not visible", orderID))
		return
	}

	ectx, cancel = context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	acct, err := s.venue.GetAccount(ectx)
	cancel()
	if err != nil {
		s.tickFailed(fmt.Errorf("confirm open account: %w", err))
		return
	}

	if s.State() != Initiating {
		return
	}

	s.mu.Lock()
	s.pendingOrderID = ""
	s.mu.Unlock()

	s.applyOpenFill(acct, oracle.OpenProposal{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		SizePct:    safePct(pos.Size*pos.EntryPrice, acct.Balance),
		Leverage:   pos.Leverage,
		StopPrice:  pos.StopPrice,
		TakeProfit: pos.TakeProfit,
	}, broker.ExecutionResult{
		OrderID:   orderID,
		Status:    broker.ExecConfirmed,
		FillPrice: pos.EntryPrice,
		FilledAt:  time.Now().UTC(),
	})
}

// applyOpenFill records the confirmed open and transitions to OPEN.
// Replaying the same confirmation is a no-op.
func (s *Session) applyOpenFill(acct broker.Account, p oracle.OpenProposal, res broker.ExecutionResult) {
	s.mu.Lock()
	if s.lastAppliedExec == res.OrderID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	t := ledger.Trade{
		ID:         id.New(),
		SessionID:  s.id,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		Leverage:   p.Leverage,
		EntryPrice: res.FillPrice,
		Size:       0,
		SizePct:    p.SizePct,
		StopPrice:  p.StopPrice,
		TakeProfit: p.TakeProfit,
		OpenedAt:   res.FilledAt.UTC(),
	}
	if res.FillPrice > 0 {
		t.Size = acct.Balance * p.SizePct / 100 / res.FillPrice
	}

	if err := s.store.OpenTrade(t); err != nil {
		// The venue now holds a live position the ledger refused to record.
		// Retrying the cycle would ask the oracle again and stack a second
		// position on top of the untracked one, so this is fatal: surface
		// it and halt until the operator reconciles venue and ledger.
		log.Printf("session %s: persist open trade: %v", s.cfg.Name, err)
		s.recordEvent(ledger.RiskEvent{
			SessionID:   s.id,
			CreatedAt:   time.Now().UTC(),
			Severity:    string(risk.SeverityEmergency),
			Rule:        "persist_failure",
			Description: fmt.Sprintf("confirmed fill %s could not be recorded: %v", res.OrderID, err),
			Action:      string(risk.EmergencyStop),
		})
		s.setState(Halted)
		return
	}

	s.mu.Lock()
	s.lastAppliedExec = res.OrderID
	s.trade = &t
	s.entryBalance = acct.Balance
	s.mu.Unlock()

	tradeCounter(s.cfg.Name, "open")
	log.Printf("session %s: opened %s %s size=%.6f entry=%.4f stop=%.4f",
		s.cfg.Name, t.Side, t.Symbol, t.Size, t.EntryPrice, t.StopPrice)

	s.setState(Open)
	s.tickSucceeded()
}
