// Package oracle defines the decision-maker boundary. The oracle proposes
// actions; it is never trusted to enforce anything. Every proposal crosses
// the risk engine before a side effect happens.
package oracle

import (
	"context"

	"github.com/rustyeddy/autopilot/broker"
)

// CallType labels which lifecycle step invoked the oracle.
type CallType string

const (
	CallInitiate CallType = "initiate"
	CallMonitor  CallType = "monitor"
	CallClose    CallType = "close"
)

// CallMeta carries per-invocation accounting reported by the gateway.
type CallMeta struct {
	EstimatedCost float64 // account-currency estimate for the call, 0 if unknown
}

// Context is the state handed to the oracle with every request. It contains
// everything the decision needs and nothing it can abuse: limits are shown
// for better proposals but enforced independently.
type Context struct {
	Session         string
	Symbols         []string
	Account         broker.Account
	Position        *broker.Position // nil while flat
	TradesToday     int
	RealizedToday   float64
	StyleProfile    string
	MinSizePct      float64
	MaxSizePct      float64
	MaxLeverage     float64
	MaxPositionLoss float64
}

// OpenProposal is the oracle's answer to "should we open a position".
type OpenProposal struct {
	Symbol     string
	Side       broker.Side
	SizePct    float64 // percent of balance
	Leverage   float64
	EntryHint  float64 // oracle's entry price target; reference for stop math
	StopPrice  float64
	TakeProfit float64
	Reasoning  string
	Confidence float64
}

// Adjustment proposes new protective levels for an open position. A zero
// field means "leave as is".
type Adjustment struct {
	NewStop       float64
	NewTakeProfit float64
	Reason        string
}

// CloseIntent signals the oracle wants the position closed. Intent alone
// never transitions state; the venue must confirm flat.
type CloseIntent struct {
	Reason  string
	Urgency string
}

// Evaluation is the outcome of one supervision look at an open position:
// a stop/target adjustment, a closure signal, or neither (hold). At most one
// of the fields is set.
type Evaluation struct {
	Adjustment *Adjustment
	Close      *CloseIntent
}

// DecisionGateway is the untrusted planner. A nil result with nil error
// means decline / no change. Errors and malformed output are both handled
// by the caller as "no action this tick".
//
// EvaluatePosition is the supervision call made while a position is live;
// ProposeClose is the explicit "we are shutting down, how do we exit" call
// made on a graceful stop.
type DecisionGateway interface {
	ProposeOpen(ctx context.Context, dc Context) (*OpenProposal, CallMeta, error)
	EvaluatePosition(ctx context.Context, dc Context) (*Evaluation, CallMeta, error)
	ProposeClose(ctx context.Context, dc Context) (*CloseIntent, CallMeta, error)
}

// Decline is a gateway that never proposes anything. Useful as a safe
// default and in tests.
type Decline struct{}

func (Decline) ProposeOpen(context.Context, Context) (*OpenProposal, CallMeta, error) {
	return nil, CallMeta{}, nil
}
func (Decline) EvaluatePosition(context.Context, Context) (*Evaluation, CallMeta, error) {
	return nil, CallMeta{}, nil
}
func (Decline) ProposeClose(context.Context, Context) (*CloseIntent, CallMeta, error) {
	return nil, CallMeta{}, nil
}

var _ DecisionGateway = Decline{}
