// Package broker defines the exchange-access boundary. The control core only
// ever talks to a venue through ExchangeGateway; the gateway's answers, not
// the oracle's intentions, are the source of truth for position state.
package broker

import (
	"context"
	"errors"
	"time"
)

// Side of a position or order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Account is a point-in-time snapshot of venue balance and equity. It is
// read fresh each decision cycle and never cached across ticks.
type Account struct {
	Balance float64
	Equity  float64
}

// Position is an open position as the venue reports it.
type Position struct {
	ID           string
	Symbol       string
	Side         Side
	Size         float64 // base quantity
	EntryPrice   float64
	Leverage     float64
	StopPrice    float64
	TakeProfit   float64
	MarkPrice    float64
	UnrealizedPL float64
}

// OrderRequest asks the venue to open a leveraged position with protective
// stops attached. ClientID is caller-generated for duplicate detection.
type OrderRequest struct {
	ClientID   string
	Symbol     string
	Side       Side
	Size       float64
	Leverage   float64
	StopPrice  float64
	TakeProfit float64
}

// ExecStatus distinguishes "the venue took the order" from "the order is
// done". State transitions in the core key off Confirmed only.
type ExecStatus string

const (
	ExecRejected  ExecStatus = "rejected"
	ExecAccepted  ExecStatus = "accepted"  // queued at the venue, fill unknown
	ExecConfirmed ExecStatus = "confirmed" // filled (open) or flat (close)
)

// ExecutionResult reports the venue's handling of an order request.
type ExecutionResult struct {
	OrderID   string
	Status    ExecStatus
	FillPrice float64
	FilledAt  time.Time
}

// Confirmed reports whether the result is safe to transition state on.
func (r ExecutionResult) Confirmed() bool { return r.Status == ExecConfirmed }

var (
	ErrOrderRejected   = errors.New("broker: order rejected")
	ErrUnknownPosition = errors.New("broker: unknown position id")
)

// ExchangeGateway abstracts order execution and account truth. Implementations
// must honor context cancellation; a timed-out call is a tick failure, never
// a silent success.
type ExchangeGateway interface {
	GetAccount(ctx context.Context) (Account, error)

	// GetOpenPosition returns the open position for the scope (symbol or
	// venue sub-account), or nil when flat.
	GetOpenPosition(ctx context.Context, scope string) (*Position, error)

	Open(ctx context.Context, req OrderRequest) (ExecutionResult, error)
	ModifyStops(ctx context.Context, positionID string, stop, takeProfit float64) (ExecutionResult, error)
	Close(ctx context.Context, positionID string) (ExecutionResult, error)
}
