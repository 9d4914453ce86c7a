// Package sim is an in-memory paper venue. It fills market orders at the
// current mark price and settles P&L into the account on close. Tests use
// DeferConfirm to exercise the accepted-but-unconfirmed execution path.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustyeddy/autopilot/broker"
)

type Venue struct {
	mu   sync.Mutex
	acct broker.Account

	marks     map[string]float64 // symbol -> mark price
	positions map[string]*broker.Position

	// DeferConfirm makes Open and Close return ExecAccepted on first call;
	// the fill lands when ConfirmPending is called.
	DeferConfirm bool
	pendingOpen  map[string]broker.OrderRequest
	pendingClose map[string]string // orderID -> positionID

	seenOrders map[string]broker.ExecutionResult // ClientID -> result, duplicate suppression
}

func New(startBalance float64) *Venue {
	return &Venue{
		acct:         broker.Account{Balance: startBalance, Equity: startBalance},
		marks:        make(map[string]float64),
		positions:    make(map[string]*broker.Position),
		pendingOpen:  make(map[string]broker.OrderRequest),
		pendingClose: make(map[string]string),
		seenOrders:   make(map[string]broker.ExecutionResult),
	}
}

// SetMark sets the mark price for a symbol and revalues open positions.
func (v *Venue) SetMark(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.marks[symbol] = price
	equity := v.acct.Balance
	for _, p := range v.positions {
		if p.Symbol == symbol {
			p.MarkPrice = price
			p.UnrealizedPL = unrealized(p)
		}
		equity += p.UnrealizedPL
	}
	v.acct.Equity = equity
}

func unrealized(p *broker.Position) float64 {
	diff := p.MarkPrice - p.EntryPrice
	if p.Side == broker.Sell {
		diff = -diff
	}
	return diff * p.Size
}

func (v *Venue) GetAccount(ctx context.Context) (broker.Account, error) {
	if err := ctx.Err(); err != nil {
		return broker.Account{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.acct, nil
}

func (v *Venue) GetOpenPosition(ctx context.Context, scope string) (*broker.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, p := range v.positions {
		if scope == "" || p.Symbol == scope {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (v *Venue) Open(ctx context.Context, req broker.OrderRequest) (broker.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return broker.ExecutionResult{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if req.ClientID != "" {
		if prev, ok := v.seenOrders[req.ClientID]; ok {
			return prev, nil
		}
	}

	mark, ok := v.marks[req.Symbol]
	if !ok {
		return broker.ExecutionResult{Status: broker.ExecRejected},
			fmt.Errorf("%w: no mark price for %s", broker.ErrOrderRejected, req.Symbol)
	}
	if req.Size <= 0 {
		return broker.ExecutionResult{Status: broker.ExecRejected},
			fmt.Errorf("%w: non-positive size", broker.ErrOrderRejected)
	}

	orderID := uuid.NewString()
	if v.DeferConfirm {
		v.pendingOpen[orderID] = req
		res := broker.ExecutionResult{OrderID: orderID, Status: broker.ExecAccepted}
		v.remember(req.ClientID, res)
		return res, nil
	}

	res := v.fillOpen(orderID, req, mark)
	v.remember(req.ClientID, res)
	return res, nil
}

func (v *Venue) fillOpen(orderID string, req broker.OrderRequest, mark float64) broker.ExecutionResult {
	p := &broker.Position{
		ID:         orderID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.Size,
		EntryPrice: mark,
		Leverage:   req.Leverage,
		StopPrice:  req.StopPrice,
		TakeProfit: req.TakeProfit,
		MarkPrice:  mark,
	}
	v.positions[p.ID] = p
	return broker.ExecutionResult{
		OrderID:   orderID,
		Status:    broker.ExecConfirmed,
		FillPrice: mark,
		FilledAt:  time.Now().UTC(),
	}
}

func (v *Venue) ModifyStops(ctx context.Context, positionID string, stop, takeProfit float64) (broker.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return broker.ExecutionResult{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.positions[positionID]
	if !ok {
		return broker.ExecutionResult{Status: broker.ExecRejected}, broker.ErrUnknownPosition
	}
	if stop > 0 {
		p.StopPrice = stop
	}
	if takeProfit > 0 {
		p.TakeProfit = takeProfit
	}
	return broker.ExecutionResult{
		OrderID:  uuid.NewString(),
		Status:   broker.ExecConfirmed,
		FilledAt: time.Now().UTC(),
	}, nil
}

func (v *Venue) Close(ctx context.Context, positionID string) (broker.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return broker.ExecutionResult{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.positions[positionID]
	if !ok {
		return broker.ExecutionResult{Status: broker.ExecRejected}, broker.ErrUnknownPosition
	}

	orderID := uuid.NewString()
	if v.DeferConfirm {
		v.pendingClose[orderID] = positionID
		return broker.ExecutionResult{OrderID: orderID, Status: broker.ExecAccepted}, nil
	}
	return v.fillClose(orderID, p), nil
}

func (v *Venue) fillClose(orderID string, p *broker.Position) broker.ExecutionResult {
	pl := unrealized(p)
	v.acct.Balance += pl
	v.acct.Equity = v.acct.Balance
	delete(v.positions, p.ID)
	return broker.ExecutionResult{
		OrderID:   orderID,
		Status:    broker.ExecConfirmed,
		FillPrice: p.MarkPrice,
		FilledAt:  time.Now().UTC(),
	}
}

// ConfirmPending settles all orders deferred by DeferConfirm.
func (v *Venue) ConfirmPending() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for orderID, req := range v.pendingOpen {
		if mark, ok := v.marks[req.Symbol]; ok {
			res := v.fillOpen(orderID, req, mark)
			v.remember(req.ClientID, res)
		}
		delete(v.pendingOpen, orderID)
	}
	for orderID, posID := range v.pendingClose {
		if p, ok := v.positions[posID]; ok {
			v.fillClose(orderID, p)
		}
		delete(v.pendingClose, orderID)
	}
}

func (v *Venue) remember(clientID string, res broker.ExecutionResult) {
	if clientID != "" {
		v.seenOrders[clientID] = res
	}
}
