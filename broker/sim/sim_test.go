package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/autopilot/broker"
)

func TestOpenCloseSettlesBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v := New(10_000)
	v.SetMark("BTC-USD", 100)

	res, err := v.Open(ctx, broker.OrderRequest{
		ClientID: "c1", Symbol: "BTC-USD", Side: broker.Buy,
		Size: 10, Leverage: 5, StopPrice: 98, TakeProfit: 104,
	})
	assert.NoError(t, err)
	assert.True(t, res.Confirmed())
	assert.Equal(t, 100.0, res.FillPrice)

	pos, err := v.GetOpenPosition(ctx, "BTC-USD")
	assert.NoError(t, err)
	if assert.NotNil(t, pos) {
		assert.Equal(t, broker.Buy, pos.Side)
		assert.Equal(t, 98.0, pos.StopPrice)
	}

	// Mark moves 3 in our favor on 10 units.
	v.SetMark("BTC-USD", 103)

	acct, err := v.GetAccount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 10_000.0, acct.Balance)
	assert.InDelta(t, 10_030.0, acct.Equity, 1e-9)

	closeRes, err := v.Close(ctx, pos.ID)
	assert.NoError(t, err)
	assert.True(t, closeRes.Confirmed())

	acct, err = v.GetAccount(ctx)
	assert.NoError(t, err)
	assert.InDelta(t, 10_030.0, acct.Balance, 1e-9)

	pos, err = v.GetOpenPosition(ctx, "BTC-USD")
	assert.NoError(t, err)
	assert.Nil(t, pos)
}

func TestShortProfitsWhenMarkFalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v := New(5_000)
	v.SetMark("ETH-USD", 200)

	_, err := v.Open(ctx, broker.OrderRequest{
		Symbol: "ETH-USD", Side: broker.Sell, Size: 5, StopPrice: 204,
	})
	assert.NoError(t, err)

	v.SetMark("ETH-USD", 190)

	pos, err := v.GetOpenPosition(ctx, "ETH-USD")
	assert.NoError(t, err)
	if assert.NotNil(t, pos) {
		assert.InDelta(t, 50.0, pos.UnrealizedPL, 1e-9)
	}

	_, err = v.Close(ctx, pos.ID)
	assert.NoError(t, err)

	acct, _ := v.GetAccount(ctx)
	assert.InDelta(t, 5_050.0, acct.Balance, 1e-9)
}

func TestOpenRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v := New(1_000)

	// No mark price for the symbol.
	res, err := v.Open(ctx, broker.OrderRequest{Symbol: "XRP-USD", Side: broker.Buy, Size: 1})
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
	assert.Equal(t, broker.ExecRejected, res.Status)

	v.SetMark("XRP-USD", 1)
	res, err = v.Open(ctx, broker.OrderRequest{Symbol: "XRP-USD", Side: broker.Buy, Size: 0})
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
	assert.Equal(t, broker.ExecRejected, res.Status)
}

func TestDuplicateClientIDReturnsSameResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v := New(10_000)
	v.SetMark("BTC-USD", 100)

	req := broker.OrderRequest{
		ClientID: "dup-1", Symbol: "BTC-USD", Side: broker.Buy, Size: 2, StopPrice: 98,
	}

	first, err := v.Open(ctx, req)
	assert.NoError(t, err)

	// A retried submit must not open a second position.
	second, err := v.Open(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, first, second)

	pos, err := v.GetOpenPosition(ctx, "BTC-USD")
	assert.NoError(t, err)
	if assert.NotNil(t, pos) {
		assert.Equal(t, first.OrderID, pos.ID)
	}
}

func TestDeferConfirmOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v := New(10_000)
	v.SetMark("BTC-USD", 100)
	v.DeferConfirm = true

	res, err := v.Open(ctx, broker.OrderRequest{
		ClientID: "c1", Symbol: "BTC-USD", Side: broker.Buy, Size: 1, StopPrice: 98,
	})
	assert.NoError(t, err)
	assert.Equal(t, broker.ExecAccepted, res.Status)
	assert.False(t, res.Confirmed())

	pos, err := v.GetOpenPosition(ctx, "BTC-USD")
	assert.NoError(t, err)
	assert.Nil(t, pos)

	v.ConfirmPending()

	pos, err = v.GetOpenPosition(ctx, "BTC-USD")
	assert.NoError(t, err)
	assert.NotNil(t, pos)
}

func TestDeferConfirmClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v := New(10_000)
	v.SetMark("BTC-USD", 100)

	_, err := v.Open(ctx, broker.OrderRequest{Symbol: "BTC-USD", Side: broker.Buy, Size: 1, StopPrice: 98})
	assert.NoError(t, err)
	pos, _ := v.GetOpenPosition(ctx, "BTC-USD")

	v.DeferConfirm = true
	res, err := v.Close(ctx, pos.ID)
	assert.NoError(t, err)
	assert.Equal(t, broker.ExecAccepted, res.Status)

	// Still live until the venue settles.
	pos, _ = v.GetOpenPosition(ctx, "BTC-USD")
	assert.NotNil(t, pos)

	v.ConfirmPending()
	pos, _ = v.GetOpenPosition(ctx, "BTC-USD")
	assert.Nil(t, pos)
}

func TestModifyStops(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v := New(10_000)
	v.SetMark("BTC-USD", 100)

	_, err := v.Open(ctx, broker.OrderRequest{Symbol: "BTC-USD", Side: broker.Buy, Size: 1, StopPrice: 98, TakeProfit: 105})
	assert.NoError(t, err)
	pos, _ := v.GetOpenPosition(ctx, "BTC-USD")

	res, err := v.ModifyStops(ctx, pos.ID, 99, 0)
	assert.NoError(t, err)
	assert.True(t, res.Confirmed())

	pos, _ = v.GetOpenPosition(ctx, "BTC-USD")
	assert.Equal(t, 99.0, pos.StopPrice)
	assert.Equal(t, 105.0, pos.TakeProfit) // zero means leave as is

	_, err = v.ModifyStops(ctx, "nope", 99, 0)
	assert.ErrorIs(t, err, broker.ErrUnknownPosition)

	_, err = v.Close(ctx, "nope")
	assert.ErrorIs(t, err, broker.ErrUnknownPosition)
}

func TestHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	v := New(10_000)
	v.SetMark("BTC-USD", 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.GetAccount(ctx)
	assert.Error(t, err)
	_, err = v.Open(ctx, broker.OrderRequest{Symbol: "BTC-USD", Side: broker.Buy, Size: 1})
	assert.Error(t, err)
}
