package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

type recordingCallbacks struct {
	orders []OrderField
	trades []TradeField
}

func (r *recordingCallbacks) OnOrder(f OrderField)          { r.orders = append(r.orders, f) }
func (r *recordingCallbacks) OnTrade(f TradeField)          { r.trades = append(r.trades, f) }
func (r *recordingCallbacks) OnInsertRejected(RspInfo)      {}
func (r *recordingCallbacks) OnActionRejected(RspInfo)      {}
func (r *recordingCallbacks) OnDisconnect()                 {}
func (r *recordingCallbacks) OnReconnect()                  {}

func TestSimBrokerAutoAcceptsOnPlace(t *testing.T) {
	b := NewSimBroker(DefaultSimBrokerConfig())
	cb := &recordingCallbacks{}
	b.RegisterCallbacks(cb)

	ref, err := b.PlaceOrder(context.Background(), coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Buy, Qty: 1, Price: decimal.NewFromInt(4500)})
	require.NoError(t, err)
	require.Len(t, cb.orders, 1)
	require.Equal(t, "3", cb.orders[0].Status)
	require.Equal(t, ref, cb.orders[0].OrderRef)
}

func TestSimBrokerFillsOnCandleCross(t *testing.T) {
	b := NewSimBroker(DefaultSimBrokerConfig())
	cb := &recordingCallbacks{}
	b.RegisterCallbacks(cb)

	_, err := b.PlaceOrder(context.Background(), coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Buy, Qty: 10, Price: decimal.NewFromInt(4500)})
	require.NoError(t, err)

	fills := b.ProcessCandle(Candle{Symbol: "rb2501", Timestamp: time.Now(), Low: decimal.NewFromInt(4480), High: decimal.NewFromInt(4520)})
	require.Len(t, fills, 1)
	require.Equal(t, int64(10), fills[0].Volume)
	require.Len(t, cb.trades, 1)
}

func TestSimBrokerCancelRemovesPending(t *testing.T) {
	b := NewSimBroker(DefaultSimBrokerConfig())
	cb := &recordingCallbacks{}
	b.RegisterCallbacks(cb)

	ref, _ := b.PlaceOrder(context.Background(), coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Buy, Qty: 10, Price: decimal.NewFromInt(4500)})
	ack, err := b.CancelOrder(context.Background(), ref)
	require.NoError(t, err)
	require.True(t, ack.Accepted)

	fills := b.ProcessCandle(Candle{Symbol: "rb2501", Low: decimal.NewFromInt(4000), High: decimal.NewFromInt(5000)})
	require.Empty(t, fills)
}
