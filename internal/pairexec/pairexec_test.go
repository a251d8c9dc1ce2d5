package pairexec

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/aoe"
	"github.com/kestrelfutures/fcore/internal/broker"
	"github.com/kestrelfutures/fcore/internal/coretypes"
)

func newEngine() (*aoe.Engine, *broker.SimBroker) {
	br := broker.NewSimBroker(broker.DefaultSimBrokerConfig())
	cfg := aoe.Config{
		AckTimeout:      time.Second,
		FillTimeout:     time.Second,
		CancelTimeout:   time.Second,
		MaxRetry:        2,
		MaxChase:        1,
		ChaseTickOffset: decimal.NewFromFloat(0.5),
		BackoffBase:     10 * time.Millisecond,
		BackoffMax:      50 * time.Millisecond,
	}
	return aoe.New(cfg, true, br, nil, nil, "run1"), br
}

func legs() (coretypes.OrderIntent, coretypes.OrderIntent) {
	legA := coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Price: decimal.NewFromInt(3800), Qty: 5}
	legB := coretypes.OrderIntent{Symbol: "rb2505", Side: coretypes.Sell, Offset: coretypes.Open, Price: decimal.NewFromInt(3850), Qty: 5}
	return legA, legB
}

func orderRef(t *testing.T, engine *aoe.Engine, localID uuid.UUID) string {
	t.Helper()
	oc, ok := engine.Get(localID)
	require.True(t, ok)
	return oc.OrderRef
}

func TestPairFillsBothLegsSequentially(t *testing.T) {
	now := time.Now()
	engine, br := newEngine()
	x := New(engine, nil, "run1", 0)

	legA, legB := legs()
	_, err := x.Open(context.Background(), "pair1", legA, legB, now)
	require.NoError(t, err)

	ex, ok := x.Get("pair1")
	require.True(t, ok)
	require.Equal(t, LegAOpen, ex.State)

	br.ProcessCandle(broker.Candle{Symbol: "rb2501", Open: decimal.NewFromInt(3800), High: decimal.NewFromInt(3805), Low: decimal.NewFromInt(3795), Close: decimal.NewFromInt(3801)})

	x.Tick(context.Background(), now)
	ex, ok = x.Get("pair1")
	require.True(t, ok)
	require.Equal(t, BothOpen, ex.State)

	br.ProcessCandle(broker.Candle{Symbol: "rb2505", Open: decimal.NewFromInt(3850), High: decimal.NewFromInt(3855), Low: decimal.NewFromInt(3840), Close: decimal.NewFromInt(3849)})

	x.Tick(context.Background(), now)
	ex, ok = x.Get("pair1")
	require.True(t, ok)
	require.Equal(t, Filled, ex.State)
}

func TestLegARejectedAbortsWithoutSubmittingLegB(t *testing.T) {
	now := time.Now()
	cfg := aoe.Config{
		AckTimeout:      time.Second,
		FillTimeout:     time.Second,
		CancelTimeout:   time.Second,
		MaxRetry:        2,
		MaxChase:        1,
		ChaseTickOffset: decimal.NewFromFloat(0.5),
		BackoffBase:     10 * time.Millisecond,
		BackoffMax:      50 * time.Millisecond,
	}
	br := broker.NewSimBroker(broker.SimBrokerConfig{AutoAccept: false})
	engine := aoe.New(cfg, true, br, nil, nil, "run1")
	x := New(engine, nil, "run1", 0)

	legA, legB := legs()
	ex0, err := x.Open(context.Background(), "pair1", legA, legB, now)
	require.NoError(t, err)

	// With no ack yet, leg A is still SUBMITTING when the exchange rejects
	// the insert outright.
	engine.OnInsertRejected(broker.RspInfo{OrderRef: orderRef(t, engine, ex0.LegALocalID), ErrorMsg: "contract not tradable"})

	x.Tick(context.Background(), now)
	ex, ok := x.Get("pair1")
	require.True(t, ok)
	require.Equal(t, Aborted, ex.State)
	require.Equal(t, uuid.UUID{}, ex.LegBLocalID)
}

func TestLegBFailureTriggersRollback(t *testing.T) {
	now := time.Now()
	cfg := aoe.Config{
		AckTimeout:      time.Second,
		FillTimeout:     time.Second,
		CancelTimeout:   time.Second,
		MaxRetry:        2,
		MaxChase:        1,
		ChaseTickOffset: decimal.NewFromFloat(0.5),
		BackoffBase:     10 * time.Millisecond,
		BackoffMax:      50 * time.Millisecond,
	}
	// AutoAccept off: every leg (including the rollback) stays SUBMITTING
	// until a fill or rejection resolves it directly — a fill from
	// SUBMITTING is a legitimate OSM transition, so ProcessCandle still
	// resolves orders without an intervening ack.
	br := broker.NewSimBroker(broker.SimBrokerConfig{AutoAccept: false})
	engine := aoe.New(cfg, true, br, nil, nil, "run1")
	x := New(engine, nil, "run1", 0)

	legA, legB := legs()
	_, err := x.Open(context.Background(), "pair1", legA, legB, now)
	require.NoError(t, err)

	br.ProcessCandle(broker.Candle{Symbol: "rb2501", Open: decimal.NewFromInt(3800), High: decimal.NewFromInt(3805), Low: decimal.NewFromInt(3795), Close: decimal.NewFromInt(3801)})
	x.Tick(context.Background(), now)

	ex, _ := x.Get("pair1")
	require.Equal(t, BothOpen, ex.State)

	// Leg B never fills and the broker rejects it outright.
	engine.OnInsertRejected(broker.RspInfo{OrderRef: orderRef(t, engine, ex.LegBLocalID), ErrorMsg: "margin insufficient"})

	x.Tick(context.Background(), now)
	ex, _ = x.Get("pair1")
	require.Equal(t, RollingBack, ex.State)
	require.True(t, ex.HasRollback)

	// The rollback order fills directly from SUBMITTING once its candle
	// crosses its price.
	br.ProcessCandle(broker.Candle{Symbol: "rb2501", Open: decimal.NewFromInt(3800), High: decimal.NewFromInt(3805), Low: decimal.NewFromInt(3795), Close: decimal.NewFromInt(3801)})
	x.Tick(context.Background(), now)

	ex, _ = x.Get("pair1")
	require.Equal(t, Aborted, ex.State)
}

func TestImbalanceFlaggedWhenFillsDiverge(t *testing.T) {
	now := time.Now()
	engine, br := newEngine()
	x := New(engine, nil, "run1", 2)

	legA := coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Price: decimal.NewFromInt(3800), Qty: 10}
	legB := coretypes.OrderIntent{Symbol: "rb2505", Side: coretypes.Sell, Offset: coretypes.Open, Price: decimal.NewFromInt(3850), Qty: 10}
	_, err := x.Open(context.Background(), "pair1", legA, legB, now)
	require.NoError(t, err)

	br.ProcessCandle(broker.Candle{Symbol: "rb2501", Open: decimal.NewFromInt(3800), High: decimal.NewFromInt(3805), Low: decimal.NewFromInt(3795), Close: decimal.NewFromInt(3801)})
	x.Tick(context.Background(), now)

	ex, _ := x.Get("pair1")
	require.Equal(t, BothOpen, ex.State)
	require.False(t, ex.Imbalanced)

	// Leg B only partially fills — simulate via a direct trade callback for
	// less than the full quantity.
	engine.OnTrade(broker.TradeField{OrderRef: orderRef(t, engine, ex.LegBLocalID), TradeID: "t1", Price: decimal.NewFromInt(3850), Volume: 3})

	x.Tick(context.Background(), now)
	ex, _ = x.Get("pair1")
	require.True(t, ex.Imbalanced)
}
