package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

func TestApplyTradeOpenLong(t *testing.T) {
	tr := New(nil)
	require.NoError(t, tr.ApplyTrade(Trade{
		Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open,
		Qty: 10, Price: decimal.NewFromInt(4500), TradeID: "t1",
	}))

	p := tr.Get("rb2501")
	require.Equal(t, int64(10), p.LongQty)
	require.Equal(t, int64(10), p.LongTodayQty)
	require.True(t, p.LongAvgPrice.Equal(decimal.NewFromInt(4500)))
}

func TestDuplicateTradeIDIgnored(t *testing.T) {
	tr := New(nil)
	trade := Trade{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Qty: 10, Price: decimal.NewFromInt(4500), TradeID: "t1"}
	require.NoError(t, tr.ApplyTrade(trade))
	require.NoError(t, tr.ApplyTrade(trade)) // duplicate

	p := tr.Get("rb2501")
	require.Equal(t, int64(10), p.LongQty) // unchanged from first delivery
}

func TestCloseFIFOPopsTodayFirst(t *testing.T) {
	tr := New(nil)
	require.NoError(t, tr.ApplyTrade(Trade{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Qty: 5, Price: decimal.NewFromInt(4400), TradeID: "y1"}))

	// Simulate yesterday's lot: manually age it out of "today".
	snap := tr.Get("rb2501")
	tr.positions["rb2501"].LongTodayQty = 0
	_ = snap

	require.NoError(t, tr.ApplyTrade(Trade{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Qty: 3, Price: decimal.NewFromInt(4500), TradeID: "t1"}))

	p := tr.Get("rb2501")
	require.Equal(t, int64(8), p.LongQty)
	require.Equal(t, int64(3), p.LongTodayQty)

	// Close 5: should take all 3 today first, then 2 from yesterday.
	require.NoError(t, tr.ApplyTrade(Trade{Symbol: "rb2501", Side: coretypes.Sell, Offset: coretypes.Close, Qty: 5, Price: decimal.NewFromInt(4600), TradeID: "c1"}))

	p = tr.Get("rb2501")
	require.Equal(t, int64(3), p.LongQty)
	require.Equal(t, int64(0), p.LongTodayQty)
}

func TestReconcileTolerance(t *testing.T) {
	tr := New(nil)
	require.NoError(t, tr.ApplyTrade(Trade{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Qty: 10, Price: decimal.NewFromInt(4500), TradeID: "t1"}))

	drift := tr.Reconcile("rb2501", coretypes.Position{Symbol: "rb2501", LongQty: 9}, time.Now())
	require.NotNil(t, drift)
	require.True(t, drift.Tolerated)

	drift = tr.Reconcile("rb2501", coretypes.Position{Symbol: "rb2501", LongQty: 3}, time.Now())
	require.NotNil(t, drift)
	require.False(t, drift.Tolerated)
}
