package cost

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// TestS5CostGateBlocksMarginalOrder reproduces the scenario where fee,
// slippage, and impact together exceed the strategy's signal edge.
// literally: BUY 1 MA405 @ 2500, tick=1, multiplier=10, by_lot fee=2.
// Expected: fee=2, slippage=5, impact~=0, total=7; signal_edge=5 => rejected.
func TestS5CostGateBlocksMarginalOrder(t *testing.T) {
	inst := coretypes.Instrument{
		Symbol:     "MA405",
		TickSize:   decimal.NewFromInt(1),
		Multiplier: decimal.NewFromInt(10),
		FeeSpec: coretypes.FeeSpec{
			Kind:       coretypes.FeeByLot,
			YuanPerLot: decimal.NewFromInt(2),
		},
	}
	intent := coretypes.OrderIntent{
		Symbol: "MA405",
		Side:   coretypes.Buy,
		Offset: coretypes.Open,
		Price:  decimal.NewFromInt(2500),
		Qty:    1,
	}
	quote := coretypes.Quote{Symbol: "MA405", Bid: decimal.NewFromInt(2499), Ask: decimal.NewFromInt(2500)}

	p := DefaultParams()
	p.Aggressive = true // crossing the spread at the ask

	breakdown := Estimate(inst, intent, quote, p)

	require.True(t, breakdown.Fee.Equal(decimal.NewFromInt(2)))
	require.True(t, breakdown.Slippage.Equal(decimal.NewFromInt(5)))
	require.True(t, breakdown.Impact.IsZero())
	require.True(t, breakdown.Total.Equal(decimal.NewFromInt(7)))

	signalEdge := decimal.NewFromInt(5)
	require.False(t, EdgeGate(signalEdge, breakdown))
}

func TestEdgeGateLaw(t *testing.T) {
	breakdown := coretypes.CostBreakdown{Total: decimal.NewFromInt(10)}

	require.True(t, EdgeGate(decimal.NewFromInt(11), breakdown))
	require.False(t, EdgeGate(decimal.NewFromInt(10), breakdown))
	require.False(t, EdgeGate(decimal.NewFromInt(9), breakdown))
}

func TestFeeMixedTakesMax(t *testing.T) {
	inst := coretypes.Instrument{
		Multiplier: decimal.NewFromInt(10),
		FeeSpec: coretypes.FeeSpec{
			Kind:       coretypes.FeeMixed,
			Rate:       decimal.NewFromFloat(0.0001),
			YuanPerLot: decimal.NewFromInt(2),
		},
	}
	intent := coretypes.OrderIntent{Price: decimal.NewFromInt(4500), Qty: 10}

	fee := estimateFee(inst, intent)
	// by_rate = 0.0001*4500*10*10 = 45; by_lot = 2*10 = 20 -> max is 45
	require.True(t, fee.Equal(decimal.NewFromInt(45)))
}

func TestCloseTodayFeeUsesCloseTodayRate(t *testing.T) {
	inst := coretypes.Instrument{
		Multiplier: decimal.NewFromInt(1),
		FeeSpec: coretypes.FeeSpec{
			Kind:              coretypes.FeeByRate,
			Rate:              decimal.NewFromFloat(0.001),
			HasCloseTodayRate: true,
			CloseTodayRate:    decimal.Zero,
		},
	}
	intent := coretypes.OrderIntent{Offset: coretypes.CloseToday, Price: decimal.NewFromInt(1000), Qty: 1}

	fee := estimateFee(inst, intent)
	require.True(t, fee.IsZero())
}
