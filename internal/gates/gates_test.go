package gates

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

func baseChain() *Chain {
	throttle := NewThrottleGate(30, 50, 20000, 0)
	fatfinger := FatFingerGate{MaxQty: 100, MaxNotional: decimal.NewFromInt(5_000_000), MaxPriceDev: decimal.NewFromFloat(0.02)}
	liquidity := LiquidityGate{MaxSpreadTicks: decimal.NewFromInt(3), MinBidAskVol: 1}
	return NewChain(throttle, fatfinger, LimitPriceGate{}, liquidity, MarginGate{}, GuardianModeGate{})
}

func baseCtx() Context {
	return Context{
		Now:        time.Now(),
		Instrument: coretypes.Instrument{TickSize: decimal.NewFromInt(1), Multiplier: decimal.NewFromInt(10)},
		Quote:      coretypes.Quote{Bid: decimal.NewFromInt(4499), Ask: decimal.NewFromInt(4500), BidVol: 10, AskVol: 10},
		HasQuote:   true,
		GuardianMode: coretypes.Running,
	}
}

func TestChainAcceptsHealthyIntent(t *testing.T) {
	chain := baseChain()
	intent := coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Price: decimal.NewFromInt(4500), Qty: 1}
	rej := chain.Evaluate(intent, baseCtx())
	require.Nil(t, rej)
}

func TestGuardianModeBlocksOpenInReduceOnly(t *testing.T) {
	chain := baseChain()
	ctx := baseCtx()
	ctx.GuardianMode = coretypes.ReduceOnly

	intent := coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Price: decimal.NewFromInt(4500), Qty: 1}
	rej := chain.Evaluate(intent, ctx)
	require.NotNil(t, rej)
	require.Equal(t, "guardian_mode", rej.Gate)
}

func TestGuardianModeAllowsReducingCloseInReduceOnly(t *testing.T) {
	chain := baseChain()
	ctx := baseCtx()
	ctx.GuardianMode = coretypes.ReduceOnly
	ctx.Position = coretypes.Position{LongQty: 5}

	intent := coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Sell, Offset: coretypes.Close, Price: decimal.NewFromInt(4500), Qty: 1}
	rej := chain.Evaluate(intent, ctx)
	require.Nil(t, rej)
}

func TestHaltedRejectsEverything(t *testing.T) {
	chain := baseChain()
	ctx := baseCtx()
	ctx.GuardianMode = coretypes.Halted
	ctx.Position = coretypes.Position{LongQty: 5}

	intent := coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Sell, Offset: coretypes.Close, Price: decimal.NewFromInt(4500), Qty: 1}
	rej := chain.Evaluate(intent, ctx)
	require.NotNil(t, rej)
}

func TestFatFingerRejectsOversizedQty(t *testing.T) {
	chain := baseChain()
	intent := coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Price: decimal.NewFromInt(4500), Qty: 1000}
	rej := chain.Evaluate(intent, baseCtx())
	require.NotNil(t, rej)
	require.Equal(t, "fat_finger", rej.Gate)
}

func TestThrottleBreachesInformCallback(t *testing.T) {
	throttle := NewThrottleGate(1, 50, 20000, 0)
	breaches := 0
	throttle.OnBreach(func(reason string, count int) { breaches++ })

	chain := NewChain(throttle, FatFingerGate{MaxQty: 100, MaxNotional: decimal.NewFromInt(5_000_000), MaxPriceDev: decimal.NewFromFloat(0.5)},
		LimitPriceGate{}, LiquidityGate{MaxSpreadTicks: decimal.NewFromInt(3), MinBidAskVol: 1}, MarginGate{}, GuardianModeGate{})

	intent := coretypes.OrderIntent{Symbol: "rb2501", Side: coretypes.Buy, Offset: coretypes.Open, Price: decimal.NewFromInt(4500), Qty: 1}
	ctx := baseCtx()

	require.Nil(t, chain.Evaluate(intent, ctx))
	rej := chain.Evaluate(intent, ctx) // second order within the minute breaches maxPerMinute=1
	require.NotNil(t, rej)
	require.Equal(t, 1, breaches)
}
