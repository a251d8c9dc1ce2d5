package gates

import (
	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// LiquidityGate requires a fresh quote with an acceptable spread and
// side-appropriate depth.
type LiquidityGate struct {
	MaxSpreadTicks decimal.Decimal
	MinBidAskVol   int64
}

func (g LiquidityGate) Name() string { return "liquidity" }

func (g LiquidityGate) Check(intent coretypes.OrderIntent, ctx Context) *coretypes.GateRejection {
	if !ctx.HasQuote {
		return reject("no_quote", nil)
	}
	if ctx.QuoteSoftStale {
		return reject("soft_stale_quote", nil)
	}

	spread := ctx.Quote.SpreadTicks(ctx.Instrument.TickSize)
	if spread.GreaterThan(g.MaxSpreadTicks) {
		return reject("spread_too_wide", map[string]interface{}{"spread_ticks": spread.String(), "max": g.MaxSpreadTicks.String()})
	}

	var vol int64
	if intent.Side == coretypes.Buy {
		vol = ctx.Quote.AskVol
	} else {
		vol = ctx.Quote.BidVol
	}
	if vol < g.MinBidAskVol {
		return reject("insufficient_depth", map[string]interface{}{"vol": vol, "min": g.MinBidAskVol})
	}

	return nil
}
