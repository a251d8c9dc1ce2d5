// Package cost implements CostEstimator: a pure function of
// (instrument, intent, quote) producing a CostBreakdown, plus the
// edge-vs-cost gate predicate. No mutable state — follows risk.Sizer's
// env-driven-constant idiom, generalized to the futures fee schedules a
// prediction-market maker never needed (by_lot/by_rate/close-today).
package cost

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// Params bundles the tunable cost-model coefficients. Defaults mirror the
// aggressive/passive k_slip split convention used elsewhere in this module.
type Params struct {
	KSlipAggressive decimal.Decimal // default 0.5
	KSlipPassive    decimal.Decimal // default 0
	KImpact         decimal.Decimal
	AvgDailyVolume  decimal.Decimal // avg_daily_volume for the square-root impact model
	Aggressive      bool            // whether this intent crosses the spread
}

// DefaultParams returns this module-stated defaults (k_slip=0.5 aggressive,
// 0 passive); callers set AvgDailyVolume and KImpact per symbol.
func DefaultParams() Params {
	return Params{
		KSlipAggressive: decimal.NewFromFloat(0.5),
		KSlipPassive:    decimal.Zero,
		KImpact:         decimal.NewFromFloat(0.1),
	}
}

// Estimate computes fee + slippage + impact for intent against instrument
// and quote using a fee-schedule lookup, a ticks-times-multiplier-times-qty
// slippage model, and a square-root participation-rate impact model.
func Estimate(inst coretypes.Instrument, intent coretypes.OrderIntent, quote coretypes.Quote, p Params) coretypes.CostBreakdown {
	fee := estimateFee(inst, intent)
	slippage := estimateSlippage(inst, intent, p)
	impact := estimateImpact(inst, intent, quote, p)

	return coretypes.CostBreakdown{
		Fee:      fee,
		Slippage: slippage,
		Impact:   impact,
		Total:    fee.Add(slippage).Add(impact),
	}
}

// estimateFee branches on FeeSpec.Kind: by_rate = rate*price*multiplier*qty;
// by_lot = yuan_per_lot*qty; mixed = max of the two. Close-today uses the
// close-today rate when offset=CLOSE_TODAY and one is specified; some
// exchanges waive it entirely (rate=0), which HasCloseTodayRate=true with a
// zero Rate expresses naturally.
func estimateFee(inst coretypes.Instrument, intent coretypes.OrderIntent) decimal.Decimal {
	qty := decimal.NewFromInt(intent.Qty)
	spec := inst.FeeSpec

	rate := spec.Rate
	if intent.Offset == coretypes.CloseToday && spec.HasCloseTodayRate {
		rate = spec.CloseTodayRate
	}

	byRate := rate.Mul(intent.Price).Mul(inst.Multiplier).Mul(qty)
	byLot := spec.YuanPerLot.Mul(qty)

	switch spec.Kind {
	case coretypes.FeeByRate:
		return byRate
	case coretypes.FeeByLot:
		return byLot
	case coretypes.FeeMixed:
		if byRate.GreaterThan(byLot) {
			return byRate
		}
		return byLot
	default:
		return decimal.Zero
	}
}

// estimateSlippage = k_slip * tick_size * multiplier * qty, k_slip depending
// on aggressiveness. The multiplier converts a tick-denominated price move
// into a per-contract currency amount, same as fee's by_rate term.
func estimateSlippage(inst coretypes.Instrument, intent coretypes.OrderIntent, p Params) decimal.Decimal {
	k := p.KSlipPassive
	if p.Aggressive {
		k = p.KSlipAggressive
	}
	return k.Mul(inst.TickSize).Mul(inst.Multiplier).Mul(decimal.NewFromInt(intent.Qty))
}

// estimateImpact uses the square-root-of-participation model:
// k_impact * sqrt(qty / avg_daily_volume) * price.
func estimateImpact(inst coretypes.Instrument, intent coretypes.OrderIntent, quote coretypes.Quote, p Params) decimal.Decimal {
	if p.AvgDailyVolume.IsZero() {
		return decimal.Zero
	}
	participation, _ := decimal.NewFromInt(intent.Qty).Div(p.AvgDailyVolume).Float64()
	if participation < 0 {
		participation = 0
	}
	sqrtParticipation := math.Sqrt(participation)

	price := intent.Price
	if price.IsZero() && !quote.Last.IsZero() {
		price = quote.Last
	}

	return p.KImpact.Mul(decimal.NewFromFloat(sqrtParticipation)).Mul(price)
}

// EdgeGate is the cost-first rule: no order passes without positive
// post-cost expectation. edge_gate(edge, breakdown) = edge > breakdown.total.
func EdgeGate(signalEdge decimal.Decimal, breakdown coretypes.CostBreakdown) bool {
	return signalEdge.GreaterThan(breakdown.Total)
}
