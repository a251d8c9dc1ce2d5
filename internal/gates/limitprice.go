package gates

import (
	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// LimitPriceGate rejects orders outside the exchange's daily price-limit
// band, computed from last_settle and the instrument's upper/lower limit
// percentages.
type LimitPriceGate struct{}

func (g LimitPriceGate) Name() string { return "limit_price" }

func (g LimitPriceGate) Check(intent coretypes.OrderIntent, ctx Context) *coretypes.GateRejection {
	if ctx.LastSettle.IsZero() {
		return nil // no settle snapshot yet (e.g. first session of the symbol's life); nothing to check against
	}

	one := decimal.NewFromInt(1)
	upper := ctx.LastSettle.Mul(one.Add(ctx.Instrument.UpperLimitPct))
	lower := ctx.LastSettle.Mul(one.Sub(ctx.Instrument.LowerLimitPct))

	if intent.Price.GreaterThan(upper) {
		return reject("above_upper_limit", map[string]interface{}{"price": intent.Price.String(), "upper": upper.String()})
	}
	if intent.Price.LessThan(lower) {
		return reject("below_lower_limit", map[string]interface{}{"price": intent.Price.String(), "lower": lower.String()})
	}
	return nil
}
