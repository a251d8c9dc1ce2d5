package gates

import (
	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// FatFingerGate rejects orders whose qty, notional, or price deviation from
// mid exceeds configured ceilings.
type FatFingerGate struct {
	MaxQty      int64
	MaxNotional decimal.Decimal
	MaxPriceDev decimal.Decimal
}

func (g FatFingerGate) Name() string { return "fat_finger" }

func (g FatFingerGate) Check(intent coretypes.OrderIntent, ctx Context) *coretypes.GateRejection {
	if intent.Qty > g.MaxQty {
		return reject("max_qty", map[string]interface{}{"qty": intent.Qty, "max": g.MaxQty})
	}

	notional := intent.Price.Mul(ctx.Instrument.Multiplier).Mul(decimal.NewFromInt(intent.Qty))
	if notional.GreaterThan(g.MaxNotional) {
		return reject("max_notional", map[string]interface{}{"notional": notional.String(), "max": g.MaxNotional.String()})
	}

	if ctx.HasQuote {
		mid := ctx.Quote.Mid()
		if !mid.IsZero() {
			dev := intent.Price.Sub(mid).Abs().Div(mid)
			if dev.GreaterThan(g.MaxPriceDev) {
				return reject("max_price_dev", map[string]interface{}{"dev": dev.String(), "max": g.MaxPriceDev.String()})
			}
		}
	}

	return nil
}
