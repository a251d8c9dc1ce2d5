package gates

import (
	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// MarginGate rejects an order whose projected post-trade margin
// usage would exceed Guardian's current ceiling. MarginCeiling is
// Guardian-owned and supplied per-call via Context — the gate itself holds
// no margin-policy state.
type MarginGate struct{}

func (g MarginGate) Name() string { return "margin" }

func (g MarginGate) Check(intent coretypes.OrderIntent, ctx Context) *coretypes.GateRejection {
	if ctx.MarginCeiling.IsZero() {
		return nil // no ceiling configured: margin checks disabled
	}
	if ctx.ProjectedMargin.GreaterThan(ctx.MarginCeiling) {
		return reject("margin_ceiling_exceeded", map[string]interface{}{
			"projected": ctx.ProjectedMargin.String(),
			"ceiling":   ctx.MarginCeiling.String(),
		})
	}
	return nil
}
