package gates

import (
	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// GuardianModeGate enforces that, if Guardian's mode is not RUNNING, no new
// opening orders pass; REDUCE_ONLY additionally requires that the intent
// strictly reduce existing exposure; HALTED/MANUAL reject everything.
type GuardianModeGate struct{}

func (g GuardianModeGate) Name() string { return "guardian_mode" }

func (g GuardianModeGate) Check(intent coretypes.OrderIntent, ctx Context) *coretypes.GateRejection {
	switch ctx.GuardianMode {
	case coretypes.Running:
		return nil

	case coretypes.ReduceOnly:
		if intent.Offset == coretypes.Open {
			return reject("mode_reduce_only", map[string]interface{}{"mode": ctx.GuardianMode.String()})
		}
		if !reducesExposure(intent, ctx.Position) {
			return reject("mode_reduce_only_not_reducing", map[string]interface{}{"mode": ctx.GuardianMode.String()})
		}
		return nil

	default: // HALTED, MANUAL, INIT
		return reject("mode", map[string]interface{}{"mode": ctx.GuardianMode.String()})
	}
}

// reducesExposure reports whether a CLOSE/CLOSE_TODAY intent actually
// closes exposure the tracker currently holds, rather than e.g. a
// close-order on a side with zero position (which would be a no-op at
// best, a broker rejection at worst).
func reducesExposure(intent coretypes.OrderIntent, pos coretypes.Position) bool {
	if intent.Side == coretypes.Sell {
		return pos.LongQty > 0
	}
	return pos.ShortQty > 0
}
