package coretypes

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// AuditEvent is one line of the JSONL audit log. Entity-specific fields live
// in Fields; the four required fields are promoted to their own struct
// fields so every writer is forced to populate them.
type AuditEvent struct {
	Ts        float64                `json:"ts"`
	EventType string                 `json:"event_type"`
	RunID     string                 `json:"run_id"`
	ExecID    string                 `json:"exec_id"`
	Fields    map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Fields alongside the required fields so consumers see
// one flat JSON object per line.
func (e AuditEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Fields)+4)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["ts"] = e.Ts
	out["event_type"] = e.EventType
	out["run_id"] = e.RunID
	out["exec_id"] = e.ExecID
	return json.Marshal(out)
}

// CostBreakdown is CostEstimator's output.
type CostBreakdown struct {
	Fee      decimal.Decimal
	Slippage decimal.Decimal
	Impact   decimal.Decimal
	Total    decimal.Decimal
}

// GateRejection is the tagged-variant result of a failed protection gate.
type GateRejection struct {
	Gate    string
	Reason  string
	Details map[string]interface{}
}

func (r GateRejection) Error() string {
	return r.Gate + ": " + r.Reason
}

// FlattenPlan is Guardian's flatten_all output: an ordered list of intents to
// unwind, most-aggressive first.
type FlattenPlan struct {
	PairExecID string
	Legs       []OrderIntent
}

// HealthStatus is the contract-level health snapshot: whether the system
// is currently accepting new orders, Guardian's mode, and why not if not.
type HealthStatus struct {
	IsTradeable  bool
	GuardianMode GuardianState
	Reasons      []string
}
