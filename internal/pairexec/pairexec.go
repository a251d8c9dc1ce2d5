// Package pairexec implements PairExecutor: two-leg order execution with
// sequential-plus-rollback semantics and a leg-imbalance monitor. The
// teacher ships only single-leg execution (arbitrage.Engine.executeTrade
// places one market order per detected opportunity) — this package is
// composed from internal/aoe primitives rather than adapted from a direct
// precedent. It does no aggressiveness ordering of its own; its rollback
// leg always closes with CLOSE_TODAY.
package pairexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kestrelfutures/fcore/internal/aoe"
	"github.com/kestrelfutures/fcore/internal/audit"
	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// State is a pair execution's lifecycle.
type State int

const (
	LegAOpen State = iota
	BothOpen
	Filled
	RollingBack
	Aborted
	Done
)

var stateNames = map[State]string{
	LegAOpen:    "LEG_A_OPEN",
	BothOpen:    "BOTH_OPEN",
	Filled:      "FILLED",
	RollingBack: "ROLLING_BACK",
	Aborted:     "ABORTED",
	Done:        "DONE",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Execution tracks one in-flight pair.
type Execution struct {
	PairExecID string
	LegA       coretypes.OrderIntent
	LegB       coretypes.OrderIntent

	LegALocalID    uuid.UUID
	LegBLocalID    uuid.UUID
	RollbackLocal  uuid.UUID
	HasRollback    bool

	State      State
	Imbalanced bool
	CreatedTs  time.Time
}

// Executor drives PairExecutions on top of an AutoOrderEngine. Legs are
// never opened concurrently: leg A must reach FILLED before leg B is
// submitted, so a rejection on either side never leaves more exposure on
// the book than the single leg that already filled.
type Executor struct {
	mu sync.Mutex

	aoe                 *aoe.Engine
	auditLog            *audit.Writer
	runID               string
	imbalanceThresholdQ int64

	pairs map[string]*Execution
}

// New builds a PairExecutor. imbalanceThresholdQty is the absolute
// filled-quantity difference between legs, above BothOpen, that marks a
// pair Imbalanced (surfaced to Guardian via Imbalanced()).
func New(engine *aoe.Engine, auditLog *audit.Writer, runID string, imbalanceThresholdQty int64) *Executor {
	return &Executor{
		aoe:                 engine,
		auditLog:            auditLog,
		runID:               runID,
		imbalanceThresholdQ: imbalanceThresholdQty,
		pairs:               make(map[string]*Execution),
	}
}

// Open submits leg A of pairExecID. Leg B is submitted later, once Tick
// observes leg A has filled.
func (x *Executor) Open(ctx context.Context, pairExecID string, legA, legB coretypes.OrderIntent, now time.Time) (*Execution, error) {
	legAOC, err := x.aoe.Submit(ctx, legA, now)
	if err != nil {
		return nil, fmt.Errorf("pairexec: submit leg A: %w", err)
	}

	ex := &Execution{
		PairExecID:  pairExecID,
		LegA:        legA,
		LegB:        legB,
		LegALocalID: legAOC.LocalID,
		State:       LegAOpen,
		CreatedTs:   now,
	}

	x.mu.Lock()
	x.pairs[pairExecID] = ex
	x.mu.Unlock()

	x.audit("pair_opened", ex, nil)
	return ex, nil
}

// Get returns a copy of the tracked Execution for pairExecID.
func (x *Executor) Get(pairExecID string) (Execution, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ex, ok := x.pairs[pairExecID]
	if !ok {
		return Execution{}, false
	}
	return *ex, true
}

// Imbalanced returns every pair currently flagged as imbalanced.
func (x *Executor) Imbalanced() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []string
	for id, ex := range x.pairs {
		if ex.Imbalanced {
			out = append(out, id)
		}
	}
	return out
}

// Tick advances every tracked pair's state machine against the AOE's
// current view of each leg's OrderContext.
func (x *Executor) Tick(ctx context.Context, now time.Time) {
	x.mu.Lock()
	pairs := make([]*Execution, 0, len(x.pairs))
	for _, ex := range x.pairs {
		pairs = append(pairs, ex)
	}
	x.mu.Unlock()

	for _, ex := range pairs {
		x.tickOne(ctx, ex, now)
	}
}

func (x *Executor) tickOne(ctx context.Context, ex *Execution, now time.Time) {
	switch ex.State {
	case LegAOpen:
		x.tickLegAOpen(ctx, ex, now)
	case BothOpen:
		x.tickBothOpen(ctx, ex, now)
	case RollingBack:
		x.tickRollingBack(ex, now)
	}
}

func (x *Executor) tickLegAOpen(ctx context.Context, ex *Execution, now time.Time) {
	a, ok := x.aoe.Get(ex.LegALocalID)
	if !ok {
		return
	}
	if a.State == coretypes.Filled {
		legBOC, err := x.aoe.Submit(ctx, ex.LegB, now)
		x.mu.Lock()
		if err != nil {
			ex.State = Aborted
			x.mu.Unlock()
			x.audit("pair_leg_b_submit_failed", ex, map[string]interface{}{"error": err.Error()})
			log.Error().Err(err).Str("pair_exec_id", ex.PairExecID).Msg("pairexec: leg B submit failed after leg A filled")
			return
		}
		ex.LegBLocalID = legBOC.LocalID
		ex.State = BothOpen
		x.mu.Unlock()
		x.audit("pair_leg_b_submitted", ex, nil)
		return
	}
	if a.State.IsTerminal() {
		// Leg A never filled (REJECTED/CANCELLED/ERROR) — nothing is live,
		// no rollback needed.
		x.mu.Lock()
		ex.State = Aborted
		x.mu.Unlock()
		x.audit("pair_aborted_leg_a_not_filled", ex, map[string]interface{}{"leg_a_state": a.State.String()})
	}
}

func (x *Executor) tickBothOpen(ctx context.Context, ex *Execution, now time.Time) {
	a, aok := x.aoe.Get(ex.LegALocalID)
	b, bok := x.aoe.Get(ex.LegBLocalID)
	if !aok || !bok {
		return
	}

	diff := a.FilledQty - b.FilledQty
	if diff < 0 {
		diff = -diff
	}
	wasImbalanced := ex.Imbalanced
	x.mu.Lock()
	ex.Imbalanced = x.imbalanceThresholdQ > 0 && diff >= x.imbalanceThresholdQ
	x.mu.Unlock()
	if ex.Imbalanced && !wasImbalanced {
		x.audit("pair_leg_imbalance_detected", ex, map[string]interface{}{"leg_a_filled": a.FilledQty, "leg_b_filled": b.FilledQty})
	}

	if b.State == coretypes.Filled {
		x.mu.Lock()
		ex.State = Filled
		x.mu.Unlock()
		x.audit("pair_filled", ex, nil)
		return
	}

	if b.State.IsTerminal() {
		// Leg B failed after leg A filled — leg A is live exposure with no
		// offsetting leg; unwind it with a closing limit order at leg A's
		// original price.
		rollback := oppositeIntent(ex.LegA)
		rbOC, err := x.aoe.Submit(ctx, rollback, now)
		if err != nil {
			log.Error().Err(err).Str("pair_exec_id", ex.PairExecID).Msg("pairexec: rollback submit failed, leg A exposure remains live")
			x.audit("pair_rollback_submit_failed", ex, map[string]interface{}{"error": err.Error()})
			return
		}
		x.mu.Lock()
		ex.RollbackLocal = rbOC.LocalID
		ex.HasRollback = true
		ex.State = RollingBack
		x.mu.Unlock()
		x.audit("pair_rollback_started", ex, map[string]interface{}{"leg_b_state": b.State.String()})
	}
}

func (x *Executor) tickRollingBack(ex *Execution, now time.Time) {
	rb, ok := x.aoe.Get(ex.RollbackLocal)
	if !ok || !rb.State.IsTerminal() {
		return
	}
	x.mu.Lock()
	ex.State = Aborted
	x.mu.Unlock()
	x.audit("pair_rollback_complete", ex, map[string]interface{}{"rollback_state": rb.State.String()})
}

// oppositeIntent builds the flattening order for a live, unmatched leg: same
// symbol and quantity, opposite side, closing rather than opening.
func oppositeIntent(intent coretypes.OrderIntent) coretypes.OrderIntent {
	side := coretypes.Sell
	if intent.Side == coretypes.Sell {
		side = coretypes.Buy
	}
	return coretypes.OrderIntent{
		Symbol: intent.Symbol,
		Side:   side,
		Offset: coretypes.CloseToday,
		Price:  intent.Price,
		Qty:    intent.Qty,
		Reason: "pairexec_rollback",
	}
}

func (x *Executor) audit(eventType string, ex *Execution, extra map[string]interface{}) {
	if x.auditLog == nil {
		return
	}
	fields := map[string]interface{}{
		"pair_exec_id": ex.PairExecID,
		"state":        ex.State.String(),
		"symbol_a":     ex.LegA.Symbol,
		"symbol_b":     ex.LegB.Symbol,
	}
	for k, v := range extra {
		fields[k] = v
	}
	_ = x.auditLog.Append(coretypes.AuditEvent{
		Ts:        float64(time.Now().UnixNano()) / 1e9,
		EventType: eventType,
		RunID:     x.runID,
		Fields:    fields,
	})
}
