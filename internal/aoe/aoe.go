// Package aoe implements the AutoOrderEngine: the single component that
// drives the OrderStateMachine against a live Broker, dispatches broker
// callbacks by (order_ref, order_sys_id) back to the owning OrderContext,
// and recovers from ack/fill/cancel timeouts via query-then-retry-or-chase.
// Follows execution.Executor's SubmitOrder pipeline and core.Router's
// dispatch-by-key pattern for the order_ref/order_sys_id -> local_id
// correlation a single-broker-connection executor never needed.
package aoe

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/audit"
	"github.com/kestrelfutures/fcore/internal/broker"
	"github.com/kestrelfutures/fcore/internal/coretypes"
	"github.com/kestrelfutures/fcore/internal/osm"
	"github.com/kestrelfutures/fcore/internal/storage"
)

// Config bundles AOE's timeout and retry/chase tuning.
type Config struct {
	AckTimeout    time.Duration
	FillTimeout   time.Duration
	CancelTimeout time.Duration

	MaxRetry        int
	MaxChase        int
	ChaseTickOffset decimal.Decimal

	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Engine is the single authoritative owner of every in-flight OrderContext.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	strict  bool
	machine *osm.Machine
	broker  broker.Broker
	timers  *osm.TimeoutHeap

	contexts     map[uuid.UUID]*coretypes.OrderContext
	byOrderRef   map[string]uuid.UUID
	byOrderSysID map[string]uuid.UUID

	mode coretypes.GuardianState

	auditLog *audit.Writer
	store    *storage.Store
	runID    string
	rng      *rand.Rand
}

// New builds an Engine. auditLog may be nil to disable audit recording, and
// store may be nil to disable terminal-order archival (tests only —
// production always audits and archives).
func New(cfg Config, strictOSM bool, br broker.Broker, auditLog *audit.Writer, store *storage.Store, runID string) *Engine {
	e := &Engine{
		cfg:          cfg,
		strict:       strictOSM,
		machine:      osm.New(strictOSM),
		broker:       br,
		timers:       osm.NewTimeoutHeap(),
		contexts:     make(map[uuid.UUID]*coretypes.OrderContext),
		byOrderRef:   make(map[string]uuid.UUID),
		byOrderSysID: make(map[string]uuid.UUID),
		mode:         coretypes.Running,
		auditLog:     auditLog,
		store:        store,
		runID:        runID,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	br.RegisterCallbacks(e)
	return e
}

// Submit creates a new OrderContext for intent, places it with the broker,
// and schedules an ack timeout. Rejected outright while HALTED — use
// SubmitFlatten for the unwind legs Guardian's flatten_all itself emits.
func (e *Engine) Submit(ctx context.Context, intent coretypes.OrderIntent, now time.Time) (*coretypes.OrderContext, error) {
	e.mu.Lock()
	if e.mode == coretypes.Halted {
		e.mu.Unlock()
		return nil, fmt.Errorf("aoe: halted, rejecting submit for %s", intent.Symbol)
	}
	e.mu.Unlock()
	return e.createAndSubmit(ctx, intent, now)
}

// SubmitFlatten places a flatten_all unwind leg even while HALTED — it is
// Guardian's own emergency action, not new strategy-originated order flow.
func (e *Engine) SubmitFlatten(ctx context.Context, intent coretypes.OrderIntent, now time.Time) (*coretypes.OrderContext, error) {
	return e.createAndSubmit(ctx, intent, now)
}

func (e *Engine) createAndSubmit(ctx context.Context, intent coretypes.OrderIntent, now time.Time) (*coretypes.OrderContext, error) {
	e.mu.Lock()
	oc := &coretypes.OrderContext{
		LocalID:           uuid.New(),
		Intent:            intent,
		State:             coretypes.Created,
		ProcessedTradeIDs: make(map[string]struct{}),
		CreateTs:          now,
	}
	e.contexts[oc.LocalID] = oc
	e.mu.Unlock()

	return oc, e.resubmit(ctx, oc, now)
}

// resubmit moves oc through SUBMIT and calls the broker. Used for the
// initial submission, for a retry coming out of RETRY_PENDING, and for a
// chase coming out of CHASE_PENDING.
func (e *Engine) resubmit(ctx context.Context, oc *coretypes.OrderContext, now time.Time) error {
	e.mu.Lock()
	// RETRY_PENDING -> SUBMITTING already happened via the EvRetry
	// transition that got us here; only CREATED and CHASE_PENDING still
	// need an explicit EvSubmit to reach SUBMITTING.
	needsSubmitEvent := oc.State != coretypes.Submitting
	var err error
	if needsSubmitEvent {
		_, err = e.machine.Apply(oc, coretypes.EvSubmit, now)
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}

	orderRef, err := e.broker.PlaceOrder(ctx, oc.Intent)
	if err != nil {
		e.mu.Lock()
		e.machine.Apply(oc, coretypes.EvRtnRejected, now)
		e.mu.Unlock()
		e.audit("order_rejected", oc, map[string]interface{}{"error": err.Error()})
		return err
	}

	e.mu.Lock()
	oc.OrderRef = orderRef
	e.byOrderRef[orderRef] = oc.LocalID
	e.timers.Schedule(oc.LocalID, now.Add(e.cfg.AckTimeout), coretypes.EvTimeoutAck)
	e.mu.Unlock()

	e.audit("order_submitted", oc, nil)
	return nil
}

// Cancel requests cancellation of an in-flight order.
func (e *Engine) Cancel(ctx context.Context, localID uuid.UUID, now time.Time) error {
	e.mu.Lock()
	oc, ok := e.contexts[localID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("aoe: unknown order %s", localID)
	}
	if _, err := e.machine.Apply(oc, coretypes.EvCancel, now); err != nil {
		e.mu.Unlock()
		return err
	}
	id := queryID(oc)
	e.timers.Cancel(localID)
	e.timers.Schedule(localID, now.Add(e.cfg.CancelTimeout), coretypes.EvTimeoutCancel)
	e.mu.Unlock()

	_, err := e.broker.CancelOrder(ctx, id)
	return err
}

// Get returns a copy of the tracked OrderContext for localID.
func (e *Engine) Get(localID uuid.UUID) (coretypes.OrderContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	oc, ok := e.contexts[localID]
	if !ok {
		return coretypes.OrderContext{}, false
	}
	return *oc, true
}

// StuckOrders returns the local_id of every non-terminal OrderContext whose
// last state update is older than timeout, for Guardian's anomaly inputs.
func (e *Engine) StuckOrders(now time.Time, timeout time.Duration) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stuck []string
	for id, oc := range e.contexts {
		if oc.State.IsTerminal() {
			continue
		}
		if now.Sub(oc.LastUpdateTs) > timeout {
			stuck = append(stuck, id.String())
		}
	}
	return stuck
}

// Mode returns AOE's current operating mode.
func (e *Engine) Mode() coretypes.GuardianState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode sets AOE's operating mode (RUNNING, REDUCE_ONLY, or HALTED — the
// Guardian broadcast from set_mode). HALTED additionally cancels every
// non-terminal order; Submit rejects new intents while HALTED.
func (e *Engine) SetMode(ctx context.Context, mode coretypes.GuardianState, now time.Time) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()

	if mode == coretypes.Halted {
		e.cancelAll(ctx, now)
	}
}

// cancelAll requests cancellation of every order not already in a terminal
// state. Best-effort: a broker error cancelling one leg does not stop the
// rest from being requested.
func (e *Engine) cancelAll(ctx context.Context, now time.Time) {
	e.mu.Lock()
	ids := make([]uuid.UUID, 0, len(e.contexts))
	for id, oc := range e.contexts {
		if !oc.State.IsTerminal() {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.Cancel(ctx, id, now); err != nil {
			log.Warn().Err(err).Str("local_id", id.String()).Msg("aoe: cancel_all failed for order")
		}
	}
}

// Tick pops every timeout due by now and drives its recovery action.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	due := e.timers.DueBefore(now)
	e.mu.Unlock()

	for _, entry := range due {
		e.handleTimeout(ctx, entry, now)
	}
}

func (e *Engine) handleTimeout(ctx context.Context, entry *osm.TimeoutEntry, now time.Time) {
	e.mu.Lock()
	oc, ok := e.contexts[entry.LocalID]
	e.mu.Unlock()
	if !ok {
		return
	}

	switch entry.Event {
	case coretypes.EvTimeoutAck, coretypes.EvTimeoutCancel:
		e.mu.Lock()
		e.machine.Apply(oc, entry.Event, now)
		e.mu.Unlock()
		e.resolveQuery(ctx, oc, now)

	case coretypes.EvTimeoutFill:
		_ = e.Cancel(ctx, oc.LocalID, now)

	case coretypes.EvRetry:
		e.mu.Lock()
		state, _ := e.machine.Apply(oc, coretypes.EvRetry, now)
		e.mu.Unlock()
		if state == coretypes.Submitting {
			_ = e.resubmit(ctx, oc, now)
		}
	}
}

// resolveQuery asks the broker directly for oc's status once a callback
// has gone silent past its timeout, then decides RETRY vs GIVE_UP.
func (e *Engine) resolveQuery(ctx context.Context, oc *coretypes.OrderContext, now time.Time) {
	snap, err := e.broker.QueryOrder(ctx, queryID(oc))
	if err != nil {
		e.mu.Lock()
		e.machine.Apply(oc, coretypes.EvQueryFail, now)
		e.mu.Unlock()
		e.scheduleRetryOrGiveUp(oc, now)
		return
	}

	if ev, ok := broker.TranslateStatus(snap.Status); ok {
		switch ev {
		case coretypes.EvRtnFilled, coretypes.EvRtnCancelled, coretypes.EvRtnPartialCancelled, coretypes.EvRtnNotInQueue:
			e.mu.Lock()
			e.machine.Apply(oc, ev, now)
			e.mu.Unlock()
			e.audit("order_query_resolved", oc, map[string]interface{}{"broker_status": snap.Status})
			return
		}
	}

	e.mu.Lock()
	e.machine.Apply(oc, coretypes.EvQueryOK, now)
	e.mu.Unlock()
	e.scheduleRetryOrGiveUp(oc, now)
}

func (e *Engine) scheduleRetryOrGiveUp(oc *coretypes.OrderContext, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if oc.State != coretypes.RetryPending {
		return
	}
	if oc.RetryCount >= e.cfg.MaxRetry {
		e.machine.Apply(oc, coretypes.EvGiveUp, now)
		e.audit("order_gave_up", oc, nil)
		return
	}
	delay := backoffWithJitter(e.cfg.BackoffBase, e.cfg.BackoffMax, oc.RetryCount, e.rng)
	e.timers.Schedule(oc.LocalID, now.Add(delay), coretypes.EvRetry)
}

// Chase resubmits the remaining quantity of an order that has already been
// cancelled (CANCELLED or PARTIAL_CANCELLED) at an aggressor-favorable
// price offset, up to MaxChase times. It sends no cancel itself: it
// returns an error for an order in any other state or with no quantity
// still outstanding.
func (e *Engine) Chase(ctx context.Context, localID uuid.UUID, now time.Time) error {
	e.mu.Lock()
	oc, ok := e.contexts[localID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("aoe: unknown order %s", localID)
	}
	if oc.State != coretypes.Cancelled && oc.State != coretypes.PartialCancelled {
		e.mu.Unlock()
		return fmt.Errorf("aoe: order %s is not in a cancelled state (state=%s)", localID, oc.State)
	}
	remaining := oc.Intent.Qty - oc.FilledQty
	if remaining <= 0 {
		e.mu.Unlock()
		return fmt.Errorf("aoe: order %s has no remaining quantity to chase", localID)
	}
	if oc.ChaseCount >= e.cfg.MaxChase {
		e.mu.Unlock()
		return fmt.Errorf("aoe: order %s exhausted chase attempts", localID)
	}

	oc.ChaseCount++
	oc.Intent.Qty = remaining
	oc.Intent.Price = chasePrice(oc.Intent, e.cfg.ChaseTickOffset)
	oc.State = coretypes.ChasePending
	e.mu.Unlock()

	e.audit("order_chasing", oc, map[string]interface{}{"chase_count": oc.ChaseCount})
	return e.resubmit(ctx, oc, now)
}

func chasePrice(intent coretypes.OrderIntent, tickOffset decimal.Decimal) decimal.Decimal {
	if intent.Side == coretypes.Buy {
		return intent.Price.Add(tickOffset)
	}
	return intent.Price.Sub(tickOffset)
}

// --- broker.Callbacks ---

func (e *Engine) OnOrder(f broker.OrderField) {
	now := time.Now()
	e.mu.Lock()
	localID, ok := e.lookupLocked(f.OrderRef, f.OrderSysID)
	if !ok {
		e.mu.Unlock()
		log.Warn().Str("order_ref", f.OrderRef).Msg("aoe: order callback for unknown order")
		return
	}
	oc := e.contexts[localID]
	if f.OrderSysID != "" && oc.OrderSysID == "" {
		oc.OrderSysID = f.OrderSysID
		e.byOrderSysID[f.OrderSysID] = localID
	}
	oc.FrontID, oc.SessionID = f.FrontID, f.SessionID

	ev, known := broker.TranslateStatus(f.Status)
	if !known {
		e.mu.Unlock()
		log.Warn().Str("status", f.Status).Msg("aoe: unrecognized broker status")
		return
	}
	prevState := oc.State
	e.machine.Apply(oc, ev, now)
	if prevState == coretypes.Submitting && oc.State == coretypes.Pending {
		e.timers.Cancel(localID)
		e.timers.Schedule(localID, now.Add(e.cfg.FillTimeout), coretypes.EvTimeoutFill)
	}
	if oc.State.IsTerminal() {
		e.timers.Cancel(localID)
	}
	e.mu.Unlock()

	e.audit("order_callback", oc, map[string]interface{}{"broker_status": f.Status})
}

func (e *Engine) OnTrade(f broker.TradeField) {
	now := time.Now()
	e.mu.Lock()
	localID, ok := e.lookupLocked(f.OrderRef, f.OrderSysID)
	if !ok {
		e.mu.Unlock()
		log.Warn().Str("order_ref", f.OrderRef).Msg("aoe: trade callback for unknown order")
		return
	}
	oc := e.contexts[localID]
	_, err := e.machine.ApplyTrade(oc, osm.TradeData{TradeID: f.TradeID, Price: f.Price, Volume: f.Volume}, now)
	if oc.State.IsTerminal() {
		e.timers.Cancel(localID)
	}
	e.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("trade_id", f.TradeID).Msg("aoe: trade application error")
	}
	e.audit("trade_applied", oc, map[string]interface{}{"trade_id": f.TradeID, "price": f.Price.String(), "volume": f.Volume})
}

func (e *Engine) OnInsertRejected(info broker.RspInfo) {
	now := time.Now()
	e.mu.Lock()
	localID, ok := e.byOrderRef[info.OrderRef]
	if !ok {
		e.mu.Unlock()
		return
	}
	oc := e.contexts[localID]
	e.machine.Apply(oc, coretypes.EvRtnRejected, now)
	e.timers.Cancel(localID)
	e.mu.Unlock()

	e.audit("order_insert_rejected", oc, map[string]interface{}{"error_id": info.ErrorID, "error_msg": info.ErrorMsg})
}

func (e *Engine) OnActionRejected(info broker.RspInfo) {
	now := time.Now()
	e.mu.Lock()
	localID, ok := e.byOrderRef[info.OrderRef]
	if !ok {
		e.mu.Unlock()
		return
	}
	oc := e.contexts[localID]
	e.timers.Cancel(localID)
	e.timers.Schedule(localID, now.Add(e.cfg.CancelTimeout), coretypes.EvTimeoutCancel)
	e.mu.Unlock()

	e.audit("cancel_action_rejected", oc, map[string]interface{}{"error_id": info.ErrorID, "error_msg": info.ErrorMsg})
}

func (e *Engine) OnDisconnect() {
	log.Warn().Msg("aoe: broker disconnected")
}

func (e *Engine) OnReconnect() {
	log.Info().Msg("aoe: broker reconnected")
}

func (e *Engine) lookupLocked(orderRef, orderSysID string) (uuid.UUID, bool) {
	if orderSysID != "" {
		if id, ok := e.byOrderSysID[orderSysID]; ok {
			return id, true
		}
	}
	if orderRef != "" {
		if id, ok := e.byOrderRef[orderRef]; ok {
			return id, true
		}
	}
	return uuid.UUID{}, false
}

func queryID(oc *coretypes.OrderContext) string {
	if oc.OrderSysID != "" {
		return oc.OrderSysID
	}
	return oc.OrderRef
}

func (e *Engine) audit(eventType string, oc *coretypes.OrderContext, extra map[string]interface{}) {
	if e.store != nil && oc.State.IsTerminal() {
		if err := e.store.ArchiveOrder(*oc); err != nil {
			log.Warn().Err(err).Str("local_id", oc.LocalID.String()).Msg("aoe: archive order failed")
		}
	}
	if e.auditLog == nil {
		return
	}
	fields := map[string]interface{}{
		"local_id":   oc.LocalID.String(),
		"order_ref":  oc.OrderRef,
		"state":      oc.State.String(),
		"filled_qty": oc.FilledQty,
		"symbol":     oc.Intent.Symbol,
	}
	for k, v := range extra {
		fields[k] = v
	}
	_ = e.auditLog.Append(coretypes.AuditEvent{
		Ts:        float64(time.Now().UnixNano()) / 1e9,
		EventType: eventType,
		RunID:     e.runID,
		Fields:    fields,
	})
}

// backoffWithJitter computes an exponential backoff capped at max, with
// +/-10% jitter so many orders retrying at once don't all resubmit on the
// same tick.
func backoffWithJitter(base, max time.Duration, attempt int, rng *rand.Rand) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	jitter := time.Duration(rng.Int63n(int64(d)/5+1)) - d/10
	result := d + jitter
	if result < 0 {
		result = base
	}
	return result
}
