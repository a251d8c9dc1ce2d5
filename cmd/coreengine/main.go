// Command coreengine is the process entrypoint: it assembles every
// execution-and-safety component into one running process, reads
// OrderIntents from an external strategy over stdin (one JSON object per
// line), and drives them through gates, AutoOrderEngine, Guardian, and
// PairExecutor until shutdown.
//
// Layered bootstrap and graceful-shutdown sequencing follow cmd.main's
// banner-divider structure, generalized from a single-exchange paper/live
// trading loop to an externally-fed order-safety core.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kestrelfutures/fcore/internal/aoe"
	"github.com/kestrelfutures/fcore/internal/audit"
	"github.com/kestrelfutures/fcore/internal/broker"
	"github.com/kestrelfutures/fcore/internal/config"
	"github.com/kestrelfutures/fcore/internal/coretypes"
	"github.com/kestrelfutures/fcore/internal/cost"
	"github.com/kestrelfutures/fcore/internal/gates"
	"github.com/kestrelfutures/fcore/internal/guardian"
	"github.com/kestrelfutures/fcore/internal/instrument"
	"github.com/kestrelfutures/fcore/internal/notify"
	"github.com/kestrelfutures/fcore/internal/pairexec"
	"github.com/kestrelfutures/fcore/internal/position"
	"github.com/kestrelfutures/fcore/internal/quote"
	"github.com/kestrelfutures/fcore/internal/quotefeed"
	"github.com/kestrelfutures/fcore/internal/storage"
)

const version = "v1.0"

func main() {
	// ═══════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	runID := uuid.New()
	log.Info().Str("run_id", runID.String()).Str("version", version).Msg("coreengine starting")

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 1: AUDIT + STORAGE
	// ═══════════════════════════════════════════════════════════════════

	auditLog, err := audit.NewWriter(cfg.AuditDir, runID, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audit log")
	}
	defer auditLog.Close()
	log.Info().Str("path", auditLog.Path()).Msg("audit log opened")

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()
	if store.IsEnabled() {
		log.Info().Msg("persistence enabled")
	} else {
		log.Warn().Msg("DATABASE_URL unset — running without persistence")
	}

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 2: INSTRUMENTS + QUOTES
	// ═══════════════════════════════════════════════════════════════════

	instruments := instrument.New()
	if cfg.InstrumentBundlePath != "" {
		if err := instruments.Load(cfg.InstrumentBundlePath); err != nil {
			log.Fatal().Err(err).Msg("failed to load instrument bundle")
		}
		log.Info().Int("count", instruments.Count()).Msg("instrument bundle loaded")
	}

	quoteCache := quote.New()
	var feed *quotefeed.Feed
	if cfg.QuoteFeedURL != "" {
		feed = quotefeed.New(cfg.QuoteFeedURL, quoteCache, nil)
		feed.Start()
		log.Info().Str("url", cfg.QuoteFeedURL).Msg("quote feed started")
	} else {
		log.Warn().Msg("QUOTE_FEED_URL unset — quote cache will stay empty")
	}

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 3: POSITIONS + BROKER + EXECUTION
	// ═══════════════════════════════════════════════════════════════════

	tracker := position.New(store)
	if err := tracker.LoadFromStore(); err != nil {
		log.Error().Err(err).Msg("position recovery failed")
	}

	br := broker.NewSimBroker(broker.DefaultSimBrokerConfig())

	engine := aoe.New(aoe.Config{
		AckTimeout:      cfg.Timeouts.AckS,
		FillTimeout:     cfg.Timeouts.FillS,
		CancelTimeout:   cfg.Timeouts.CancelS,
		MaxRetry:        cfg.Retry.MaxRetry,
		MaxChase:        cfg.Retry.MaxChase,
		ChaseTickOffset: cfg.Retry.ChaseTickOffset,
		BackoffBase:     time.Duration(cfg.Retry.BackoffBaseMs) * time.Millisecond,
		BackoffMax:      time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
	}, false, br, auditLog, store, runID.String())

	pairs := pairexec.New(engine, auditLog, runID.String(), cfg.Guardian.LegImbalanceThreshold)

	chain := gates.NewChain(
		gates.NewThrottleGate(cfg.Gates.ThrottleMaxOrdersPerMin, cfg.Gates.Throttle5sLimit, cfg.Gates.ThrottleDailyLimit, 0),
		gates.FatFingerGate{
			MaxQty:      cfg.Gates.FatFingerMaxQty,
			MaxNotional: cfg.Gates.FatFingerMaxNotional,
			MaxPriceDev: cfg.Gates.FatFingerMaxPriceDev,
		},
		gates.LimitPriceGate{},
		gates.LiquidityGate{
			MaxSpreadTicks: cfg.Gates.LiqMaxSpreadTicks,
			MinBidAskVol:   cfg.Gates.LiqMinBidAskVol,
		},
		gates.MarginGate{},
		gates.GuardianModeGate{},
	)

	costParams := cost.DefaultParams()

	// ═══════════════════════════════════════════════════════════════════
	// LAYER 4: GUARDIAN + NOTIFICATION
	// ═══════════════════════════════════════════════════════════════════

	telegramSink, err := notify.NewFromEnv(cfg.TelegramBotToken, fmt.Sprintf("%d", cfg.TelegramChatID))
	if err != nil {
		log.Warn().Err(err).Msg("telegram notifier unavailable, guardian will alert nowhere")
		telegramSink = nil
	} else if telegramSink != nil {
		log.Info().Msg("telegram notifier initialized")
	}

	// A nil *TelegramSink assigned directly to the guardian.Notifier interface
	// would not compare equal to nil there — only promote it when non-nil.
	var notifier guardian.Notifier
	if telegramSink != nil {
		notifier = telegramSink
	}

	g := guardian.New(guardian.Config{
		ReduceOnlyCooldown: cfg.Guardian.ReduceOnlyCooldownS,
		MarginWarningLevel: cfg.Guardian.MarginWarningLevel,
		MarginDangerLevel:  cfg.Guardian.MarginDangerLevel,
	}, notifier, auditLog, runID.String(), time.Now())
	g.Start(time.Now())

	// ═══════════════════════════════════════════════════════════════════
	// HEALTH ENDPOINT
	// ═══════════════════════════════════════════════════════════════════

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		mode := g.Mode()
		status := coretypes.HealthStatus{
			IsTradeable:  mode == coretypes.Running,
			GuardianMode: mode,
		}
		if !status.IsTradeable {
			status.Reasons = []string{"guardian mode is " + mode.String()}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	healthSrv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health endpoint stopped unexpectedly")
		}
	}()
	log.Info().Str("addr", healthSrv.Addr).Msg("health endpoint listening on /healthz")

	// ═══════════════════════════════════════════════════════════════════
	// BACKGROUND LOOPS
	// ═══════════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tickLoop(ctx, engine, pairs)
	go guardianLoop(ctx, g, engine, pairs, tracker, instruments, quoteCache, cfg)
	go reconcileLoop(ctx, g, br, tracker, cfg)
	go intentLoop(ctx, os.Stdin, engine, chain, instruments, quoteCache, tracker, costParams, auditLog, runID.String(), g, cfg)

	log.Info().Msg("coreengine running — reading intents from stdin")

	// ═══════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Warn().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	if feed != nil {
		feed.Stop()
	}
	log.Info().Msg("coreengine shut down cleanly")
}

// tickLoop drains AOE's timeout heap and advances pair executions on a
// fixed cadence — fine-grained enough to honour the sub-second ack/fill
// deadlines Config allows.
func tickLoop(ctx context.Context, engine *aoe.Engine, pairs *pairexec.Executor) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			engine.Tick(ctx, now)
			pairs.Tick(ctx, now)
		}
	}
}

// guardianLoop assembles one tick's worth of anomaly inputs from the
// components Guardian itself never references, feeds them to Tick, then
// broadcasts whatever mode Guardian lands on to AOE — set_mode, HALTED's
// cancel_all, and flatten_all on entry to HALTED are all Guardian actions
// that only the owning process can carry out, since Guardian holds no
// AOE/position/quote reference itself.
func guardianLoop(ctx context.Context, g *guardian.Guardian, engine *aoe.Engine, pairs *pairexec.Executor, tracker *position.Tracker, instruments *instrument.Cache, quoteCache *quote.Cache, cfg *config.Config) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	prevMode := g.Mode()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			var stale []string
			for symbol, p := range tracker.Snapshot() {
				if p.LongQty == 0 && p.ShortQty == 0 {
					continue
				}
				if quoteCache.IsHardStale(symbol, now, cfg.Staleness.HardStaleMs) {
					stale = append(stale, symbol)
				}
			}

			g.Tick(ctx, guardian.Inputs{
				Now:            now,
				StaleSymbols:   stale,
				StuckOrders:    engine.StuckOrders(now, cfg.Guardian.OrderStuckTimeoutS),
				PositionDrifts: nil, // populated by reconcileLoop's own Guardian call when a drift is detected
				LegImbalanced:  len(pairs.Imbalanced()) > 0,
				MarginLevel:    decimal.Zero, // no margin-usage feed in this deployment; broker exposes no margin query
			})

			mode := g.Mode()
			engine.SetMode(ctx, mode, now)
			if mode == coretypes.Halted && prevMode != coretypes.Halted {
				flattenAll(ctx, engine, tracker, instruments, quoteCache, now)
			}
			prevMode = mode
		}
	}
}

// flattenAll builds Guardian's unwind plan from the current book and
// submits every leg through AOE directly, bypassing the gate chain —
// flatten_all is an emergency action, not a strategy-originated intent.
func flattenAll(ctx context.Context, engine *aoe.Engine, tracker *position.Tracker, instruments *instrument.Cache, quoteCache *quote.Cache, now time.Time) {
	positions := tracker.Snapshot()
	insts := make(map[string]coretypes.Instrument, len(positions))
	quotes := make(map[string]coretypes.Quote, len(positions))
	for symbol := range positions {
		if inst, err := instruments.Get(symbol); err == nil {
			insts[symbol] = inst
		}
		if q, ok := quoteCache.Get(symbol); ok {
			quotes[symbol] = q
		}
	}

	plan := guardian.FlattenPlan(positions, insts, quotes)
	if len(plan.Legs) == 0 {
		return
	}
	log.Warn().Int("legs", len(plan.Legs)).Msg("guardian: flatten_all submitting unwind legs")
	for _, leg := range plan.Legs {
		if _, err := engine.SubmitFlatten(ctx, leg, now); err != nil {
			log.Error().Err(err).Str("symbol", leg.Symbol).Msg("guardian: flatten_all leg submit failed")
		}
	}
}

// reconcileLoop periodically cross-checks PositionTracker against the
// broker's own view and escalates Guardian directly on drift, since a
// drift must HALT immediately rather than wait for guardianLoop's next
// tick.
func reconcileLoop(ctx context.Context, g *guardian.Guardian, br broker.Broker, tracker *position.Tracker, cfg *config.Config) {
	interval := cfg.Guardian.ReconcileIntervalS
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			positions, err := br.QueryPositions(ctx)
			if err != nil {
				log.Error().Err(err).Msg("reconcile: query_positions failed")
				continue
			}
			var drifted []string
			for _, p := range positions {
				if drift := tracker.Reconcile(p.Symbol, p, now); drift != nil && !drift.Tolerated {
					log.Warn().Str("symbol", p.Symbol).Msg("position drift detected")
					drifted = append(drifted, p.Symbol)
				}
			}
			if len(drifted) > 0 {
				g.Tick(ctx, guardian.Inputs{Now: now, PositionDrifts: drifted})
			}
		}
	}
}

// intentLoop reads newline-delimited OrderIntent JSON from r — the
// external strategy's hand-off point — runs each through the gate chain,
// and submits survivors to the AutoOrderEngine.
func intentLoop(ctx context.Context, r *os.File, engine *aoe.Engine, chain *gates.Chain, instruments *instrument.Cache, quoteCache *quote.Cache, tracker *position.Tracker, costParams cost.Params, auditLog *audit.Writer, runID string, g *guardian.Guardian, cfg *config.Config) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var intent coretypes.OrderIntent
		if err := json.Unmarshal(line, &intent); err != nil {
			log.Warn().Err(err).Msg("intentLoop: malformed intent, dropped")
			continue
		}

		now := time.Now()
		inst, err := instruments.Get(intent.Symbol)
		if err != nil {
			log.Warn().Str("symbol", intent.Symbol).Msg("intentLoop: unknown instrument, dropped")
			continue
		}
		q, hasQuote := quoteCache.Get(intent.Symbol)
		softStale := hasQuote && quoteCache.IsSoftStale(intent.Symbol, now, cfg.Staleness.SoftStaleMs)

		gctx := gates.Context{
			Now:            now,
			Instrument:     inst,
			Quote:          q,
			HasQuote:       hasQuote,
			QuoteSoftStale: softStale,
			Position:       tracker.Get(intent.Symbol),
			GuardianMode:   g.Mode(),
			// LastSettle and MarginCeiling stay zero-valued here: this
			// deployment has no daily-settlement-price feed or account-equity
			// query wired up yet, so LimitPriceGate and MarginGate both take
			// their documented "no snapshot configured, disabled" path rather
			// than gating on stale or fabricated numbers.
		}

		if rej := chain.Evaluate(intent, gctx); rej != nil {
			log.Warn().Str("symbol", intent.Symbol).Str("gate", rej.Gate).Str("reason", rej.Reason).Msg("intent rejected")
			_ = auditLog.Append(coretypes.AuditEvent{
				Ts:        float64(now.UnixNano()) / 1e9,
				EventType: "intent_rejected",
				RunID:     runID,
				Fields: map[string]interface{}{
					"symbol": intent.Symbol,
					"gate":   rej.Gate,
					"reason": rej.Reason,
				},
			})
			continue
		}

		if hasQuote {
			breakdown := cost.Estimate(inst, intent, q, costParams)
			log.Debug().Str("symbol", intent.Symbol).Str("total_cost", breakdown.Total.String()).Msg("cost estimate")
		}

		if _, err := engine.Submit(ctx, intent, now); err != nil {
			log.Error().Err(err).Str("symbol", intent.Symbol).Msg("intentLoop: submit failed")
		}
	}
}
