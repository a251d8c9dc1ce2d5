package gates

import (
	"sync"
	"time"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

// ThrottleGate enforces per-symbol and global order-rate ceilings plus the
// regulatory sliding-window and daily limits. Grounded on
// risk.CircuitBreaker's breach-counting idiom: repeated breaches call
// onBreach, which the caller (Guardian) uses to degrade mode.
type ThrottleGate struct {
	mu sync.Mutex

	maxPerMinute int
	limit5s      int
	limitDaily   int
	minInterval  time.Duration

	globalTimestamps []time.Time
	perSymbol        map[string][]time.Time
	dailyCount       int
	dailyDay         string

	breachCount int
	onBreach    func(reason string, count int)
}

// NewThrottleGate builds a ThrottleGate with the given ceilings.
func NewThrottleGate(maxPerMinute, limit5s, limitDaily int, minInterval time.Duration) *ThrottleGate {
	return &ThrottleGate{
		maxPerMinute: maxPerMinute,
		limit5s:      limit5s,
		limitDaily:   limitDaily,
		minInterval:  minInterval,
		perSymbol:    make(map[string][]time.Time),
	}
}

// OnBreach registers a callback invoked every time a throttle check fails,
// so Guardian can observe repeated breaches and degrade mode.
func (g *ThrottleGate) OnBreach(fn func(reason string, count int)) {
	g.onBreach = fn
}

func (g *ThrottleGate) Name() string { return "throttle" }

func (g *ThrottleGate) Check(intent coretypes.OrderIntent, ctx Context) *coretypes.GateRejection {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := ctx.Now
	day := now.Format("20060102")
	if day != g.dailyDay {
		g.dailyDay = day
		g.dailyCount = 0
	}

	g.globalTimestamps = prune(g.globalTimestamps, now, time.Minute)
	symTimestamps := prune(g.perSymbol[intent.Symbol], now, time.Minute)
	g.perSymbol[intent.Symbol] = symTimestamps

	if len(symTimestamps) > 0 && g.minInterval > 0 {
		last := symTimestamps[len(symTimestamps)-1]
		if now.Sub(last) < g.minInterval {
			return g.breach("min_interval", map[string]interface{}{"symbol": intent.Symbol})
		}
	}

	if len(symTimestamps) >= g.maxPerMinute {
		return g.breach("per_symbol_per_minute", map[string]interface{}{"symbol": intent.Symbol, "count": len(symTimestamps)})
	}
	if len(g.globalTimestamps) >= g.maxPerMinute*4 {
		return g.breach("global_per_minute", map[string]interface{}{"count": len(g.globalTimestamps)})
	}

	recent5s := countSince(g.globalTimestamps, now, 5*time.Second)
	if recent5s >= g.limit5s {
		return g.breach("regulatory_5s_window", map[string]interface{}{"count": recent5s})
	}
	if g.dailyCount >= g.limitDaily {
		return g.breach("regulatory_daily", map[string]interface{}{"count": g.dailyCount})
	}

	g.globalTimestamps = append(g.globalTimestamps, now)
	g.perSymbol[intent.Symbol] = append(g.perSymbol[intent.Symbol], now)
	g.dailyCount++
	return nil
}

func (g *ThrottleGate) breach(reason string, details map[string]interface{}) *coretypes.GateRejection {
	g.breachCount++
	if g.onBreach != nil {
		g.onBreach(reason, g.breachCount)
	}
	return reject(reason, details)
}

func prune(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(timestamps) && timestamps[i].Before(cutoff) {
		i++
	}
	return timestamps[i:]
}

func countSince(timestamps []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for _, ts := range timestamps {
		if !ts.Before(cutoff) {
			count++
		}
	}
	return count
}
