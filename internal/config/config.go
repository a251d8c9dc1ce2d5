// Package config loads the recognized configuration keys from the
// environment (plus an optional .env file), grouped by the concern they
// affect. No file-format parser is added here — configuration-file
// parsing stays an external collaborator's concern.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Staleness controls QuoteCache staleness thresholds.
type Staleness struct {
	SoftStaleMs int64
	HardStaleMs int64
}

// Timeouts controls AOE deadline lengths.
type Timeouts struct {
	AckS    time.Duration
	FillS   time.Duration
	CancelS time.Duration
}

// Retry controls AOE retry/chase behaviour.
type Retry struct {
	MaxRetry        int
	MaxChase        int
	ChaseTickOffset decimal.Decimal
	BackoffBaseMs   int64
	BackoffMaxMs    int64
}

// Gates controls the Protection Gates chain thresholds.
type Gates struct {
	LiqMaxSpreadTicks       decimal.Decimal
	LiqMinBidAskVol         int64
	FatFingerMaxQty         int64
	FatFingerMaxNotional    decimal.Decimal
	FatFingerMaxPriceDev    decimal.Decimal
	ThrottleMaxOrdersPerMin int
	Throttle5sLimit         int
	ThrottleDailyLimit      int
}

// Guardian controls supervisor thresholds.
type Guardian struct {
	ReduceOnlyCooldownS    time.Duration
	OrderStuckTimeoutS     time.Duration
	PositionDriftThreshold int64
	LegImbalanceThreshold  int64
	ReconcileIntervalS     time.Duration
	MarginWarningLevel     decimal.Decimal
	MarginDangerLevel      decimal.Decimal
	ExpiryBlockDays        int
}

// Replay controls ReplayVerifier defaults.
type Replay struct {
	HashAlgo      string
	ExcludeFields []string
}

// Config is the assembled configuration for one process lifetime. Built
// once at startup by Load and passed by reference to every component that
// needs a slice of it — nothing re-reads os.Getenv after Load returns.
type Config struct {
	Debug bool

	DatabaseURL          string
	InstrumentBundlePath string
	AuditDir             string

	TelegramBotToken string
	TelegramChatID   int64

	QuoteFeedURL string

	Staleness Staleness
	Timeouts  Timeouts
	Retry     Retry
	Gates     Gates
	Guardian  Guardian
	Replay    Replay
}

// Load reads .env (if present) then assembles Config from the environment,
// applying the documented default for every key a caller omits.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using process environment only")
	}

	cfg := &Config{
		Debug:                getEnvBool("DEBUG", false),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		InstrumentBundlePath: getEnv("INSTRUMENT_BUNDLE_PATH", "./instruments.json"),
		AuditDir:             getEnv("AUDIT_DIR", "./audit"),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:       getEnvInt64("TELEGRAM_CHAT_ID", 0),
		QuoteFeedURL:         os.Getenv("QUOTE_FEED_URL"),

		Staleness: Staleness{
			SoftStaleMs: getEnvInt64("QUOTE_STALE_MS", 3000),
			HardStaleMs: getEnvInt64("QUOTE_HARD_STALE_MS", 10000),
		},
		Timeouts: Timeouts{
			AckS:    getEnvSeconds("AUTO_ORDER_TIMEOUT_ACK_S", 3),
			FillS:   getEnvSeconds("AUTO_ORDER_TIMEOUT_FILL_S", 15),
			CancelS: getEnvSeconds("AUTO_ORDER_TIMEOUT_CANCEL_S", 5),
		},
		Retry: Retry{
			MaxRetry:        getEnvInt("AUTO_ORDER_MAX_RETRY", 3),
			MaxChase:        getEnvInt("AUTO_ORDER_MAX_CHASE", 2),
			ChaseTickOffset: getEnvDecimal("CHASE_TICK_OFFSET", decimal.NewFromInt(1)),
			BackoffBaseMs:   getEnvInt64("AUTO_ORDER_BACKOFF_BASE_MS", 200),
			BackoffMaxMs:    getEnvInt64("AUTO_ORDER_BACKOFF_MAX_MS", 5000),
		},
		Gates: Gates{
			LiqMaxSpreadTicks:       getEnvDecimal("LIQ_MAX_SPREAD_TICKS", decimal.NewFromInt(3)),
			LiqMinBidAskVol:         getEnvInt64("LIQ_MIN_BIDASK_VOL", 1),
			FatFingerMaxQty:         getEnvInt64("FATFINGER_MAX_QTY", 100),
			FatFingerMaxNotional:    getEnvDecimal("FATFINGER_MAX_NOTIONAL", decimal.NewFromInt(5_000_000)),
			FatFingerMaxPriceDev:    getEnvDecimal("FATFINGER_MAX_PRICE_DEV", decimal.NewFromFloat(0.02)),
			ThrottleMaxOrdersPerMin: getEnvInt("THROTTLE_MAX_ORDERS_PER_MIN", 30),
			Throttle5sLimit:         getEnvInt("THROTTLE_5S_LIMIT", 50),
			ThrottleDailyLimit:      getEnvInt("THROTTLE_DAILY_LIMIT", 20000),
		},
		Guardian: Guardian{
			ReduceOnlyCooldownS:    getEnvSeconds("REDUCE_ONLY_COOLDOWN_S", 60),
			OrderStuckTimeoutS:     getEnvSeconds("ORDER_STUCK_TIMEOUT_S", 30),
			PositionDriftThreshold: getEnvInt64("POSITION_DRIFT_THRESHOLD", 1),
			LegImbalanceThreshold:  getEnvInt64("LEG_IMBALANCE_THRESHOLD", 1),
			ReconcileIntervalS:     getEnvSeconds("RECONCILE_INTERVAL_S", 30),
			MarginWarningLevel:     getEnvDecimal("MARGIN_WARNING_LEVEL", decimal.NewFromFloat(0.7)),
			MarginDangerLevel:      getEnvDecimal("MARGIN_DANGER_LEVEL", decimal.NewFromFloat(0.9)),
			ExpiryBlockDays:        getEnvInt("EXPIRY_BLOCK_DAYS", 3),
		},
		Replay: Replay{
			HashAlgo:      getEnv("REPLAY_HASH_ALGO", "sha256"),
			ExcludeFields: []string{"ts", "received_at"},
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", value).Msg("invalid int config, using default")
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int64) time.Duration {
	return time.Duration(getEnvInt64(key, defaultSeconds)) * time.Second
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("invalid decimal config, using default")
	}
	return defaultValue
}
