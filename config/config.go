// Package config loads the trade execution engine's tunables from
// environment variables, grounded on the teacher's config.Config
// get/mustEnv idiom — a flat struct of typed fields populated once at
// startup with sensible defaults, rather than a config file or flag
// parser.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/backtest"
	"trade-execution-engine/internal/broker"
	"trade-execution-engine/internal/router"
	"trade-execution-engine/internal/sizing"
	"trade-execution-engine/internal/trademanager"
)

// TradingMode selects how the engine sources candles and whether it
// places live broker orders (spec §5).
type TradingMode string

const (
	ModeLive       TradingMode = "LIVE"
	ModeSimulation TradingMode = "SIMULATION"
	ModeShadow     TradingMode = "SHADOW"
	ModeSilent     TradingMode = "SILENT"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	PivotBaseURL  string

	// Stream/group naming
	SignalStream   string
	SignalGroup    string
	SignalConsumer string

	// Trading mode (spec §5's trading.mode)
	TradingMode TradingMode

	// Routing / signal lifecycle
	LiveAgeThresholdSeconds int
	SignalTTLMinutes        int

	// Exit supervision
	TrailingPercentEquity         float64
	TrailingPercentDerivative     float64
	EarlyTrailingActivationPercent float64

	// Position sizing
	Capital                  float64
	MaxRiskPerTradePercent   float64
	MaxPositionSize          int64
	MaxSinglePositionPercent float64

	// Backtest slippage (basis points)
	SlippageBpsEquity  float64
	SlippageBpsOptions float64
	SlippageBpsMCX     float64

	// Broker retry / circuit breaker
	BrokerRetryMax            int
	BrokerRetryBackoffMs      string // comma-separated, e.g. "1000,2000,4000"
	CircuitMaxFailures        int
	CircuitResetTimeoutSecond int

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/trades.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		PivotBaseURL:  getEnv("PIVOT_BASE_URL", "http://localhost:8090"),

		SignalStream:   getEnv("SIGNAL_STREAM", "trading-signals"),
		SignalGroup:    getEnv("SIGNAL_GROUP", "trade-execution-engine"),
		SignalConsumer: getEnv("SIGNAL_CONSUMER", hostnameOrDefault("engine-1")),

		TradingMode: TradingMode(getEnv("TRADING_MODE", string(ModeLive))),

		LiveAgeThresholdSeconds: getEnvInt("LIVE_AGE_THRESHOLD_SECONDS", 120),
		SignalTTLMinutes:        getEnvInt("SIGNAL_TTL_MINUTES", 30),

		TrailingPercentEquity:          getEnvFloat("TRAILING_PERCENT_EQUITY", 1.0),
		TrailingPercentDerivative:      getEnvFloat("TRAILING_PERCENT_DERIVATIVE", 5.0),
		EarlyTrailingActivationPercent: getEnvFloat("EARLY_TRAILING_ACTIVATION_PERCENT", 2.0),

		Capital:                  getEnvFloat("CAPITAL", 1000000),
		MaxRiskPerTradePercent:   getEnvFloat("MAX_RISK_PER_TRADE_PERCENT", 1.0),
		MaxPositionSize:          getEnvInt64("MAX_POSITION_SIZE", 100000),
		MaxSinglePositionPercent: getEnvFloat("MAX_SINGLE_POSITION_PERCENT", 10.0),

		SlippageBpsEquity:  getEnvFloat("SLIPPAGE_BPS_EQUITY", 5),
		SlippageBpsOptions: getEnvFloat("SLIPPAGE_BPS_OPTIONS", 10),
		SlippageBpsMCX:     getEnvFloat("SLIPPAGE_BPS_MCX", 8),

		BrokerRetryMax:            getEnvInt("BROKER_RETRY_MAX", 3),
		BrokerRetryBackoffMs:      getEnv("BROKER_RETRY_BACKOFF_MS", "1000,2000,4000"),
		CircuitMaxFailures:        getEnvInt("CIRCUIT_MAX_FAILURES", 3),
		CircuitResetTimeoutSecond: getEnvInt("CIRCUIT_RESET_TIMEOUT_SECONDS", 30),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
}

// RouterConfig builds internal/router.Config from the loaded environment.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		LiveAgeThreshold: time.Duration(c.LiveAgeThresholdSeconds) * time.Second,
		DedupTTL:         time.Duration(c.SignalTTLMinutes) * time.Minute,
	}
}

// TradeManagerConfig builds internal/trademanager.Config from the loaded
// environment, keeping the teacher-shaped defaults for fields spec §5
// leaves unconfigured (MaxRecentCandles, VolumeGateK, StopLossBuffer,
// ReplacementDistance).
func (c *Config) TradeManagerConfig() trademanager.Config {
	cfg := trademanager.DefaultConfig()
	cfg.EarlyTrailingActivationPercent = decimal.NewFromFloat(c.EarlyTrailingActivationPercent)
	cfg.TrailingPercentEquity = decimal.NewFromFloat(c.TrailingPercentEquity)
	cfg.TrailingPercentDerivative = decimal.NewFromFloat(c.TrailingPercentDerivative)
	cfg.SignalTTL = time.Duration(c.SignalTTLMinutes) * time.Minute
	return cfg
}

// SizingLimits builds internal/sizing.Limits from the loaded environment.
func (c *Config) SizingLimits() sizing.Limits {
	return sizing.Limits{
		Capital:                  decimal.NewFromFloat(c.Capital),
		MaxRiskPerTradePercent:   decimal.NewFromFloat(c.MaxRiskPerTradePercent),
		MaxPositionSize:          c.MaxPositionSize,
		MaxSinglePositionPercent: decimal.NewFromFloat(c.MaxSinglePositionPercent),
	}
}

// SlippageModel builds internal/backtest.SlippageModel from the loaded
// environment.
func (c *Config) SlippageModel() backtest.SlippageModel {
	return backtest.SlippageModel{
		EquityBps:  decimal.NewFromFloat(c.SlippageBpsEquity),
		OptionsBps: decimal.NewFromFloat(c.SlippageBpsOptions),
		McxBps:     decimal.NewFromFloat(c.SlippageBpsMCX),
	}
}

// BrokerConfig builds internal/broker.Config from the loaded environment.
func (c *Config) BrokerConfig() broker.Config {
	return broker.Config{
		RetryMax:            c.BrokerRetryMax,
		Backoff:             c.ParseBackoff(),
		CircuitMaxFailures:  c.CircuitMaxFailures,
		CircuitResetTimeout: time.Duration(c.CircuitResetTimeoutSecond) * time.Second,
	}
}

// ParseBackoff parses BrokerRetryBackoffMs into a slice of durations,
// mirroring the teacher's ParseTFs comma-separated-list parsing idiom.
func (c *Config) ParseBackoff() []time.Duration {
	parts := strings.Split(c.BrokerRetryBackoffMs, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid backoff value: %q", p)
			continue
		}
		out = append(out, time.Duration(n)*time.Millisecond)
	}
	if len(out) == 0 {
		return []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}
	return out
}

func hostnameOrDefault(fallback string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallback
	}
	return h
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] invalid int64 for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s=%q, using default %d", key, v, int(fallback))
		return fallback
	}
	return f
}
