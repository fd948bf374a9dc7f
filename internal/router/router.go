// Package router implements the Signal Router (spec §4.4): parse,
// validate, deduplicate, age-classify, and hand off each inbound
// signal to either the Trade Manager (live) or the Backtest Engine
// (stale/backtest), with dead-letter routing on validation failure.
// The consume/ack loop is grounded on the teacher's indengine.Service
// consumer pattern (internal/indengine/consumer.go): XREADGROUP via a
// SignalBus port, process, ack only after the downstream hand-off
// returns.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	applog "trade-execution-engine/internal/logger"
	"trade-execution-engine/internal/model"
)

// LiveHandler admits a signal as a live trade candidate.
type LiveHandler interface {
	Admit(ctx context.Context, signal model.Signal) error
}

// BacktestHandler enqueues a signal for historical replay.
type BacktestHandler interface {
	Enqueue(ctx context.Context, signal model.Signal) error
}

// TradingHoursChecker reports whether an instant falls within an
// exchange's trading window.
type TradingHoursChecker interface {
	IsMarketOpen(exchange string, t time.Time) bool
}

// Config holds the Router's tunables, sourced from config.Config.
type Config struct {
	LiveAgeThreshold time.Duration // default 120s
	DedupTTL         time.Duration // default 30m
}

// DefaultConfig matches spec §5 defaults.
func DefaultConfig() Config {
	return Config{LiveAgeThreshold: 120 * time.Second, DedupTTL: 30 * time.Minute}
}

// Router validates, deduplicates, and routes inbound signals.
type Router struct {
	cfg     Config
	hours   TradingHoursChecker
	live    LiveHandler
	backlog BacktestHandler
	dlq     model.DeadLetterWriter
	log     *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time // idempotency key -> admitted-at, reaped past DedupTTL
}

// New builds a Router.
func New(cfg Config, hours TradingHoursChecker, live LiveHandler, backlog BacktestHandler, dlq model.DeadLetterWriter, log *slog.Logger) *Router {
	return &Router{
		cfg:     cfg,
		hours:   hours,
		live:    live,
		backlog: backlog,
		dlq:     dlq,
		log:     log,
		seen:    make(map[string]time.Time),
	}
}

// Reap evicts idempotency entries older than DedupTTL. Callers run this
// periodically (e.g. once a minute) from a background goroutine; it
// holds no channel or context since it is pure bookkeeping.
func (r *Router) Reap(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, t := range r.seen {
		if now.Sub(t) > r.cfg.DedupTTL {
			delete(r.seen, k)
		}
	}
}

// OnSignal runs the full pipeline: validate, dedup, age-classify, route.
// The caller is responsible for acking the source offset only after
// OnSignal returns (at-least-once delivery per spec §4.4 step 5).
func (r *Router) OnSignal(ctx context.Context, raw model.Signal) error {
	normalizeSignal(&raw)

	if err := validateSignal(raw); err != nil {
		r.deadLetter(ctx, raw, err.Error())
		return nil
	}

	key := raw.IdempotencyKey()
	if r.isDuplicate(key) {
		r.log.Debug("duplicate signal discarded", append([]any{"key", key}, applog.LogWithTrace(ctx)...)...)
		return nil
	}

	age := raw.Age()
	if age < 0 {
		r.deadLetter(ctx, raw, fmt.Sprintf("clock-skewed signal: age=%s", age))
		return nil
	}

	r.markSeen(key)

	if age > r.cfg.LiveAgeThreshold {
		return r.backlog.Enqueue(ctx, raw)
	}
	if r.hours != nil && r.hours.IsMarketOpen(raw.Exchange, raw.IngestTimestamp) {
		return r.live.Admit(ctx, raw)
	}
	// Outside trading hours: documented fallback to backtest (spec §4.4 step 4).
	return r.backlog.Enqueue(ctx, raw)
}

func (r *Router) isDuplicate(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[key]
	return ok
}

func (r *Router) markSeen(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[key] = time.Now()
}

func (r *Router) deadLetter(ctx context.Context, s model.Signal, reason string) {
	r.log.Warn("signal rejected", append([]any{"scrip", s.ScripCode, "reason", reason}, applog.LogWithTrace(ctx)...)...)
	if r.dlq == nil {
		return
	}
	if err := r.dlq.Write(ctx, signalJSON(s), reason); err != nil {
		r.log.Error("failed to write signal dead letter", append([]any{"error", err}, applog.LogWithTrace(ctx)...)...)
	}
}

// normalizeSignal trims whitespace and uppercases enum-like fields.
// Direction normalization from producer-specific tokens (e.g. "BUY",
// "go_long") happens upstream at ingestion; by the time a Signal
// reaches the Router, Direction is already one of Long/Short — this
// only tidies incidental whitespace.
func normalizeSignal(s *model.Signal) {
	s.ScripCode = trimUpper(s.ScripCode)
	s.Exchange = trimUpper(s.Exchange)
}

func trimUpper(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// maxPlausibleEntryHint sanity-bounds entryHint against unit/fat-finger
// feed errors (e.g. a price quoted in paise instead of rupees) rather
// than any real exchange price ceiling — no NSE/BSE/MCX instrument this
// engine trades prices anywhere near it.
var maxPlausibleEntryHint = decimal.NewFromInt(10_000_000)

// validateSignal enforces spec §4.4 step 2's required-field and
// direction-consistency gates, grounded on the teacher's early-return
// guard-clause style (portfolio.RiskManager.CanTrade).
func validateSignal(s model.Signal) error {
	if s.ScripCode == "" {
		return fmt.Errorf("missing scripCode")
	}
	if s.EntryHint.IsZero() || s.EntryHint.IsNegative() {
		return fmt.Errorf("entryHint must be > 0")
	}
	if s.EntryHint.GreaterThan(maxPlausibleEntryHint) {
		return fmt.Errorf("entryHint %s exceeds plausible range", s.EntryHint)
	}
	if s.StopLossHint.IsZero() || s.StopLossHint.IsNegative() {
		return fmt.Errorf("stopLossHint must be > 0")
	}
	if s.Direction != model.Long && s.Direction != model.Short {
		return fmt.Errorf("invalid direction %q", s.Direction)
	}

	hasTarget := false
	for _, t := range s.Targets {
		if t.IsPositive() {
			hasTarget = true
			break
		}
	}
	if !hasTarget {
		return fmt.Errorf("no positive target present")
	}

	for _, v := range []float64{s.Confidence, s.RiskReward, s.VolumeSurge, s.OIChange, s.ATR30m} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("NaN/Inf metric field")
		}
	}

	switch s.Direction {
	case model.Long:
		if !s.StopLossHint.LessThan(s.EntryHint) {
			return fmt.Errorf("LONG requires stopLoss < entryHint")
		}
		if !s.Targets[0].IsZero() && !s.Targets[0].GreaterThan(s.EntryHint) {
			return fmt.Errorf("LONG requires T1 > entryHint")
		}
		if err := monotonic(s.Targets, true); err != nil {
			return err
		}
	case model.Short:
		if !s.StopLossHint.GreaterThan(s.EntryHint) {
			return fmt.Errorf("SHORT requires stopLoss > entryHint")
		}
		if !s.Targets[0].IsZero() && !s.Targets[0].LessThan(s.EntryHint) {
			return fmt.Errorf("SHORT requires T1 < entryHint")
		}
		if err := monotonic(s.Targets, false); err != nil {
			return err
		}
	}
	return nil
}

// monotonic verifies non-zero targets are ordered in the trade's
// favorable direction (ascending for LONG, descending for SHORT).
func monotonic(targets [4]decimal.Decimal, ascending bool) error {
	var prev decimal.Decimal
	havePrev := false
	for _, t := range targets {
		if t.IsZero() {
			continue
		}
		if havePrev {
			if ascending && !t.GreaterThan(prev) {
				return fmt.Errorf("targets not monotonically ascending")
			}
			if !ascending && !t.LessThan(prev) {
				return fmt.Errorf("targets not monotonically descending")
			}
		}
		prev = t
		havePrev = true
	}
	return nil
}

func signalJSON(s model.Signal) []byte {
	type dto struct {
		ScripCode string `json:"scrip_code"`
		Direction string `json:"direction"`
		Exchange  string `json:"exchange"`
	}
	b, _ := json.Marshal(dto{ScripCode: s.ScripCode, Direction: string(s.Direction), Exchange: s.Exchange})
	return b
}
