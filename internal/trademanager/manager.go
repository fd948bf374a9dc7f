// Package trademanager implements the Trade Manager (spec §4.5), the
// heart of the engine: it owns the watchlist, the single active trade,
// entry confirmation gates, and exit supervision. Reader/writer
// discipline and the CAS on the scalar active trade are the literal Go
// primitives for spec §5's concurrency model — grounded on the
// teacher's general lock-discipline conventions (portfolio package)
// generalized into this package's own state machine, since the teacher
// has no single-active-position concept to adapt directly.
package trademanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	applog "trade-execution-engine/internal/logger"
	"trade-execution-engine/internal/model"
	"trade-execution-engine/internal/sizing"
)

// TradingClock reports market hours and golden-window membership for an
// exchange. Satisfied by clock.Registry / clock.Session.
type TradingClock interface {
	IsMarketOpen(exchange string, t time.Time) bool
	IsWithinGoldenEntryWindow(exchange string, t time.Time) bool
}

// Config holds Trade Manager tunables sourced from config.Config.
type Config struct {
	MaxRecentCandles int // N in spec §4.5 ("last N closed candles", N≈10)

	VolumeGateK         float64         // default 1.5
	StopLossBuffer      decimal.Decimal // epsilon, default 0.001 (0.1%)
	ReplacementDistance decimal.Decimal // percent; new candidate must be this much closer to market than incumbent

	EarlyTrailingActivationPercent decimal.Decimal // default 2.0
	TrailingPercentEquity          decimal.Decimal // default 1.0
	TrailingPercentDerivative      decimal.Decimal // default 5.0

	SignalTTL time.Duration // default 30m
}

// DefaultConfig matches spec §5/§9 defaults.
func DefaultConfig() Config {
	return Config{
		MaxRecentCandles:               10,
		VolumeGateK:                    1.5,
		StopLossBuffer:                 decimal.NewFromFloat(0.001),
		ReplacementDistance:            decimal.NewFromFloat(0.5),
		EarlyTrailingActivationPercent: decimal.NewFromInt(2),
		TrailingPercentEquity:          decimal.NewFromInt(1),
		TrailingPercentDerivative:      decimal.NewFromInt(5),
		SignalTTL:                      30 * time.Minute,
	}
}

// Manager is the Trade Manager. All exported methods are safe for
// concurrent use.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	waiting map[string]*model.WatchlistEntry // keyed by scripCode

	active atomic.Pointer[model.ActiveTrade]

	clock      TradingClock
	pivot      model.PivotClient
	historical model.HistoricalCandleSource
	sizer      *sizing.Sizer
	broker     model.BrokerClient
	results    model.ResultSink
	dlq        model.DeadLetterWriter
	log        *slog.Logger
}

// New builds a Manager.
func New(cfg Config, clk TradingClock, pivot model.PivotClient, historical model.HistoricalCandleSource,
	sizer *sizing.Sizer, broker model.BrokerClient, results model.ResultSink, dlq model.DeadLetterWriter, log *slog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		waiting:    make(map[string]*model.WatchlistEntry),
		clock:      clk,
		pivot:      pivot,
		historical: historical,
		sizer:      sizer,
		broker:     broker,
		results:    results,
		dlq:        dlq,
		log:        log,
	}
}

// Admit implements router.LiveHandler — spec §4.5.1.
func (m *Manager) Admit(ctx context.Context, signal model.Signal) error {
	if active := m.active.Load(); active != nil && active.Signal.ScripCode == signal.ScripCode {
		return fmt.Errorf("trademanager: %s already has an in-flight position", signal.ScripCode)
	}

	now := time.Now()
	m.mu.Lock()
	existing, ok := m.waiting[signal.ScripCode]
	entry := &model.WatchlistEntry{
		Signal:     signal,
		AdmittedAt: now,
		ExpiresAt:  now.Add(m.cfg.SignalTTL),
	}
	if ok {
		// The waiting map is keyed uniquely by scripCode, so any existing
		// entry found here is for the same instrument by construction —
		// spec §4.5.1's "same-instrument admissions always replace" branch
		// is therefore the only reachable one at this map shape; the
		// "otherwise, replace only if materially closer" branch would
		// apply if the watchlist ever held multiple candidates per
		// instrument, which it does not. Carry the warm recent-candle
		// window forward rather than discarding it.
		entry.RecentCandles = existing.RecentCandles
		entry.PivotPrice = existing.PivotPrice
		entry.PivotAvailable = existing.PivotAvailable
		entry.HasBreachedPivot = existing.HasBreachedPivot
	}
	m.waiting[signal.ScripCode] = entry
	m.mu.Unlock()

	if m.results != nil {
		_ = m.results.PublishSignalAdmitted(ctx, signal)
	}

	if m.historical != nil {
		go m.preload(entry)
	}
	return nil
}

// preload asynchronously seeds recentCandles with historical 1-minute
// candles for the admission day, so the very next live candle can
// confirm entry gates (spec §4.5.1).
func (m *Manager) preload(entry *model.WatchlistEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	from := entry.AdmittedAt.Truncate(24 * time.Hour)
	candles, err := m.historical.Load(ctx, entry.Signal.ScripCode, from, entry.AdmittedAt)
	if err != nil {
		m.log.Warn("historical preload failed", "scrip", entry.Signal.ScripCode, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.waiting[entry.Signal.ScripCode]
	if !ok || current != entry {
		return // admission was replaced or executed before preload completed
	}
	for _, c := range candles {
		current.PushCandle(c, m.cfg.MaxRecentCandles)
	}
}

// OnClosedCandle implements spec §4.5.2.
func (m *Manager) OnClosedCandle(ctx context.Context, candle model.Candle) error {
	if active := m.active.Load(); active != nil {
		if active.Signal.ScripCode == candle.Token {
			m.evaluateExit(ctx, active, candle)
		}
		return nil
	}

	if m.clock != nil && !m.clock.IsWithinGoldenEntryWindow(candle.Exchange, candle.TS) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.waiting[candle.Token]
	if !ok {
		return nil
	}
	if entry.Expired(candle.TS) {
		delete(m.waiting, candle.Token)
		if m.results != nil {
			_ = m.results.PublishTradeCancelled(ctx, entry.Signal, "signal TTL expired")
		}
		return nil
	}

	entry.PushCandle(candle, m.cfg.MaxRecentCandles)

	pass, stopLoss, potentialRR := m.evaluateGates(ctx, entry, candle)
	if !pass {
		return nil
	}
	entry.PotentialRR = potentialRR

	// Only one waiting entry can match this candle's instrument (the
	// watchlist is keyed uniquely by scripCode), so "select the ready
	// candidate with highest potentialRR, ties broken by older
	// admission" is trivially satisfied by evaluating the single match —
	// the general selection-among-candidates step in spec §4.5.2
	// degenerates to this at the current map shape.
	delete(m.waiting, candle.Token)
	m.executeEntry(ctx, entry, candle, stopLoss)
	return nil
}

// executeEntry implements spec §4.5.5.
func (m *Manager) executeEntry(ctx context.Context, entry *model.WatchlistEntry, candle model.Candle, stopLoss decimal.Decimal) {
	signal := entry.Signal

	qty := m.sizer.Size(candle.Close, stopLoss)
	if qty <= 0 {
		m.log.Warn("entry sizing returned zero, cancelling", append([]any{"scrip", signal.ScripCode}, applog.LogWithTrace(ctx)...)...)
		if m.results != nil {
			_ = m.results.PublishTradeCancelled(ctx, signal, "position size rounded to zero")
		}
		return
	}

	side := "BUY"
	if signal.Direction == model.Short {
		side = "SELL"
	}
	orderType := "MARKET"
	if signal.ExchangeType == model.ExchangeDerivative {
		orderType = "SL-M"
	}

	order := model.Order{
		ClientToken:     uuid.NewString(),
		Token:           signal.ScripCode,
		Exchange:        signal.Exchange,
		ExchangeType:    signal.ExchangeType,
		TransactionType: side,
		OrderType:       orderType,
		ProductType:     "INTRADAY",
		Variety:         "NORMAL",
		Qty:             qty,
		Price:           candle.Close,
		TriggerPrice:    stopLoss,
	}

	placed, err := m.broker.PlaceOrder(ctx, order)
	if err != nil {
		m.log.Error("entry order placement failed", append([]any{"scrip", signal.ScripCode, "error", err}, applog.LogWithTrace(ctx)...)...)
		if m.results != nil {
			_ = m.results.PublishTradeFailed(ctx, signal, err.Error())
		}
		return
	}

	entryPrice := placed.AvgPrice
	if entryPrice.IsZero() {
		entryPrice = candle.Close
	}

	trade := &model.ActiveTrade{
		TradeID:        uuid.NewString(),
		Signal:         signal,
		EntryPrice:     entryPrice,
		EntryQty:       qty,
		EnteredAt:      time.Now(),
		StopLoss:       stopLoss,
		Targets:        signal.Targets,
		HighSinceEntry: entryPrice,
		LowSinceEntry:  entryPrice,
		RemainingQty:   qty,
		Status:         model.StatusActive,
		OrderID:        placed.OrderID,
		LastPrice:      entryPrice,
	}

	if !m.active.CompareAndSwap(nil, trade) {
		m.log.Warn("lost active-trade CAS, cancelling just-placed order", append([]any{"scrip", signal.ScripCode, "order_id", placed.OrderID}, applog.LogWithTrace(ctx)...)...)
		if err := m.broker.CancelOrder(ctx, placed.OrderID); err != nil {
			m.log.Error("reconciliation cancel failed", append([]any{"order_id", placed.OrderID, "error", err}, applog.LogWithTrace(ctx)...)...)
		}
		if m.results != nil {
			_ = m.results.PublishTradeCancelled(ctx, signal, "lost active-trade race, reconciled")
		}
		return
	}

	if m.results != nil {
		_ = m.results.PublishTradeEntered(ctx, *trade)
	}
}

// RunSweeper runs the market-close sweeper (spec §4.5.6) until ctx is
// cancelled, firing every interval.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx, time.Now())
		}
	}
}

// Sweep runs one pass of the market-close sweeper: force-exits the
// active trade if its exchange has closed, and cancels waiting entries
// for closed exchanges.
func (m *Manager) Sweep(ctx context.Context, now time.Time) {
	if m.clock == nil {
		return
	}

	if active := m.active.Load(); active != nil && !m.clock.IsMarketOpen(active.Signal.Exchange, now) {
		m.closeTrade(ctx, active, active.LastPrice, model.ExitMarketClose, active.RemainingQty)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for scrip, entry := range m.waiting {
		if !m.clock.IsMarketOpen(entry.Signal.Exchange, now) {
			delete(m.waiting, scrip)
			if m.results != nil {
				_ = m.results.PublishTradeCancelled(ctx, entry.Signal, "market closed")
			}
		}
	}
}
