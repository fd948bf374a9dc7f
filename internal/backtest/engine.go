// Package backtest implements the Backtest Engine (spec §4.7). It
// replays a single signal against historical candles through the exact
// confirmation and exit rules the live Trade Manager uses — it
// constructs a trademanager.Manager per replay wired to a slippage-aware
// simulated broker instead of the live Broker Gateway, and drives it
// candle by candle instead of from a live candle stream. This reuses
// trademanager's gate/exit logic verbatim rather than duplicating it, the
// same way the teacher's backtester (where present) replays against the
// live strategy engine rather than a parallel implementation.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"trade-execution-engine/internal/clock"
	"trade-execution-engine/internal/model"
	"trade-execution-engine/internal/sizing"
	"trade-execution-engine/internal/trademanager"
)

// Engine replays historical candles through the Trade Manager's entry
// and exit rules for a single signal at a time.
type Engine struct {
	clk      *clock.Registry
	repo     model.TradeRepository
	sizer    *sizing.Sizer
	pivot    model.PivotClient
	slippage SlippageModel
	tmCfg    trademanager.Config
	log      *slog.Logger
}

// Config configures the Backtest Engine.
type Config struct {
	Clock         *clock.Registry
	Repository    model.TradeRepository
	Sizer         *sizing.Sizer
	Pivot         model.PivotClient
	Slippage      SlippageModel
	ManagerConfig trademanager.Config
	Log           *slog.Logger
}

// New builds an Engine.
func New(cfg Config) *Engine {
	return &Engine{
		clk:      cfg.Clock,
		repo:     cfg.Repository,
		sizer:    cfg.Sizer,
		pivot:    cfg.Pivot,
		slippage: cfg.Slippage,
		tmCfg:    cfg.ManagerConfig,
		log:      cfg.Log,
	}
}

// goldenClock adapts clock.Registry's golden-window check to
// trademanager.TradingClock. IsMarketOpen always reports true: the
// market-close sweeper that consults it is a separate goroutine
// (Manager.RunSweeper) this Engine never starts, so a replay's
// lifecycle is governed entirely by the candles it is fed and the
// Trade Manager's own exit rules.
type goldenClock struct {
	registry *clock.Registry
}

func (g goldenClock) IsMarketOpen(exchange string, t time.Time) bool { return true }
func (g goldenClock) IsWithinGoldenEntryWindow(exchange string, t time.Time) bool {
	if g.registry == nil {
		return true
	}
	return g.registry.IsWithinGoldenEntryWindow(exchange, t)
}

// Replay runs one signal through the full confirmation/exit lifecycle
// against the supplied historical candles (already ordered ascending by
// TS) and persists a single terminal TradeResult through the repository.
// Candles are replayed as given, with no resampling: the 1-minute candles
// that Queue and cmd/backtest load from the historical-candle service are
// confirmed on 1-minute bars, not on the 5-minute bars the live engine uses.
func (e *Engine) Replay(ctx context.Context, signal model.Signal, candles []model.Candle) (model.TradeResult, error) {
	if len(candles) == 0 {
		return model.TradeResult{}, fmt.Errorf("backtest: no candles to replay for %s", signal.ScripCode)
	}

	broker := newSlippageBroker(signal, e.slippage)
	rs := newSink()
	log := e.log
	if log == nil {
		log = slog.Default()
	}

	mgr := trademanager.New(e.tmCfg, goldenClock{registry: e.clk}, e.pivot, nil, e.sizer, broker, rs, noopDLQ{}, log)

	broker.setCandle(candles[0])
	if err := mgr.Admit(ctx, signal); err != nil {
		return model.TradeResult{}, fmt.Errorf("backtest: admit rejected: %w", err)
	}

	for _, c := range candles {
		broker.setCandle(c)
		if err := mgr.OnClosedCandle(ctx, c); err != nil {
			return model.TradeResult{}, fmt.Errorf("backtest: replay failed at %s: %w", c.TS, err)
		}
		if rs.snapshot().terminal {
			break
		}
	}

	snap := rs.snapshot()
	if !snap.terminal {
		log.Warn("backtest replay exhausted candles without a terminal outcome", "scrip", signal.ScripCode)
	} else if snap.tradeID == "" {
		log.Info("backtest replay never entered", "scrip", signal.ScripCode, "outcome", snap.outcome)
	}
	tr := e.buildResult(signal, snap)

	if e.repo != nil {
		if err := e.repo.RecordResult(ctx, tr); err != nil {
			return tr, fmt.Errorf("backtest: persisting result: %w", err)
		}
	}
	return tr, nil
}

func (e *Engine) buildResult(signal model.Signal, snap result) model.TradeResult {
	last := snap.lastLeg
	tr := model.TradeResult{
		TradeID:    snap.tradeID,
		ScripCode:  signal.ScripCode,
		Direction:  signal.Direction,
		EntryPrice: snap.entryPrice,
		ExitPrice:  last.ExitPrice,
		Qty:        snap.entryQty,
		EnteredAt:  last.EnteredAt,
		ExitedAt:   last.ExitedAt,
		Reason:     last.Reason,
		PnL:        snap.totalPnL,
		Backtest:   true,
	}
	if !tr.EntryPrice.IsZero() && tr.Qty != 0 {
		denom := tr.EntryPrice.Mul(decimal.NewFromInt(tr.Qty))
		tr.PnLPercent = snap.totalPnL.Div(denom).Mul(decimal.NewFromInt(100))
	}
	return tr
}

type noopDLQ struct{}

func (noopDLQ) Write(ctx context.Context, payload []byte, reason string) error { return nil }

// Queue adapts an Engine into router.BacktestHandler: it loads the
// historical candles for a routed signal's instrument from Lookback
// before the signal's origin up to now, then replays it through the
// Engine. This is the glue the Signal Router's age-based routing
// decision (spec §4.4 step 4) hands stale/after-hours signals off to.
type Queue struct {
	engine     *Engine
	historical model.HistoricalCandleSource
	lookback   time.Duration
	log        *slog.Logger
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Engine     *Engine
	Historical model.HistoricalCandleSource
	Lookback   time.Duration // how far before the signal's origin to load candles from
	Log        *slog.Logger
}

// NewQueue builds a Queue.
func NewQueue(cfg QueueConfig) *Queue {
	return &Queue{
		engine:     cfg.Engine,
		historical: cfg.Historical,
		lookback:   cfg.Lookback,
		log:        cfg.Log,
	}
}

// Enqueue implements router.BacktestHandler.
func (q *Queue) Enqueue(ctx context.Context, signal model.Signal) error {
	from := signal.OriginTimestamp.Add(-q.lookback)
	to := time.Now()
	candles, err := q.historical.Load(ctx, signal.ScripCode, from, to)
	if err != nil {
		return fmt.Errorf("backtest queue: load candles for %s: %w", signal.ScripCode, err)
	}
	if len(candles) == 0 {
		if q.log != nil {
			q.log.Warn("backtest queue: no historical candles available, skipping replay", "scrip", signal.ScripCode)
		}
		return nil
	}

	result, err := q.engine.Replay(ctx, signal, candles)
	if err != nil {
		return fmt.Errorf("backtest queue: replay %s: %w", signal.ScripCode, err)
	}
	if q.log != nil {
		q.log.Info("backtest replay complete", "scrip", signal.ScripCode, "trade_id", result.TradeID, "pnl", result.PnL)
	}
	return nil
}
