package model

import (
	"context"
	"time"
)

// ── Capability port interfaces ──
// These decouple business logic from concrete transports and storage so
// that the Trade Manager, Broker Gateway, and Backtest Engine can be
// tested against fakes and swapped onto Redis/SQLite/HTTP implementations
// without structural change.

// PivotClient resolves the most recent daily pivot price for an instrument.
type PivotClient interface {
	// DailyPivot returns the pivot price for the given instrument key, or
	// ok=false if no pivot is available (the instrument is not eligible
	// for pivot-retest confirmation).
	DailyPivot(ctx context.Context, instrumentKey string) (price float64, ok bool, err error)
}

// HistoricalCandleSource supplies historical 1-minute candles for
// watchlist preload and backtest replay.
type HistoricalCandleSource interface {
	Load(ctx context.Context, instrumentKey string, from, to time.Time) ([]Candle, error)
}

// BrokerClient places and queries orders at the broker. Production wire
// transport is out of scope; this interface is the seam the Broker
// Gateway's retry/circuit-breaker wrapper and the paper/simulated
// implementation both satisfy.
type BrokerClient interface {
	PlaceOrder(ctx context.Context, order Order) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (Order, error)
}

// TradeRepository persists terminal trade results and dead-lettered
// failures for later audit and backtest reporting.
type TradeRepository interface {
	RecordResult(ctx context.Context, result TradeResult) error
	RecordDeadLetter(ctx context.Context, payload []byte, reason string, failedAt time.Time) error
	Results(ctx context.Context, from, to time.Time) ([]TradeResult, error)
	Close() error
}

// ResultSink publishes lifecycle events for downstream consumers
// (dashboards, audit trails) and forwards critical events to a Notifier.
type ResultSink interface {
	PublishSignalAdmitted(ctx context.Context, s Signal) error
	PublishTradeEntered(ctx context.Context, t ActiveTrade) error
	PublishPartialExit(ctx context.Context, r TradeResult) error
	PublishTradeClosed(ctx context.Context, r TradeResult) error
	PublishTradeCancelled(ctx context.Context, s Signal, reason string) error
	PublishTradeFailed(ctx context.Context, s Signal, reason string) error
	Close() error
}

// SignalHandler processes one signal synchronously. Implementations of
// SignalBus ack a message's source offset only after this returns
// successfully, so a failing handler stalls intake on that message
// instead of losing it (spec §4.4 step 5 / §5 backpressure guarantee).
type SignalHandler func(ctx context.Context, sig Signal) error

// SignalBus consumes raw inbound signals via consumer-group semantics
// (at-least-once delivery) and survives crash recovery via PEL replay.
type SignalBus interface {
	Consume(ctx context.Context, stream, group, consumer string, handle SignalHandler) error
	RecoverPending(ctx context.Context, stream, group, consumer string, handle SignalHandler) error
	EnsureGroup(ctx context.Context, stream, group string) error
	StartPELReclaimer(ctx context.Context, stream, group, consumer string,
		interval, minIdle time.Duration, handle SignalHandler, onReclaim func(count int))
	Close() error
}

// CandleBus publishes closed candles for downstream consumers (Trade
// Manager, Backtest Engine replay ingestion, secondary analytics).
type CandleBus interface {
	Publish(ctx context.Context, c Candle) error
	Close() error
}

// TickBus consumes the inbound market-data tick stream. Unlike
// SignalBus, ticks carry no PEL-replay obligation: a tick that ages out
// during a crash is superseded by the next live tick moments later, so
// losing a handful on restart does not corrupt the candle it would have
// built (the next tick still advances O/H/L/C correctly).
type TickBus interface {
	Consume(ctx context.Context, stream, group, consumer string, out chan<- Tick) error
	EnsureGroup(ctx context.Context, stream, group string) error
	Close() error
}

// DeadLetterWriter hands a payload that failed validation, routing, or
// execution to the dead-letter path (stream + durable store).
type DeadLetterWriter interface {
	Write(ctx context.Context, payload []byte, reason string) error
}
