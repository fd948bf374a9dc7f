// Package resultsink implements the Result Sink (spec §4.8): it publishes
// trade lifecycle events to a durable Redis Stream keyed by tradeId and
// fans critical events out through a notification.Notifier, grounded on
// the teacher's internal/store/redis/writer.go XADD-pipeline idiom and
// internal/notification's Notifier interface.
package resultsink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	applog "trade-execution-engine/internal/logger"
	"trade-execution-engine/internal/metrics"
	"trade-execution-engine/internal/model"
	"trade-execution-engine/internal/notification"
)

const (
	streamEvents = "events:trades"
	streamMaxLen = 50000
	latestTTL    = 24 * time.Hour
)

// Config configures the Sink.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Sink is the Redis-Streams-backed ResultSink implementation.
type Sink struct {
	client   *goredis.Client
	notifier notification.Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New dials Redis and returns a Sink.
func New(cfg Config, notifier notification.Notifier, m *metrics.Metrics, log *slog.Logger) (*Sink, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("resultsink: redis ping: %w", err)
	}

	if notifier == nil {
		notifier = notification.NewLogNotifier()
	}

	return &Sink{client: client, notifier: notifier, metrics: m, log: log}, nil
}

func (s *Sink) publish(ctx context.Context, eventType string, payload []byte, key string) {
	pipe := s.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamEvents,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"type": eventType, "data": string(payload), "trace_id": applog.TraceID(ctx)},
	})
	if key != "" {
		latestKey := "trade:latest:" + key
		pipe.Set(ctx, latestKey, string(payload), latestTTL)
	}
	pipe.Publish(ctx, "pub:"+streamEvents, string(payload))

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("resultsink: publish failed", append([]any{"event", eventType, "error", err}, applog.LogWithTrace(ctx)...)...)
	}
}

func (s *Sink) PublishSignalAdmitted(ctx context.Context, sig model.Signal) error {
	s.publish(ctx, "SIGNAL_ADMITTED", sig.JSON(), sig.ScripCode)
	return nil
}

func (s *Sink) PublishTradeEntered(ctx context.Context, t model.ActiveTrade) error {
	if s.metrics != nil {
		s.metrics.TradesEntered.Inc()
	}
	s.publish(ctx, "TRADE_ENTERED", t.JSON(), t.TradeID)
	return nil
}

func (s *Sink) PublishPartialExit(ctx context.Context, r model.TradeResult) error {
	if s.metrics != nil {
		s.metrics.PartialExitsTotal.Inc()
	}
	s.publish(ctx, "PARTIAL_EXIT", r.JSON(), r.TradeID)
	return nil
}

func (s *Sink) PublishTradeClosed(ctx context.Context, r model.TradeResult) error {
	if s.metrics != nil {
		s.metrics.RecordTradeOutcome(r.Win())
	}
	s.publish(ctx, "TRADE_CLOSED", r.JSON(), r.TradeID)
	if warrantsWarning(r.Reason) {
		s.notifier.Send(ctx, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   "Trade closed: " + string(r.Reason),
			Message: fmt.Sprintf("%s closed at %s, pnl=%s", r.ScripCode, r.ExitPrice, r.PnL),
		})
	}
	return nil
}

func (s *Sink) PublishTradeCancelled(ctx context.Context, sig model.Signal, reason string) error {
	s.publish(ctx, "TRADE_CANCELLED", sig.JSON(), sig.ScripCode)
	return nil
}

func (s *Sink) PublishTradeFailed(ctx context.Context, sig model.Signal, reason string) error {
	s.publish(ctx, "TRADE_FAILED", sig.JSON(), sig.ScripCode)
	s.notifier.Send(ctx, notification.Alert{
		Level:   notification.AlertCritical,
		Title:   "Trade execution failed",
		Message: fmt.Sprintf("%s: %s", sig.ScripCode, reason),
	})
	return nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}

// warrantsWarning reports whether a terminal exit reason is noteworthy
// enough to page out, as opposed to the routine take-profit/trailing exits.
func warrantsWarning(reason model.ExitReason) bool {
	return reason == model.ExitStopLoss || reason == model.ExitMarketClose
}
