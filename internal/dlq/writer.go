// Package dlq implements the Error/DLQ path (spec §4.9): a dead-lettered
// payload is written to a Redis Stream under the `<topic>.DLT` suffix,
// persisted to the durable trade repository, and raised as a notification
// alert. It never re-publishes to the live topics it shadows — dead
// letters are a terminal sink, not a retry queue.
package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	applog "trade-execution-engine/internal/logger"
	"trade-execution-engine/internal/model"
	"trade-execution-engine/internal/notification"
)

const streamMaxLen = 20000

// Config configures the Writer's Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Writer implements model.DeadLetterWriter for one source topic. Callers
// construct a distinct Writer per source stream (e.g. one for
// "trading-signals", one for "forwardtesting-data") so the `.DLT` stream
// name reflects which upstream input the payload came from.
type Writer struct {
	client *goredis.Client
	topic  string // e.g. "trading-signals" — stream written to is topic+".DLT"
	repo   model.TradeRepository
	notify notification.Notifier
	log    *slog.Logger
}

// New dials Redis and returns a Writer bound to topic's dead-letter stream.
func New(cfg Config, topic string, repo model.TradeRepository, notifier notification.Notifier, log *slog.Logger) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("dlq: redis ping: %w", err)
	}

	if notifier == nil {
		notifier = notification.NewLogNotifier()
	}

	return &Writer{client: client, topic: topic, repo: repo, notify: notifier, log: log}, nil
}

// Write hands payload to the dead-letter path: durable stream, then
// repository, then alert. A failure at any step is logged but never
// propagated back to the caller as a reason to retry on the live topic —
// the payload is already off the hot path by the time Write is called.
func (w *Writer) Write(ctx context.Context, payload []byte, reason string) error {
	stream := w.topic + ".DLT"
	failedAt := time.Now()

	_, err := w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"reason": reason, "data": string(payload), "trace_id": applog.TraceID(ctx)},
	}).Result()
	if err != nil {
		w.log.Error("dlq: stream write failed", append([]any{"topic", w.topic, "reason", reason, "error", err}, applog.LogWithTrace(ctx)...)...)
	}

	if w.repo != nil {
		if err := w.repo.RecordDeadLetter(ctx, payload, reason, failedAt); err != nil {
			w.log.Error("dlq: repository write failed", append([]any{"topic", w.topic, "reason", reason, "error", err}, applog.LogWithTrace(ctx)...)...)
		}
	}

	w.notify.Send(ctx, notification.Alert{
		Level:   notification.AlertWarning,
		Title:   "Dead-lettered: " + w.topic,
		Message: reason,
	})

	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
