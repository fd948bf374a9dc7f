package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trade-execution-engine/internal/model"
)

const candleStreamMaxLen = 20000

// CandleBusConfig configures the CandleBus's Redis connection.
type CandleBusConfig struct {
	Addr     string
	Password string
	DB       int
}

// CandleBus publishes closed candles onto a per-instrument Redis Stream,
// grounded on the teacher's store/redis/writer.go writeCandle XADD
// idiom, generalized from the teacher's fixed 1-second candle to the
// model.Candle's own Resolution. Consumption (Trade Manager, Backtest
// Engine replay ingestion) uses the same consumer-group idiom as
// SignalBus against this stream name when running as a separate process.
type CandleBus struct {
	client *goredis.Client
}

// NewCandleBus dials Redis and returns a CandleBus.
func NewCandleBus(cfg CandleBusConfig) (*CandleBus, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("candlebus: redis ping: %w", err)
	}

	return &CandleBus{client: client}, nil
}

// Ping reports whether the underlying Redis connection is alive, for use
// as a metrics.ProbeFunc.
func (b *CandleBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish writes a closed candle to its instrument stream and the
// corresponding latest/pubsub keys, matching the teacher's writeCandle
// three-part pipeline (XADD + SET + PUBLISH) in one round trip.
func (b *CandleBus) Publish(ctx context.Context, c model.Candle) error {
	stream := streamKeyFor(c)
	jsonData := string(c.JSON())

	pipe := b.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, "candle:latest:"+stream, jsonData, 24*time.Hour)
	pipe.Publish(ctx, "pub:"+stream, jsonData)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("candlebus: publish %s: %w", stream, err)
	}
	return nil
}

func streamKeyFor(c model.Candle) string {
	return fmt.Sprintf("candle:%s:%s:%ds", c.Exchange, c.Token, int(c.Resolution.Seconds()))
}

// Close closes the Redis client.
func (b *CandleBus) Close() error {
	return b.client.Close()
}
