package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trade-execution-engine/internal/model"
)

// tickWire is the inbound market-data tick record (spec §6,
// "forwardtesting-data" stream): one JSON record per tick with a
// cumulative quantity field this bus turns into a per-tick volume
// delta before handing it to the Candle Builder.
type tickWire struct {
	Token         string `json:"Token"`
	LastRate      string `json:"LastRate"`
	OpenRate      string `json:"OpenRate"`
	High          string `json:"High"`
	Low           string `json:"Low"`
	TotalQuantity int64  `json:"TotalQuantity"`
	Exch          string `json:"Exch"`
	ExchType      string `json:"ExchType"`
	TickDt        int64  `json:"tickDt"` // epoch millis in UTC
}

// TickBusConfig configures the TickBus's Redis connection.
type TickBusConfig struct {
	Addr     string
	Password string
	DB       int
}

// TickBus consumes the inbound tick stream via consumer-group semantics,
// grounded on the same XReadGroup idiom as SignalBus (teacher's
// store/redis/reader.go), plus a volume-delta tracker since the wire
// format reports a cumulative quantity rather than a per-tick delta.
type TickBus struct {
	client *goredis.Client
	log    *slog.Logger

	mu      sync.Mutex
	lastQty map[string]int64 // instrument key -> last-seen cumulative quantity
}

// NewTickBus dials Redis and returns a TickBus.
func NewTickBus(cfg TickBusConfig, log *slog.Logger) (*TickBus, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("tickbus: redis ping: %w", err)
	}

	return &TickBus{client: client, log: log, lastQty: make(map[string]int64)}, nil
}

// Ping reports whether the underlying Redis connection is alive, for
// use as a metrics.ProbeFunc.
func (b *TickBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// EnsureGroup creates stream's consumer group if it doesn't exist yet.
func (b *TickBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("tickbus: xgroup create %s: %w", stream, err)
	}
	return nil
}

// Consume reads ticks from stream via the named consumer group,
// converts the wire cumulative-quantity field into a per-tick delta,
// and forwards each to out, acking only after the send succeeds.
func (b *TickBus) Consume(ctx context.Context, stream, group, consumer string, out chan<- model.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    500,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("tickbus: xreadgroup %s: %w", stream, err)
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				tick, ok := b.parseMessage(msg)
				if !ok {
					b.client.XAck(ctx, stream, group, msg.ID)
					continue
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return ctx.Err()
				}
				b.client.XAck(ctx, stream, group, msg.ID)
			}
		}
	}
}

func (b *TickBus) parseMessage(msg goredis.XMessage) (model.Tick, bool) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		b.log.Warn("tickbus: message missing data field", "id", msg.ID)
		return model.Tick{}, false
	}

	var w tickWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		b.log.Warn("tickbus: malformed tick payload", "id", msg.ID, "error", err)
		return model.Tick{}, false
	}

	key := w.Exch + ":" + w.Token
	qty := b.deltaQty(key, w.TotalQuantity)

	price := parseDecimal(w.LastRate)
	high := parseDecimal(w.High)
	low := parseDecimal(w.Low)
	// A missing/zero high or low field means the feed didn't report one
	// for this tick; fall back to the last price rather than letting a
	// zero value corrupt the candle's running min/max.
	if high.IsZero() {
		high = price
	}
	if low.IsZero() {
		low = price
	}

	return model.Tick{
		Token:    w.Token,
		Exchange: w.Exch,
		Price:    price,
		High:     high,
		Low:      low,
		Qty:      qty,
		TickTS:   time.Now().UTC(),
		EventTS:  time.UnixMilli(w.TickDt).UTC(),
	}, true
}

// deltaQty converts a cumulative quantity reading into a per-tick
// delta. A reading lower than the last seen value means the upstream
// counter reset (new session); the full reading is taken as the delta
// in that case rather than going negative.
func (b *TickBus) deltaQty(key string, cumulative int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, seen := b.lastQty[key]
	b.lastQty[key] = cumulative
	if !seen || cumulative < last {
		return cumulative
	}
	return cumulative - last
}

// Close closes the Redis client.
func (b *TickBus) Close() error {
	return b.client.Close()
}
