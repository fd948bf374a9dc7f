package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	goredis "github.com/go-redis/redis/v8"

	"trade-execution-engine/internal/model"
)

// signalWire is the inbound JSON shape on the "trading-signals" stream
// (spec §6): unknown fields are ignored by construction since json.Unmarshal
// into a named struct simply drops them.
type signalWire struct {
	ScripCode       string  `json:"scripCode"`
	CompanyName     string  `json:"companyName"`
	Exchange        string  `json:"exchange"`
	ExchangeType    string  `json:"exchangeType"`
	Signal          string  `json:"signal"`
	Direction       string  `json:"direction"`
	EntryPrice      string  `json:"entryPrice"`
	StopLoss        string  `json:"stopLoss"`
	Target1         string  `json:"target1"`
	Target2         string  `json:"target2"`
	Target3         string  `json:"target3"`
	Target4         string  `json:"target4"`
	Timestamp       int64   `json:"timestamp"` // epoch millis, producer time
	Confidence      float64 `json:"confidence"`
	RiskRewardRatio float64 `json:"riskRewardRatio"`
	Rationale       string  `json:"rationale"`
	ATR30m          float64 `json:"atr30m"`
	OIChangeRatio   float64 `json:"oiChangeRatio"`
	VolumeT         float64 `json:"volumeT"`
	SurgeT          float64 `json:"surgeT"`
	PivotSource     bool    `json:"pivotSource"`
	SignalKind      string  `json:"signalKind"`
}

// toSignal maps the wire record into the domain model, stamping
// IngestTimestamp at parse time. The "signal"/"direction" field may be
// sent under either key per spec §6; direction wins when both are set.
func (w *signalWire) toSignal() model.Signal {
	direction := w.Direction
	if direction == "" {
		direction = w.Signal
	}

	exchType := model.ExchangeDerivative
	if w.ExchangeType == string(model.ExchangeEquity) {
		exchType = model.ExchangeEquity
	}

	// VolumeSurge is not wire-specified as a single ratio; volumeT/surgeT
	// are the raw threshold pair, combined here as surge-over-volume so
	// downstream gates get a single comparable magnitude (spec §4.5.3).
	volumeSurge := 0.0
	if w.VolumeT != 0 {
		volumeSurge = w.SurgeT / w.VolumeT
	}

	kind := w.SignalKind
	if kind == "" {
		kind = direction
	}

	return model.Signal{
		ScripCode:       w.ScripCode,
		CompanyName:     w.CompanyName,
		Exchange:        w.Exchange,
		ExchangeType:    exchType,
		Direction:       model.Direction(direction),
		EntryHint:       parseDecimal(w.EntryPrice),
		StopLossHint:    parseDecimal(w.StopLoss),
		Targets: [4]decimal.Decimal{
			parseDecimal(w.Target1), parseDecimal(w.Target2),
			parseDecimal(w.Target3), parseDecimal(w.Target4),
		},
		OriginTimestamp: time.UnixMilli(w.Timestamp).UTC(),
		IngestTimestamp: time.Now().UTC(),
		Confidence:      w.Confidence,
		RiskReward:      w.RiskRewardRatio,
		VolumeSurge:     volumeSurge,
		OIChange:        w.OIChangeRatio,
		ATR30m:          w.ATR30m,
		PivotSource:     w.PivotSource,
		SignalKind:      kind,
		Rationale:       w.Rationale,
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SignalBusConfig configures the SignalBus's Redis connection.
type SignalBusConfig struct {
	Addr     string
	Password string
	DB       int
}

// SignalBus consumes the inbound signal stream via consumer-group
// semantics, grounded on the teacher's store/redis/reader.go
// ConsumeTFCandles/RecoverPending/StartPELReclaimer idiom, generalized
// from TFCandle payloads to Signal payloads.
type SignalBus struct {
	client *goredis.Client
	log    *slog.Logger
}

// NewSignalBus dials Redis and returns a SignalBus.
func NewSignalBus(cfg SignalBusConfig, log *slog.Logger) (*SignalBus, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("signalbus: redis ping: %w", err)
	}

	return &SignalBus{client: client, log: log}, nil
}

// Ping reports whether the underlying Redis connection is alive, for use
// as a metrics.ProbeFunc.
func (b *SignalBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Lag reports the consumer group's backlog on stream: entries already
// delivered to a consumer but not yet acknowledged, via XPENDING's
// summary form (the same primitive RecoverPending/StartPELReclaimer use
// to find reclaim candidates, just without the per-entry detail),
// matching spec §4.10's "consumer lag per input stream".
func (b *SignalBus) Lag(ctx context.Context, stream, group string) (int64, error) {
	summary, err := b.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, fmt.Errorf("signalbus: xpending %s/%s: %w", stream, group, err)
	}
	return summary.Count, nil
}

// EnsureGroup creates stream's consumer group if it doesn't exist yet,
// starting from "$" (new messages only) for a fresh group.
func (b *SignalBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("signalbus: xgroup create %s: %w", stream, err)
	}
	return nil
}

func (b *SignalBus) parseMessage(msg goredis.XMessage) (model.Signal, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return model.Signal{}, false
	}
	var w signalWire
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		b.log.Error("signalbus: unmarshal failed", "id", msg.ID, "error", err)
		return model.Signal{}, false
	}
	return w.toSignal(), true
}

// handleWithRetry calls handle until it succeeds or ctx is cancelled,
// backing off between attempts so a persistently failing downstream
// doesn't spin the consumer.
func (b *SignalBus) handleWithRetry(ctx context.Context, msgID string, sig model.Signal, handle model.SignalHandler) error {
	for {
		err := handle(ctx, sig)
		if err == nil {
			return nil
		}
		b.log.Error("signalbus: downstream handler failed, retrying before ack", "id", msgID, "scrip", sig.ScripCode, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Consume blocks on XREADGROUP, parsing each message and invoking handle
// synchronously. Source offsets (the ">") are only advanced by Redis once
// XAck is called, which happens here after handle returns successfully —
// at-least-once delivery, per spec §4.4 step 5: "acknowledge the source
// offset only after the downstream hand-off returns."
func (b *SignalBus) Consume(ctx context.Context, stream, group, consumer string, handle model.SignalHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			b.log.Error("signalbus: xreadgroup error", "stream", stream, "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, s := range results {
			for _, msg := range s.Messages {
				sig, ok := b.parseMessage(msg)
				if !ok {
					// poison pill: ack so it doesn't block the group forever
					b.client.XAck(ctx, s.Stream, group, msg.ID)
					continue
				}
				if err := b.handleWithRetry(ctx, msg.ID, sig, handle); err != nil {
					return err
				}
				b.client.XAck(ctx, s.Stream, group, msg.ID)
			}
		}
	}
}

// RecoverPending claims for consumer and replays every unACKed message in
// the group's pending list, whichever consumer it was delivered to; the
// caller runs it before Consume begins reading new ("> ") entries —
// standard Redis Streams crash-recovery idiom.
func (b *SignalBus) RecoverPending(ctx context.Context, stream, group, consumer string, handle model.SignalHandler) error {
	for {
		pending, err := b.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: stream,
			Group:  group,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil || len(pending) == 0 {
			return err
		}

		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}

		claimed, err := b.client.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  0,
			Messages: ids,
		}).Result()
		if err != nil {
			return fmt.Errorf("signalbus: xclaim %s: %w", stream, err)
		}

		for _, msg := range claimed {
			sig, ok := b.parseMessage(msg)
			if !ok {
				b.client.XAck(ctx, stream, group, msg.ID)
				continue
			}
			if err := b.handleWithRetry(ctx, msg.ID, sig, handle); err != nil {
				return err
			}
			b.client.XAck(ctx, stream, group, msg.ID)
		}

		if len(claimed) < len(ids) {
			return nil
		}
	}
}

// StartPELReclaimer periodically steals PEL entries idle longer than
// minIdle from dead consumers in the group and hands them to handle, so a
// crashed consumer's in-flight signals are eventually reprocessed by a
// healthy one. Runs until ctx is cancelled.
func (b *SignalBus) StartPELReclaimer(ctx context.Context, stream, group, consumer string,
	interval, minIdle time.Duration, handle model.SignalHandler, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := b.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  group,
				Start:  "-",
				End:    "+",
				Count:  50,
				Idle:   minIdle,
			}).Result()
			if err != nil || len(pending) == 0 {
				continue
			}

			var staleIDs []string
			for _, p := range pending {
				if p.Consumer != consumer {
					staleIDs = append(staleIDs, p.ID)
				}
			}
			if len(staleIDs) == 0 {
				continue
			}

			claimed, err := b.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    group,
				Consumer: consumer,
				MinIdle:  minIdle,
				Messages: staleIDs,
			}).Result()
			if err != nil {
				b.log.Error("signalbus: pel reclaim xclaim error", "stream", stream, "error", err)
				continue
			}

			reclaimed := 0
			for _, msg := range claimed {
				sig, ok := b.parseMessage(msg)
				if !ok {
					b.client.XAck(ctx, stream, group, msg.ID)
					continue
				}
				if err := b.handleWithRetry(ctx, msg.ID, sig, handle); err != nil {
					return
				}
				b.client.XAck(ctx, stream, group, msg.ID)
				reclaimed++
			}
			if reclaimed > 0 && onReclaim != nil {
				onReclaim(reclaimed)
			}
		}
	}
}

// Close closes the Redis client.
func (b *SignalBus) Close() error {
	return b.client.Close()
}
