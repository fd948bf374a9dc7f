// Command engine runs the live trade execution engine: it wires the
// Candle Builder, Signal Router, Trade Manager, Broker Gateway, Backtest
// Engine (for the router's stale/after-hours hand-off), Result Sink, and
// dead-letter paths together and runs until terminated. Wiring style —
// box-drawn startup banner, context.WithCancel + SIGINT/SIGTERM
// graceful shutdown, goroutine-per-pipeline-stage — is grounded on
// cmd/mdengine/main.go.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"trade-execution-engine/config"
	"trade-execution-engine/internal/backtest"
	"trade-execution-engine/internal/broker"
	"trade-execution-engine/internal/candle"
	"trade-execution-engine/internal/clock"
	"trade-execution-engine/internal/dlq"
	"trade-execution-engine/internal/historicalcandle"
	applog "trade-execution-engine/internal/logger"
	"trade-execution-engine/internal/metrics"
	"trade-execution-engine/internal/model"
	"trade-execution-engine/internal/notification"
	"trade-execution-engine/internal/pivot"
	"trade-execution-engine/internal/resultsink"
	"trade-execution-engine/internal/router"
	"trade-execution-engine/internal/sizing"
	redisstore "trade-execution-engine/internal/store/redis"
	sqlitestore "trade-execution-engine/internal/store/sqlite"
	"trade-execution-engine/internal/trademanager"
)

const (
	tickStream         = "forwardtesting-data"
	tickGroup          = "trade-execution-engine-ticks"
	baseResolution     = time.Minute
	confirmResolution  = 5 * time.Minute
	historicalLookback = 24 * time.Hour
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[engine] starting...")

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Durable storage ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	repo, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath}, logger)
	if err != nil {
		log.Fatalf("[engine] sqlite init failed: %v", err)
	}
	defer repo.Close()
	health.SetRepositoryOK(true)
	log.Println("[engine] trade repository ready")

	// ---- Notifications ----
	var notifier notification.Notifier
	switch {
	case cfg.TelegramBotToken != "" && cfg.TelegramChatID != "":
		notifier = notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		log.Println("[engine] alerts via Telegram")
	case cfg.WebhookURL != "":
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL)
		log.Println("[engine] alerts via webhook")
	default:
		notifier = notification.NewLogNotifier()
		log.Println("[engine] alerts logged only (no Telegram/webhook configured)")
	}

	// ---- Dead-letter writers, one per source topic ----
	signalDLQ, err := dlq.New(dlq.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		cfg.SignalStream, repo, notifier, logger)
	if err != nil {
		log.Fatalf("[engine] signal dlq init failed: %v", err)
	}
	defer signalDLQ.Close()

	brokerDLQ, err := dlq.New(dlq.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		"broker-orders", repo, notifier, logger)
	if err != nil {
		log.Fatalf("[engine] broker dlq init failed: %v", err)
	}
	defer brokerDLQ.Close()

	// ---- Result sink ----
	results, err := resultsink.New(resultsink.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		notifier, prom, logger)
	if err != nil {
		log.Fatalf("[engine] result sink init failed: %v", err)
	}
	defer results.Close()

	// ---- Signal/tick/candle buses ----
	signalBus, err := redisstore.NewSignalBus(redisstore.SignalBusConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
	}, logger)
	if err != nil {
		log.Fatalf("[engine] signal bus init failed: %v", err)
	}
	defer signalBus.Close()
	if err := signalBus.EnsureGroup(ctx, cfg.SignalStream, cfg.SignalGroup); err != nil {
		log.Fatalf("[engine] signal group setup failed: %v", err)
	}

	tickBus, err := redisstore.NewTickBus(redisstore.TickBusConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
	}, logger)
	if err != nil {
		log.Fatalf("[engine] tick bus init failed: %v", err)
	}
	defer tickBus.Close()
	if err := tickBus.EnsureGroup(ctx, tickStream, tickGroup); err != nil {
		log.Fatalf("[engine] tick group setup failed: %v", err)
	}

	candleBus, err := redisstore.NewCandleBus(redisstore.CandleBusConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[engine] candle bus init failed: %v", err)
	}
	defer candleBus.Close()
	health.SetBusOK(true)

	// ---- Pivot + historical candle services ----
	pivotClient := pivot.NewClient(cfg.PivotBaseURL, 5*time.Second, time.Minute)
	health.SetPivotOK(true)

	historicalClient := historicalcandle.NewClient(cfg.PivotBaseURL, 10*time.Second)

	// ---- Market calendar ----
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		log.Fatalf("[engine] load IST location: %v", err)
	}
	nseSession := clock.NewSession(ist, 9, 15, 15, 30, 5*time.Minute, clock.NSEHolidays2026(ist))
	clockRegistry := clock.NewRegistry(map[string]*clock.Session{"NSE": nseSession, "BSE": nseSession}, nseSession)

	// ---- Broker ----
	slippage := cfg.SlippageModel()
	slipBps := func(et model.ExchangeType) decimal.Decimal {
		if et == model.ExchangeEquity {
			return slippage.EquityBps
		}
		return slippage.OptionsBps
	}
	var brokerClient model.BrokerClient
	switch cfg.TradingMode {
	case config.ModeLive:
		log.Fatalf("[engine] TRADING_MODE=LIVE requires a real broker wire client, which this build does not carry; run SIMULATION/SHADOW/SILENT instead")
	default:
		brokerClient = broker.NewPaperClient(slipBps, logger)
	}
	brokerGateway := broker.NewGateway(brokerClient, cfg.BrokerConfig(), brokerDLQ, logger)
	brokerGateway.OnAlert = func(reason string) {
		notifier.Send(ctx, notification.Alert{Level: notification.AlertCritical, Title: "Broker Gateway", Message: reason})
	}
	health.SetBrokerOK(true)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.BrokerCircuitState.Set(float64(brokerGateway.CircuitState()))
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lag, err := signalBus.Lag(ctx, cfg.SignalStream, cfg.SignalGroup)
				if err != nil {
					logger.Warn("signal consumer lag poll failed", "error", err)
					continue
				}
				prom.SignalConsumerLag.Set(float64(lag))
			}
		}
	}()

	// ---- Sizing + Backtest Engine (router's stale/after-hours hand-off) ----
	sizer := sizing.New(cfg.SizingLimits())
	backtestEngine := backtest.New(backtest.Config{
		Clock:         clockRegistry,
		Repository:    repo,
		Sizer:         sizer,
		Pivot:         pivotClient,
		Slippage:      slippage,
		ManagerConfig: cfg.TradeManagerConfig(),
		Log:           logger,
	})
	backtestQueue := backtest.NewQueue(backtest.QueueConfig{
		Engine:     backtestEngine,
		Historical: historicalClient,
		Lookback:   historicalLookback,
		Log:        logger,
	})

	// ---- Trade Manager (live path) ----
	tm := trademanager.New(cfg.TradeManagerConfig(), clockRegistry, pivotClient, historicalClient,
		sizer, brokerGateway, results, signalDLQ, logger)
	go tm.RunSweeper(ctx, time.Minute)

	// ---- Signal Router ----
	sigRouter := router.New(cfg.RouterConfig(), clockRegistry, tm, backtestQueue, signalDLQ, logger)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sigRouter.Reap(time.Now())
			}
		}
	}()

	// ---- Candle Builder: ticks -> 1m candles -> 5m confirmation candles ----
	aggregator := candle.NewAggregator(baseResolution, logger)
	aggregator.OnDroppedTick = func() { prom.CandleDefectsTotal.Inc() }
	aggregator.OnLateTick = func() {}
	aggregator.OnOHLCDefect = func() { prom.CandleDefectsTotal.Inc() }

	resampler := candle.NewResampler([]time.Duration{confirmResolution}, logger)
	resampler.OnOHLCDefect = func() { prom.CandleDefectsTotal.Inc() }
	resampler.OnCandle = func(c model.Candle) {
		if err := candleBus.Publish(ctx, c); err != nil {
			logger.Error("candle bus publish failed", "error", err)
		}
		if err := tm.OnClosedCandle(ctx, c); err != nil {
			logger.Error("trade manager OnClosedCandle failed", "error", err)
		}
	}

	tickCh := make(chan model.Tick, 10000)
	baseCandleCh := make(chan model.Candle, 2000)
	confirmCandleCh := make(chan model.Candle, 2000)

	go aggregator.Run(ctx, tickCh, baseCandleCh)
	go resampler.Run(ctx, baseCandleCh, confirmCandleCh)
	// confirmCandleCh carries every forming-state update of the 5-minute
	// candle, not just the finalized close; OnCandle above is the single
	// hook driving Trade Manager/Candle Bus on finalized candles, so this
	// loop only needs to drain the channel to keep Resampler.Run from
	// blocking on a full buffer.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-confirmCandleCh:
				if !ok {
					return
				}
			}
		}
	}()

	go func() {
		if err := tickBus.Consume(ctx, tickStream, tickGroup, cfg.SignalConsumer+"-ticks", tickCh); err != nil && ctx.Err() == nil {
			log.Printf("[engine] tick consumer error: %v", err)
		}
	}()

	// ---- Signal consumption ----
	// OnSignal is called synchronously from inside Consume/RecoverPending/
	// StartPELReclaimer and its source offset is only ACKed once OnSignal
	// returns — a failing hand-off therefore stalls intake on that signal
	// instead of losing it. Each signal gets a fresh trace id at ingress,
	// carried through context for every downstream log line and event.
	handleSignal := func(ctx context.Context, sig model.Signal) error {
		ctx = applog.WithTraceID(ctx, applog.NewTraceID())
		return sigRouter.OnSignal(ctx, sig)
	}
	go func() {
		if err := signalBus.RecoverPending(ctx, cfg.SignalStream, cfg.SignalGroup, cfg.SignalConsumer, handleSignal); err != nil && ctx.Err() == nil {
			log.Printf("[engine] signal PEL recovery error: %v", err)
		}
		if err := signalBus.Consume(ctx, cfg.SignalStream, cfg.SignalGroup, cfg.SignalConsumer, handleSignal); err != nil && ctx.Err() == nil {
			log.Printf("[engine] signal consumer error: %v", err)
		}
	}()
	go signalBus.StartPELReclaimer(ctx, cfg.SignalStream, cfg.SignalGroup, cfg.SignalConsumer,
		time.Minute, 5*time.Minute, handleSignal, func(count int) {
			logger.Warn("signals reclaimed from pending entries list", "count", count)
		})

	// ---- Liveness checker ----
	health.StartLivenessChecker(ctx, brokerGateway.Ping, candleBus.Ping, pivotClient.Ping, repo.Ping, 15*time.Second)
	go repo.RunRetentionSweeper(ctx, 24*time.Hour)

	log.Println("[engine] ╔══════════════════════════════════════════════════════════════╗")
	log.Println("[engine] ║  Trade Execution Engine                                         ║")
	log.Println("[engine] ║                                                                  ║")
	log.Println("[engine] ║  [Tick Bus] → [Candle Builder] → [Trade Manager] → [Broker]     ║")
	log.Println("[engine] ║  [Signal Bus] → [Signal Router] → Live / Backtest Replay         ║")
	log.Printf("[engine] ║  Trading mode: %-49s ║", cfg.TradingMode)
	log.Printf("[engine] ║  Metrics/health: %-47s ║", cfg.MetricsAddr)
	log.Println("[engine] ╚══════════════════════════════════════════════════════════════╝")

	<-sigCh
	log.Println("[engine] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[engine] shutdown complete")
}
