// Command backtest replays one or more signals from a JSON file through
// the Backtest Engine — the exact entry/exit rules the live Trade
// Manager uses, against historical candles fetched from the
// historical-candle service — and prints the resulting trade outcomes.
// Flag/file-driven CLI shape carried over from the teacher's
// cmd/backtest, generalized from a TF/indicator replay into a
// signal/candle replay (spec §4.7).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"trade-execution-engine/config"
	"trade-execution-engine/internal/backtest"
	"trade-execution-engine/internal/clock"
	"trade-execution-engine/internal/historicalcandle"
	"trade-execution-engine/internal/model"
	"trade-execution-engine/internal/pivot"
	"trade-execution-engine/internal/sizing"
	sqlitestore "trade-execution-engine/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	signalsPath := flag.String("signals", "", "path to a JSON file containing an array of model.Signal")
	lookback := flag.Duration("lookback", 24*time.Hour, "how far before each signal's origin timestamp to fetch historical candles from")
	dbPath := flag.String("db", "data/backtest.db", "path to the SQLite trade-result repository")
	flag.Parse()

	if *signalsPath == "" {
		log.Fatal("[backtest] -signals is required")
	}

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	signals, err := loadSignals(*signalsPath)
	if err != nil {
		log.Fatalf("[backtest] loading signals: %v", err)
	}
	if len(signals) == 0 {
		log.Fatal("[backtest] no signals found in input file")
	}

	repo, err := sqlitestore.New(sqlitestore.Config{DBPath: *dbPath}, logger)
	if err != nil {
		log.Fatalf("[backtest] sqlite init failed: %v", err)
	}
	defer repo.Close()

	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		log.Fatalf("[backtest] load IST location: %v", err)
	}
	nseSession := clock.NewSession(ist, 9, 15, 15, 30, 5*time.Minute, clock.NSEHolidays2026(ist))
	clockRegistry := clock.NewRegistry(map[string]*clock.Session{"NSE": nseSession, "BSE": nseSession}, nseSession)

	pivotClient := pivot.NewClient(cfg.PivotBaseURL, 5*time.Second, time.Minute)
	historicalClient := historicalcandle.NewClient(cfg.PivotBaseURL, 10*time.Second)
	sizer := sizing.New(cfg.SizingLimits())

	engine := backtest.New(backtest.Config{
		Clock:         clockRegistry,
		Repository:    repo,
		Sizer:         sizer,
		Pivot:         pivotClient,
		Slippage:      cfg.SlippageModel(),
		ManagerConfig: cfg.TradeManagerConfig(),
		Log:           logger,
	})

	ctx := context.Background()
	results := make([]model.TradeResult, 0, len(signals))
	for i, sig := range signals {
		from := sig.OriginTimestamp.Add(-*lookback)
		to := time.Now()
		candles, err := historicalClient.Load(ctx, sig.ScripCode, from, to)
		if err != nil {
			log.Printf("[backtest] signal %d (%s): loading candles failed: %v", i, sig.ScripCode, err)
			continue
		}
		if len(candles) == 0 {
			log.Printf("[backtest] signal %d (%s): no historical candles available, skipping", i, sig.ScripCode)
			continue
		}

		result, err := engine.Replay(ctx, sig, candles)
		if err != nil {
			log.Printf("[backtest] signal %d (%s): replay failed: %v", i, sig.ScripCode, err)
			continue
		}
		results = append(results, result)
		fmt.Printf("  [%s] %s %s entry=%s exit=%s pnl=%s (%s)\n",
			sig.OriginTimestamp.Format("2006-01-02 15:04:05"), sig.ScripCode, sig.Direction,
			result.EntryPrice, result.ExitPrice, result.PnL, result.Reason)
	}

	printSummary(results)
}

func loadSignals(path string) ([]model.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var signals []model.Signal
	if err := json.NewDecoder(f).Decode(&signals); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return signals, nil
}

func printSummary(results []model.TradeResult) {
	wins, losses := 0, 0
	for _, r := range results {
		if r.Win() {
			wins++
		} else {
			losses++
		}
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE              ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Signals replayed: %-17d ║\n", len(results))
	fmt.Printf("║  Wins:             %-17d ║\n", wins)
	fmt.Printf("║  Losses:           %-17d ║\n", losses)
	fmt.Println("╚══════════════════════════════════════╝")
}
