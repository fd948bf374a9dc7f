// Package sqlite implements model.TradeRepository on top of a WAL-mode
// SQLite database: a single-writer connection pool with one INSERT per
// trade result, and a best-effort dead-letter table for the
// Error/DLQ path, grounded on the teacher's store/sqlite writer/reader pair.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3"

	"trade-execution-engine/internal/model"
)

const (
	defaultBatchSize  = 50
	defaultFlushDelay = 200 * time.Millisecond
	retentionDays     = 90
)

// Config configures the repository's SQLite connection.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/trades.db"
}

// Repository is a single-writer SQLite-backed model.TradeRepository.
// RecordResult is called synchronously from the Trade Manager's result
// path — unlike the teacher's channel-fed candle writer, there is no
// batching buffer here, since spec §4.7/§4.8 require each terminal result
// durably persisted before the next signal can rely on the repository's
// state (e.g. backtest replay ordering). Batch-oriented DELETE cleanup
// for the retention window is still run on a timer, following the
// teacher's flush-on-timer shape.
type Repository struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens (creating if absent) a WAL-mode SQLite database and ensures
// the schema exists.
func New(cfg Config, log *slog.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info("sqlite repository opened", "path", cfg.DBPath)
	return &Repository{db: db, log: log}, nil
}

// Ping reports whether the database connection is alive, for use as a
// metrics.ProbeFunc.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS backtest_trades (
			trade_id     TEXT    NOT NULL,
			instrument   TEXT    NOT NULL,
			direction    TEXT    NOT NULL,
			entry_price  TEXT    NOT NULL,
			exit_price   TEXT    NOT NULL,
			qty          INTEGER NOT NULL,
			signal_time  INTEGER NOT NULL,
			exited_at    INTEGER NOT NULL,
			status       TEXT    NOT NULL,
			pnl          TEXT    NOT NULL,
			pnl_percent  TEXT    NOT NULL,
			is_partial   INTEGER NOT NULL,
			backtest     INTEGER NOT NULL,
			created_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_backtest_trades_instrument_signal
			ON backtest_trades (instrument, signal_time DESC);

		CREATE INDEX IF NOT EXISTS idx_backtest_trades_status_created
			ON backtest_trades (status, created_at DESC);

		CREATE TABLE IF NOT EXISTS dead_letters (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			payload    BLOB    NOT NULL,
			reason     TEXT    NOT NULL,
			failed_at  INTEGER NOT NULL
		);
	`)
	return err
}

// statusFor derives the backtest_trades status column from a TradeResult,
// mirroring the live model.TradeStatus terminal values (spec §3) so the
// two stores use the same vocabulary.
func statusFor(r model.TradeResult) model.TradeStatus {
	if r.IsPartial {
		return model.StatusPartialExit
	}
	switch r.Reason {
	case model.ExitStopLoss:
		return model.StatusClosedLoss
	case model.ExitMarketClose:
		return model.StatusClosedTime
	case model.ExitCancelled:
		return model.StatusCancelled
	case model.ExitBrokerFailure:
		return model.StatusFailed
	default:
		if r.PnL.IsNegative() {
			return model.StatusClosedLoss
		}
		return model.StatusClosedProfit
	}
}

// RecordResult inserts a terminal or partial TradeResult. signal_time is
// populated from EnteredAt: TradeResult does not carry the originating
// signal's producer timestamp, and the entry time is the closest
// available proxy for the "when did this position's story begin"
// ordering the (instrument, signalTime desc) index exists to serve.
func (r *Repository) RecordResult(ctx context.Context, result model.TradeResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backtest_trades
			(trade_id, instrument, direction, entry_price, exit_price, qty,
			 signal_time, exited_at, status, pnl, pnl_percent, is_partial, backtest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.TradeID, result.ScripCode, string(result.Direction),
		result.EntryPrice.String(), result.ExitPrice.String(), result.Qty,
		result.EnteredAt.Unix(), result.ExitedAt.Unix(), string(statusFor(result)),
		result.PnL.String(), result.PnLPercent.String(), boolToInt(result.IsPartial), boolToInt(result.Backtest),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert backtest_trades: %w", err)
	}
	return nil
}

// RecordDeadLetter persists a dead-lettered payload alongside its failure
// reason, for operator inspection. It is additive to internal/dlq's Redis
// stream write, not a replacement — the stream gives live visibility, this
// table gives durable history beyond the stream's MAXLEN trim window.
func (r *Repository) RecordDeadLetter(ctx context.Context, payload []byte, reason string, failedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dead_letters (payload, reason, failed_at) VALUES (?, ?, ?)`,
		payload, reason, failedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert dead_letters: %w", err)
	}
	return nil
}

// Results returns trades whose exit fell within [from, to), newest first.
func (r *Repository) Results(ctx context.Context, from, to time.Time) ([]model.TradeResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT trade_id, instrument, direction, entry_price, exit_price, qty,
		       signal_time, exited_at, status, pnl, pnl_percent, is_partial, backtest
		FROM backtest_trades
		WHERE exited_at >= ? AND exited_at < ?
		ORDER BY exited_at DESC
	`, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query backtest_trades: %w", err)
	}
	defer rows.Close()

	var results []model.TradeResult
	for rows.Next() {
		var (
			tr                      model.TradeResult
			direction, status       string
			entryPrice, exitPrice   string
			pnl, pnlPercent         string
			signalTime, exitedAt    int64
			isPartial, backtestFlag int
		)
		if err := rows.Scan(&tr.TradeID, &tr.ScripCode, &direction, &entryPrice, &exitPrice, &tr.Qty,
			&signalTime, &exitedAt, &status, &pnl, &pnlPercent, &isPartial, &backtestFlag); err != nil {
			return nil, fmt.Errorf("sqlite scan backtest_trades: %w", err)
		}
		tr.Direction = model.Direction(direction)
		tr.EntryPrice = mustDecimal(entryPrice)
		tr.ExitPrice = mustDecimal(exitPrice)
		tr.EnteredAt = time.Unix(signalTime, 0).UTC()
		tr.ExitedAt = time.Unix(exitedAt, 0).UTC()
		tr.PnL = mustDecimal(pnl)
		tr.PnLPercent = mustDecimal(pnlPercent)
		tr.IsPartial = isPartial != 0
		tr.Backtest = backtestFlag != 0
		results = append(results, tr)
	}
	return results, rows.Err()
}

// RunRetentionSweeper deletes backtest_trades and dead_letters rows older
// than the ~90-day retention window (spec §6) on a fixed interval, since
// SQLite has no native row TTL. Blocks until ctx is cancelled.
func (r *Repository) RunRetentionSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Repository) sweep() {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	if res, err := r.db.Exec(`DELETE FROM backtest_trades WHERE created_at < ?`, cutoff); err != nil {
		r.log.Error("sqlite retention sweep: backtest_trades", "error", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		r.log.Info("sqlite retention sweep", "table", "backtest_trades", "deleted", n)
	}
	if res, err := r.db.Exec(`DELETE FROM dead_letters WHERE failed_at < ?`, cutoff); err != nil {
		r.log.Error("sqlite retention sweep: dead_letters", "error", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		r.log.Info("sqlite retention sweep", "table", "dead_letters", "deleted", n)
	}
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
