package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/sweep"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id             TEXT PRIMARY KEY,
    symbol         TEXT    NOT NULL,
    mode           TEXT    NOT NULL,
    tp_pct         REAL    NOT NULL,
    prob_threshold REAL    NOT NULL,
    leverage       TEXT    NOT NULL,
    total_trades   INTEGER NOT NULL,
    win_rate       REAL    NOT NULL,
    profit_factor  REAL,
    expectancy     REAL    NOT NULL,
    final_equity   REAL    NOT NULL,
    max_drawdown   REAL    NOT NULL,
    halted         INTEGER NOT NULL DEFAULT 0,
    created_at     TEXT    NOT NULL,
    payload        BLOB    NOT NULL
);

-- One row per trade, for ad-hoc analysis; payload stays authoritative.
CREATE TABLE IF NOT EXISTS trades (
    run_id         TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq            INTEGER NOT NULL,
    entry_time     TEXT    NOT NULL,
    exit_time      TEXT    NOT NULL,
    entry_price    REAL    NOT NULL,
    exit_price     REAL    NOT NULL,
    reason         TEXT    NOT NULL,
    gross_return   REAL    NOT NULL,
    net_return     REAL    NOT NULL,
    pnl            REAL    NOT NULL,
    leverage       REAL    NOT NULL,
    capital_before REAL,
    capital_after  REAL,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS sweep_rows (
    sweep_id      TEXT    NOT NULL,
    seq           INTEGER NOT NULL,
    mode          TEXT    NOT NULL,
    leverage      TEXT    NOT NULL,
    take_profit   REAL    NOT NULL,
    probability   REAL    NOT NULL,
    total_trades  INTEGER NOT NULL,
    win_rate      REAL    NOT NULL,
    profit_factor REAL,
    expectancy    REAL    NOT NULL,
    final_equity  REAL    NOT NULL,
    max_drawdown  REAL    NOT NULL,
    PRIMARY KEY (sweep_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_symbol  ON runs(symbol);
`

// sortableTime is fixed width so text comparison orders chronologically.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(sortableTime) }

// SQLiteStore implements Store on SQLite (pure Go, no cgo).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("results.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("results.NewSQLiteStore: pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("results.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveRun upserts the run and replaces its trade rows in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, r *backtest.Result) error {
	payload, err := encodeResult(r)
	if err != nil {
		return storageErr("results.SaveRun: encode", err)
	}
	sum := Summarize(r)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("results.SaveRun: begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs
			(id, symbol, mode, tp_pct, prob_threshold, leverage, total_trades, win_rate,
			 profit_factor, expectancy, final_equity, max_drawdown, halted, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol         = excluded.symbol,
			mode           = excluded.mode,
			tp_pct         = excluded.tp_pct,
			prob_threshold = excluded.prob_threshold,
			leverage       = excluded.leverage,
			total_trades   = excluded.total_trades,
			win_rate       = excluded.win_rate,
			profit_factor  = excluded.profit_factor,
			expectancy     = excluded.expectancy,
			final_equity   = excluded.final_equity,
			max_drawdown   = excluded.max_drawdown,
			halted         = excluded.halted,
			created_at     = excluded.created_at,
			payload        = excluded.payload`,
		sum.ID, sum.Symbol, string(sum.Mode), sum.TPPct, sum.ProbThreshold, sum.Leverage,
		sum.TotalTrades, sum.WinRate, nullableFloat(sum.ProfitFactor), sum.Expectancy,
		sum.FinalEquity, sum.MaxDrawdown, sum.Halted, formatTime(sum.CreatedAt), payload,
	); err != nil {
		return storageErr("results.SaveRun: upsert run", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE run_id = ?`, r.ID); err != nil {
		return storageErr("results.SaveRun: clear trades", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades
			(run_id, seq, entry_time, exit_time, entry_price, exit_price, reason,
			 gross_return, net_return, pnl, leverage, capital_before, capital_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storageErr("results.SaveRun: prepare", err)
	}
	defer stmt.Close()

	for i, t := range r.Ledger {
		var before, after *float64
		if t.Sizing != nil {
			before, after = &t.Sizing.CapitalBefore, &t.Sizing.CapitalAfter
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, i, formatTime(t.EntryTime), formatTime(t.ExitTime), t.EntryPrice, t.ExitPrice,
			string(t.Reason), t.GrossReturn, t.NetReturn, t.PnL, t.Leverage, before, after,
		); err != nil {
			return storageErr("results.SaveRun: insert trade", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("results.SaveRun: commit", err)
	}
	return nil
}

// GetRun loads a run from its stored payload.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*backtest.Result, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, storageErr("results.GetRun", err)
	}
	r, err := decodeResult(payload)
	if err != nil {
		return nil, storageErr("results.GetRun: decode", err)
	}
	return r, nil
}

func sqliteWhere(f ListFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Mode != "" {
		conds = append(conds, "mode = ?")
		args = append(args, string(f.Mode))
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListRuns returns run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter ListFilter) ([]RunSummary, error) {
	where, args := sqliteWhere(filter)
	query := `SELECT id, symbol, mode, tp_pct, prob_threshold, leverage, total_trades, win_rate,
		profit_factor, expectancy, final_equity, max_drawdown, halted, created_at FROM runs` +
		where + ` ORDER BY created_at DESC, id`
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("results.ListRuns", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var (
			sum     RunSummary
			mode    string
			pf      *float64
			created string
		)
		if err := rows.Scan(&sum.ID, &sum.Symbol, &mode, &sum.TPPct, &sum.ProbThreshold, &sum.Leverage,
			&sum.TotalTrades, &sum.WinRate, &pf, &sum.Expectancy, &sum.FinalEquity, &sum.MaxDrawdown,
			&sum.Halted, &created); err != nil {
			return nil, storageErr("results.ListRuns: scan", err)
		}
		sum.Mode = backtest.Mode(mode)
		sum.ProfitFactor = fromNullable(pf)
		if sum.CreatedAt, err = time.Parse(sortableTime, created); err != nil {
			return nil, storageErr("results.ListRuns: created_at", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("results.ListRuns", err)
	}
	return out, nil
}

// CountRuns counts runs matching the filter.
func (s *SQLiteStore) CountRuns(ctx context.Context, filter ListFilter) (int, error) {
	where, args := sqliteWhere(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&n); err != nil {
		return 0, storageErr("results.CountRuns", err)
	}
	return n, nil
}

// SaveSweep replaces the rows stored under sweepID.
func (s *SQLiteStore) SaveSweep(ctx context.Context, sweepID string, rows []sweep.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("results.SaveSweep: begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sweep_rows WHERE sweep_id = ?`, sweepID); err != nil {
		return storageErr("results.SaveSweep: clear", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sweep_rows
			(sweep_id, seq, mode, leverage, take_profit, probability, total_trades,
			 win_rate, profit_factor, expectancy, final_equity, max_drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storageErr("results.SaveSweep: prepare", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		m := r.Metrics
		if _, err := stmt.ExecContext(ctx, sweepID, i, string(r.Mode), m.Leverage.String(), r.TakeProfit,
			r.Probability, m.TotalTrades, m.WinRate, nullableFloat(m.ProfitFactor), m.Expectancy,
			m.FinalEquity, m.MaxDrawdown); err != nil {
			return storageErr("results.SaveSweep: insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("results.SaveSweep: commit", err)
	}
	return nil
}

// GetSweep returns a sweep's rows in saved order.
func (s *SQLiteStore) GetSweep(ctx context.Context, sweepID string) ([]sweep.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mode, leverage, take_profit, probability, total_trades, win_rate,
		       profit_factor, expectancy, final_equity, max_drawdown
		FROM sweep_rows WHERE sweep_id = ? ORDER BY seq`, sweepID)
	if err != nil {
		return nil, storageErr("results.GetSweep", err)
	}
	defer rows.Close()

	var out []sweep.Row
	for rows.Next() {
		var (
			mode, lev                     string
			tp, prob, wr, exp, equity, dd float64
			trades                        int
			pf                            *float64
		)
		if err := rows.Scan(&mode, &lev, &tp, &prob, &trades, &wr, &pf, &exp, &equity, &dd); err != nil {
			return nil, storageErr("results.GetSweep: scan", err)
		}
		row, err := decodeRow(mode, lev, tp, prob, trades, wr, pf, exp, equity, dd)
		if err != nil {
			return nil, storageErr("results.GetSweep: decode", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("results.GetSweep", err)
	}
	if len(out) == 0 {
		return nil, notFound("sweep", sweepID)
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
