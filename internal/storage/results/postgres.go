package results

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/sweep"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id             TEXT PRIMARY KEY,
    symbol         TEXT             NOT NULL,
    mode           TEXT             NOT NULL,
    tp_pct         DOUBLE PRECISION NOT NULL,
    prob_threshold DOUBLE PRECISION NOT NULL,
    leverage       TEXT             NOT NULL,
    total_trades   INTEGER          NOT NULL,
    win_rate       DOUBLE PRECISION NOT NULL,
    profit_factor  DOUBLE PRECISION,
    expectancy     DOUBLE PRECISION NOT NULL,
    final_equity   DOUBLE PRECISION NOT NULL,
    max_drawdown   DOUBLE PRECISION NOT NULL,
    halted         BOOLEAN          NOT NULL DEFAULT FALSE,
    created_at     TIMESTAMPTZ      NOT NULL,
    payload        JSONB            NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    run_id         TEXT             NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq            INTEGER          NOT NULL,
    entry_time     TIMESTAMPTZ      NOT NULL,
    exit_time      TIMESTAMPTZ      NOT NULL,
    entry_price    DOUBLE PRECISION NOT NULL,
    exit_price     DOUBLE PRECISION NOT NULL,
    reason         TEXT             NOT NULL,
    gross_return   DOUBLE PRECISION NOT NULL,
    net_return     DOUBLE PRECISION NOT NULL,
    pnl            DOUBLE PRECISION NOT NULL,
    leverage       DOUBLE PRECISION NOT NULL,
    capital_before DOUBLE PRECISION,
    capital_after  DOUBLE PRECISION,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS sweep_rows (
    sweep_id      TEXT             NOT NULL,
    seq           INTEGER          NOT NULL,
    mode          TEXT             NOT NULL,
    leverage      TEXT             NOT NULL,
    take_profit   DOUBLE PRECISION NOT NULL,
    probability   DOUBLE PRECISION NOT NULL,
    total_trades  INTEGER          NOT NULL,
    win_rate      DOUBLE PRECISION NOT NULL,
    profit_factor DOUBLE PRECISION,
    expectancy    DOUBLE PRECISION NOT NULL,
    final_equity  DOUBLE PRECISION NOT NULL,
    max_drawdown  DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (sweep_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
`

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SaveRun upserts the run and replaces its trades atomically.
func (s *PostgresStore) SaveRun(ctx context.Context, r *backtest.Result) error {
	payload, err := encodeResult(r)
	if err != nil {
		return storageErr("results.SaveRun: encode", err)
	}
	sum := Summarize(r)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("results.SaveRun: begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO runs
			(id, symbol, mode, tp_pct, prob_threshold, leverage, total_trades, win_rate,
			 profit_factor, expectancy, final_equity, max_drawdown, halted, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			symbol = EXCLUDED.symbol, mode = EXCLUDED.mode, tp_pct = EXCLUDED.tp_pct,
			prob_threshold = EXCLUDED.prob_threshold, leverage = EXCLUDED.leverage,
			total_trades = EXCLUDED.total_trades, win_rate = EXCLUDED.win_rate,
			profit_factor = EXCLUDED.profit_factor, expectancy = EXCLUDED.expectancy,
			final_equity = EXCLUDED.final_equity, max_drawdown = EXCLUDED.max_drawdown,
			halted = EXCLUDED.halted, created_at = EXCLUDED.created_at, payload = EXCLUDED.payload`,
		sum.ID, sum.Symbol, string(sum.Mode), sum.TPPct, sum.ProbThreshold, sum.Leverage,
		sum.TotalTrades, sum.WinRate, nullableFloat(sum.ProfitFactor), sum.Expectancy,
		sum.FinalEquity, sum.MaxDrawdown, sum.Halted, sum.CreatedAt, payload,
	); err != nil {
		return storageErr("results.SaveRun: upsert run", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM trades WHERE run_id = $1`, r.ID); err != nil {
		return storageErr("results.SaveRun: clear trades", err)
	}
	batch := &pgx.Batch{}
	for i, t := range r.Ledger {
		var before, after *float64
		if t.Sizing != nil {
			before, after = &t.Sizing.CapitalBefore, &t.Sizing.CapitalAfter
		}
		batch.Queue(`
			INSERT INTO trades
				(run_id, seq, entry_time, exit_time, entry_price, exit_price, reason,
				 gross_return, net_return, pnl, leverage, capital_before, capital_after)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			r.ID, i, t.EntryTime, t.ExitTime, t.EntryPrice, t.ExitPrice, string(t.Reason),
			t.GrossReturn, t.NetReturn, t.PnL, t.Leverage, before, after)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return storageErr("results.SaveRun: insert trades", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("results.SaveRun: commit", err)
	}
	return nil
}

// GetRun loads a run from its payload.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*backtest.Result, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM runs WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
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

func postgresWhere(f ListFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.Mode != "" {
		add("mode = $%d", string(f.Mode))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListRuns returns run summaries, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter ListFilter) ([]RunSummary, error) {
	where, args := postgresWhere(filter)
	query := `SELECT id, symbol, mode, tp_pct, prob_threshold, leverage, total_trades, win_rate,
		profit_factor, expectancy, final_equity, max_drawdown, halted, created_at FROM runs` +
		where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("results.ListRuns", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var (
			sum  RunSummary
			mode string
			pf   *float64
		)
		if err := rows.Scan(&sum.ID, &sum.Symbol, &mode, &sum.TPPct, &sum.ProbThreshold, &sum.Leverage,
			&sum.TotalTrades, &sum.WinRate, &pf, &sum.Expectancy, &sum.FinalEquity, &sum.MaxDrawdown,
			&sum.Halted, &sum.CreatedAt); err != nil {
			return nil, storageErr("results.ListRuns: scan", err)
		}
		sum.Mode = backtest.Mode(mode)
		sum.ProfitFactor = fromNullable(pf)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("results.ListRuns", err)
	}
	return out, nil
}

// CountRuns counts runs matching the filter.
func (s *PostgresStore) CountRuns(ctx context.Context, filter ListFilter) (int, error) {
	where, args := postgresWhere(filter)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&n); err != nil {
		return 0, storageErr("results.CountRuns", err)
	}
	return n, nil
}

// SaveSweep replaces the rows stored under sweepID.
func (s *PostgresStore) SaveSweep(ctx context.Context, sweepID string, rows []sweep.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("results.SaveSweep: begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sweep_rows WHERE sweep_id = $1`, sweepID); err != nil {
		return storageErr("results.SaveSweep: clear", err)
	}
	batch := &pgx.Batch{}
	for i, r := range rows {
		m := r.Metrics
		batch.Queue(`
			INSERT INTO sweep_rows
				(sweep_id, seq, mode, leverage, take_profit, probability, total_trades,
				 win_rate, profit_factor, expectancy, final_equity, max_drawdown)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			sweepID, i, string(r.Mode), m.Leverage.String(), r.TakeProfit, r.Probability, m.TotalTrades,
			m.WinRate, nullableFloat(m.ProfitFactor), m.Expectancy, m.FinalEquity, m.MaxDrawdown)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return storageErr("results.SaveSweep: insert", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("results.SaveSweep: commit", err)
	}
	return nil
}

// GetSweep returns a sweep's rows in saved order.
func (s *PostgresStore) GetSweep(ctx context.Context, sweepID string) ([]sweep.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT mode, leverage, take_profit, probability, total_trades, win_rate,
		       profit_factor, expectancy, final_equity, max_drawdown
		FROM sweep_rows WHERE sweep_id = $1 ORDER BY seq`, sweepID)
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

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
