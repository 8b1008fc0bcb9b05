package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// CycleRepository persists and queries cycle records.
type CycleRepository struct {
	db *DB
}

// NewCycleRepository creates a repository over db.
func NewCycleRepository(db *DB) *CycleRepository {
	return &CycleRepository{db: db}
}

// Name identifies the repository in dependency diagnostics.
func (r *CycleRepository) Name() string { return "cycle_store" }

// HealthCheck pings the underlying database.
func (r *CycleRepository) HealthCheck(ctx context.Context) error {
	return r.db.QuickCheck(ctx)
}

// SaveCycleRecord upserts a cycle record at terminal status.
func (r *CycleRepository) SaveCycleRecord(ctx context.Context, rec *domain.CycleRecord) error {
	symbols, err := json.Marshal(rec.Symbols)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}
	errs, err := json.Marshal(rec.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	timings, err := json.Marshal(rec.PhaseTimings)
	if err != nil {
		return fmt.Errorf("marshal phase timings: %w", err)
	}

	var completedAt sql.NullInt64
	if !rec.CompletedAt.IsZero() {
		completedAt = sql.NullInt64{Int64: rec.CompletedAt.UnixMilli(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cycles (
			id, market, started_at, completed_at, phase, status, symbols,
			signals_generated, trades_executed, errors, phase_timings,
			portfolio_delta, daily_pnl
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			phase = excluded.phase,
			status = excluded.status,
			signals_generated = excluded.signals_generated,
			trades_executed = excluded.trades_executed,
			errors = excluded.errors,
			phase_timings = excluded.phase_timings,
			portfolio_delta = excluded.portfolio_delta,
			daily_pnl = excluded.daily_pnl`,
		rec.ID, string(rec.Market), rec.StartedAt.UnixMilli(), completedAt,
		string(rec.Phase), string(rec.Status), string(symbols),
		rec.SignalsGenerated, rec.TradesExecuted, string(errs), string(timings),
		rec.PortfolioDelta, rec.DailyPnL,
	)
	if err != nil {
		return fmt.Errorf("save cycle %s: %w", rec.ID, err)
	}
	return nil
}

// RecentCycles returns the latest cycles for a market, newest first.
// An empty market returns cycles across both classes.
func (r *CycleRepository) RecentCycles(ctx context.Context, market domain.MarketClass, limit int) ([]*domain.CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, market, started_at, completed_at, phase, status, symbols,
		       signals_generated, trades_executed, errors, phase_timings,
		       portfolio_delta, daily_pnl
		FROM cycles`
	args := []interface{}{}
	if market != "" {
		query += " WHERE market = ?"
		args = append(args, string(market))
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent cycles: %w", err)
	}
	defer rows.Close()

	var records []*domain.CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneBefore deletes cycle records started before the cutoff and
// returns how many were removed.
func (r *CycleRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cycles WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune cycles: %w", err)
	}
	return res.RowsAffected()
}

// CycleStats aggregates cycle outcomes for the reporting period.
type CycleStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Trades    int `json:"trades"`
	Signals   int `json:"signals"`
}

// StatsSince aggregates cycles started at or after since.
func (r *CycleRepository) StatsSince(ctx context.Context, since time.Time) (CycleStats, error) {
	var stats CycleStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(trades_executed), 0),
		       COALESCE(SUM(signals_generated), 0)
		FROM cycles WHERE started_at >= ?`,
		string(domain.StatusSuccess), string(domain.StatusFailed), since.UnixMilli(),
	).Scan(&stats.Total, &stats.Succeeded, &stats.Failed, &stats.Trades, &stats.Signals)
	if err != nil {
		return CycleStats{}, fmt.Errorf("aggregate cycle stats: %w", err)
	}
	return stats, nil
}

func scanCycle(rows *sql.Rows) (*domain.CycleRecord, error) {
	var (
		rec         domain.CycleRecord
		market      string
		phase       string
		status      string
		startedAt   int64
		completedAt sql.NullInt64
		symbols     string
		errs        sql.NullString
		timings     sql.NullString
	)

	if err := rows.Scan(
		&rec.ID, &market, &startedAt, &completedAt, &phase, &status, &symbols,
		&rec.SignalsGenerated, &rec.TradesExecuted, &errs, &timings,
		&rec.PortfolioDelta, &rec.DailyPnL,
	); err != nil {
		return nil, fmt.Errorf("scan cycle row: %w", err)
	}

	rec.Market = domain.MarketClass(market)
	rec.Phase = domain.Phase(phase)
	rec.Status = domain.CycleStatus(status)
	rec.StartedAt = time.UnixMilli(startedAt).UTC()
	if completedAt.Valid {
		rec.CompletedAt = time.UnixMilli(completedAt.Int64).UTC()
	}

	if err := json.Unmarshal([]byte(symbols), &rec.Symbols); err != nil {
		return nil, fmt.Errorf("unmarshal symbols for cycle %s: %w", rec.ID, err)
	}
	if errs.Valid && errs.String != "null" {
		if err := json.Unmarshal([]byte(errs.String), &rec.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors for cycle %s: %w", rec.ID, err)
		}
	}
	if timings.Valid && timings.String != "null" {
		if err := json.Unmarshal([]byte(timings.String), &rec.PhaseTimings); err != nil {
			return nil, fmt.Errorf("unmarshal phase timings for cycle %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
