package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// Position is one open holding.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// PortfolioRepository persists positions and periodic value snapshots.
type PortfolioRepository struct {
	db *DB
}

// NewPortfolioRepository creates a repository over db.
func NewPortfolioRepository(db *DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// Positions returns all open positions.
func (r *PortfolioRepository) Positions(ctx context.Context) ([]Position, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT symbol, quantity, avg_cost FROM positions WHERE quantity != 0`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AvgCost); err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ApplyTrade adjusts the position for one executed trade inside a
// transaction. Buys raise quantity and re-average cost; sells reduce
// quantity and leave the cost basis untouched.
func (r *PortfolioRepository) ApplyTrade(ctx context.Context, trade *domain.Trade) error {
	return WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		var (
			quantity float64
			avgCost  float64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT quantity, avg_cost FROM positions WHERE symbol = ?`,
			trade.Symbol,
		).Scan(&quantity, &avgCost)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read position %s: %w", trade.Symbol, err)
		}

		switch trade.Side {
		case string(domain.SignalBuy):
			total := quantity + trade.Quantity
			if total > 0 {
				avgCost = (quantity*avgCost + trade.Quantity*trade.Price) / total
			}
			quantity = total
		case string(domain.SignalSell):
			quantity -= trade.Quantity
			if quantity < 0 {
				return fmt.Errorf("sell %s exceeds position", trade.Symbol)
			}
		default:
			return fmt.Errorf("unknown trade side %q", trade.Side)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO positions (symbol, quantity, avg_cost) VALUES (?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET
				quantity = excluded.quantity,
				avg_cost = excluded.avg_cost`,
			trade.Symbol, quantity, avgCost,
		)
		if err != nil {
			return fmt.Errorf("update position %s: %w", trade.Symbol, err)
		}
		return nil
	})
}

// SaveSnapshot records the portfolio value at a point in time.
func (r *PortfolioRepository) SaveSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (total_value, cash, daily_pnl, taken_at)
		VALUES (?, ?, ?, ?)`,
		snap.TotalValue, snap.Cash, snap.DailyPnL, snap.TakenAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save portfolio snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot, or sql.ErrNoRows
// when none has been taken yet.
func (r *PortfolioRepository) LatestSnapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	var (
		snap    domain.PortfolioSnapshot
		takenAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT total_value, cash, daily_pnl, taken_at
		FROM portfolio_snapshots ORDER BY taken_at DESC LIMIT 1`,
	).Scan(&snap.TotalValue, &snap.Cash, &snap.DailyPnL, &takenAt)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	snap.TakenAt = time.UnixMilli(takenAt).UTC()
	return snap, nil
}

// FirstSnapshotSince returns the earliest snapshot taken at or after t,
// used as the baseline for daily P&L.
func (r *PortfolioRepository) FirstSnapshotSince(ctx context.Context, t time.Time) (domain.PortfolioSnapshot, error) {
	var (
		snap    domain.PortfolioSnapshot
		takenAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT total_value, cash, daily_pnl, taken_at
		FROM portfolio_snapshots WHERE taken_at >= ?
		ORDER BY taken_at ASC LIMIT 1`,
		t.UnixMilli(),
	).Scan(&snap.TotalValue, &snap.Cash, &snap.DailyPnL, &takenAt)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	snap.TakenAt = time.UnixMilli(takenAt).UTC()
	return snap, nil
}
