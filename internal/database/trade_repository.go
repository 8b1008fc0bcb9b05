package database

import (
	"context"
	"fmt"
	"time"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// TradeRepository persists executed trades on the ledger profile.
type TradeRepository struct {
	db *DB
}

// NewTradeRepository creates a repository over db.
func NewTradeRepository(db *DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// SaveTrade appends one executed trade. The ledger is append-only;
// there is no update path.
func (r *TradeRepository) SaveTrade(ctx context.Context, cycleID string, trade *domain.Trade) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (id, cycle_id, symbol, side, quantity, price, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, cycleID, trade.Symbol, trade.Side, trade.Quantity, trade.Price,
		trade.ExecutedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", trade.ID, err)
	}
	return nil
}

// CountSince returns the number of trades executed at or after since.
func (r *TradeRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE executed_at >= ?`, since.UnixMilli(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return count, nil
}

// TradesSince returns trades executed at or after since, newest first.
func (r *TradeRepository) TradesSince(ctx context.Context, since time.Time, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, price, executed_at
		FROM trades WHERE executed_at >= ?
		ORDER BY executed_at DESC LIMIT ?`,
		since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var (
			trade      domain.Trade
			executedAt int64
		)
		if err := rows.Scan(&trade.ID, &trade.Symbol, &trade.Side, &trade.Quantity, &trade.Price, &executedAt); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trade.ExecutedAt = time.UnixMilli(executedAt).UTC()
		trades = append(trades, &trade)
	}
	return trades, rows.Err()
}
