// Package portfolio maintains paper-trading portfolio state: cash,
// positions, and periodic valuation snapshots.
package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/database"
	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/orchestrator"
)

// Store values the portfolio against the most recent market prices.
// Positions and snapshots persist in SQLite; the price cache and cash
// balance live in memory and are rebuilt on restart.
type Store struct {
	repo *database.PortfolioRepository
	log  zerolog.Logger

	mu     sync.Mutex
	cash   float64
	prices map[string]float64
}

// NewStore creates a store. Cash resumes from the latest persisted
// snapshot, falling back to initialCash on a fresh database.
func NewStore(repo *database.PortfolioRepository, initialCash float64, log zerolog.Logger) (*Store, error) {
	s := &Store{
		repo:   repo,
		log:    log.With().Str("component", "portfolio").Logger(),
		cash:   initialCash,
		prices: make(map[string]float64),
	}

	latest, err := repo.LatestSnapshot(context.Background())
	switch {
	case err == nil:
		s.cash = latest.Cash
	case errors.Is(err, sql.ErrNoRows):
		// fresh database
	default:
		return nil, fmt.Errorf("load latest portfolio snapshot: %w", err)
	}
	return s, nil
}

// UpdatePrices refreshes the valuation cache from a fetched batch.
func (s *Store) UpdatePrices(points []domain.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.prices[p.Symbol] = p.Price
	}
}

// Cash returns the current cash balance.
func (s *Store) Cash() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// PositionQuantity returns the open quantity for a symbol, zero when
// flat.
func (s *Store) PositionQuantity(ctx context.Context, symbol string) (float64, error) {
	positions, err := s.repo.Positions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p.Quantity, nil
		}
	}
	return 0, nil
}

// ApplyTrade settles one executed trade: cash moves, the position is
// adjusted, and the trade's price refreshes the valuation cache.
func (s *Store) ApplyTrade(ctx context.Context, trade *domain.Trade) error {
	cost := trade.Quantity * trade.Price

	s.mu.Lock()
	switch trade.Side {
	case string(domain.SignalBuy):
		if cost > s.cash {
			s.mu.Unlock()
			return fmt.Errorf("insufficient cash for %s: need %.2f, have %.2f", trade.Symbol, cost, s.cash)
		}
	case string(domain.SignalSell):
		// Position sufficiency is enforced by the repository.
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown trade side %q", trade.Side)
	}
	s.mu.Unlock()

	if err := s.repo.ApplyTrade(ctx, trade); err != nil {
		return err
	}

	s.mu.Lock()
	if trade.Side == string(domain.SignalBuy) {
		s.cash -= cost
	} else {
		s.cash += cost
	}
	s.prices[trade.Symbol] = trade.Price
	s.mu.Unlock()
	return nil
}

// Snapshot values the portfolio at current prices, persists the result,
// and returns it. Daily P&L is measured against the first snapshot of
// the current UTC day.
func (s *Store) Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	positions, err := s.repo.Positions(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("load positions: %w", err)
	}

	s.mu.Lock()
	cash := s.cash
	total := cash
	held := make(map[string]float64, len(positions))
	for _, p := range positions {
		price, ok := s.prices[p.Symbol]
		if !ok {
			// No market price seen yet; cost basis is the best estimate.
			price = p.AvgCost
		}
		total += p.Quantity * price
		held[p.Symbol] = p.Quantity
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	snap := domain.PortfolioSnapshot{
		TotalValue: total,
		Cash:       cash,
		Positions:  held,
		TakenAt:    now,
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	baseline, err := s.repo.FirstSnapshotSince(ctx, midnight)
	switch {
	case err == nil:
		snap.DailyPnL = total - baseline.TotalValue
	case errors.Is(err, sql.ErrNoRows):
		// first snapshot of the day
	default:
		return domain.PortfolioSnapshot{}, fmt.Errorf("load daily baseline: %w", err)
	}

	if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}
	return snap, nil
}

// PriceTrackingSource decorates a data source so every successful fetch
// refreshes the portfolio's valuation cache.
type PriceTrackingSource struct {
	inner orchestrator.DataSource
	store *Store
}

// NewPriceTrackingSource wraps src with price tracking into store.
func NewPriceTrackingSource(src orchestrator.DataSource, store *Store) *PriceTrackingSource {
	return &PriceTrackingSource{inner: src, store: store}
}

// Fetch delegates to the wrapped source and records prices on success.
func (p *PriceTrackingSource) Fetch(ctx context.Context, symbols []string, market domain.MarketClass) ([]domain.PricePoint, error) {
	points, err := p.inner.Fetch(ctx, symbols, market)
	if err != nil {
		return nil, err
	}
	p.store.UpdatePrices(points)
	return points, nil
}
