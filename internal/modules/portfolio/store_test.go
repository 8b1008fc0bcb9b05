package portfolio

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/quantpulse/internal/database"
	"github.com/quantpulse/quantpulse/internal/domain"
)

const startingCash = 100_000.0

func setupRepo(t *testing.T) *database.PortfolioRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:    filepath.Join(t.TempDir(), "portfolio.db"),
		Profile: database.ProfileLedger,
		Name:    "portfolio-test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return database.NewPortfolioRepository(db)
}

func newTestStore(t *testing.T, repo *database.PortfolioRepository) *Store {
	t.Helper()
	store, err := NewStore(repo, startingCash, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func trade(symbol string, side domain.SignalAction, qty, price float64) *domain.Trade {
	return &domain.Trade{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       string(side),
		Quantity:   qty,
		Price:      price,
		ExecutedAt: time.Now().UTC(),
	}
}

func TestApplyTradeMovesCash(t *testing.T) {
	repo := setupRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	require.NoError(t, store.ApplyTrade(ctx, trade("AAPL", domain.SignalBuy, 10, 100)))
	assert.Equal(t, startingCash-1000, store.Cash())

	held, err := store.PositionQuantity(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 10.0, held)

	require.NoError(t, store.ApplyTrade(ctx, trade("AAPL", domain.SignalSell, 4, 110)))
	assert.Equal(t, startingCash-1000+440, store.Cash())

	held, err = store.PositionQuantity(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 6.0, held)
}

func TestApplyTradeInsufficientCash(t *testing.T) {
	repo := setupRepo(t)
	store, err := NewStore(repo, 500, zerolog.Nop())
	require.NoError(t, err)

	err = store.ApplyTrade(context.Background(), trade("AAPL", domain.SignalBuy, 10, 100))
	assert.ErrorContains(t, err, "insufficient cash")
	assert.Equal(t, 500.0, store.Cash())
}

func TestApplyTradeUnknownSide(t *testing.T) {
	repo := setupRepo(t)
	store := newTestStore(t, repo)

	bad := trade("AAPL", domain.SignalBuy, 1, 100)
	bad.Side = "short"
	assert.ErrorContains(t, store.ApplyTrade(context.Background(), bad), "unknown trade side")
}

func TestSnapshotValuesAtMarketPrices(t *testing.T) {
	repo := setupRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	require.NoError(t, store.ApplyTrade(ctx, trade("AAPL", domain.SignalBuy, 10, 100)))
	store.UpdatePrices([]domain.PricePoint{{Symbol: "AAPL", Price: 110}})

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, startingCash-1000, snap.Cash)
	assert.InDelta(t, startingCash-1000+10*110, snap.TotalValue, 1e-9)
	assert.Equal(t, map[string]float64{"AAPL": 10}, snap.Positions)
	assert.Equal(t, 0.0, snap.DailyPnL)
}

func TestSnapshotDailyPnLAgainstFirstOfDay(t *testing.T) {
	repo := setupRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	require.NoError(t, store.ApplyTrade(ctx, trade("AAPL", domain.SignalBuy, 10, 100)))

	first, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.DailyPnL)

	store.UpdatePrices([]domain.PricePoint{{Symbol: "AAPL", Price: 120}})
	second, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, second.DailyPnL, 1e-9)
}

func TestCashResumesFromPersistedSnapshot(t *testing.T) {
	repo := setupRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	require.NoError(t, store.ApplyTrade(ctx, trade("AAPL", domain.SignalBuy, 10, 100)))
	_, err := store.Snapshot(ctx)
	require.NoError(t, err)

	resumed, err := NewStore(repo, startingCash, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, startingCash-1000, resumed.Cash())
}

func TestSnapshotFallsBackToCostBasis(t *testing.T) {
	repo := setupRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	require.NoError(t, store.ApplyTrade(ctx, trade("AAPL", domain.SignalBuy, 10, 100)))
	_, err := store.Snapshot(ctx)
	require.NoError(t, err)

	// A restarted store has positions but no price cache yet; the
	// cost basis stands in until the next fetch.
	resumed, err := NewStore(repo, startingCash, zerolog.Nop())
	require.NoError(t, err)

	snap, err := resumed.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, startingCash-1000+10*100, snap.TotalValue, 1e-9)
}

type staticSource struct {
	points []domain.PricePoint
}

func (s *staticSource) Fetch(_ context.Context, _ []string, _ domain.MarketClass) ([]domain.PricePoint, error) {
	return s.points, nil
}

func TestPriceTrackingSource(t *testing.T) {
	repo := setupRepo(t)
	store := newTestStore(t, repo)
	ctx := context.Background()

	require.NoError(t, store.ApplyTrade(ctx, trade("AAPL", domain.SignalBuy, 10, 100)))

	src := NewPriceTrackingSource(&staticSource{
		points: []domain.PricePoint{{Symbol: "AAPL", Price: 150}},
	}, store)

	points, err := src.Fetch(ctx, []string{"AAPL"}, domain.MarketEquity)
	require.NoError(t, err)
	require.Len(t, points, 1)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, startingCash-1000+10*150, snap.TotalValue, 1e-9)
}
