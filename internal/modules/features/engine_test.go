package features

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/quantpulse/internal/domain"
)

func point(symbol string, price float64) domain.PricePoint {
	return domain.PricePoint{
		Symbol:    symbol,
		Price:     price,
		Volume:    1000,
		Timestamp: time.Now().UTC(),
	}
}

func TestComputeFirstObservation(t *testing.T) {
	e := NewEngine(zerolog.Nop())

	sets, err := e.Compute(context.Background(), []string{"AAPL"}, []domain.PricePoint{point("AAPL", 150)})
	require.NoError(t, err)
	require.Len(t, sets, 1)

	assert.Equal(t, "AAPL", sets[0].Symbol)
	assert.Equal(t, 150.0, sets[0].Features["price"])
	assert.Equal(t, 1000.0, sets[0].Features["volume"])

	// One observation is not enough for any derived indicator.
	assert.NotContains(t, sets[0].Features, "rsi_14")
	assert.NotContains(t, sets[0].Features, "sma_20")
	assert.NotContains(t, sets[0].Features, "return_1")
}

func TestComputeIndicatorsAppearWithHistory(t *testing.T) {
	e := NewEngine(zerolog.Nop())

	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	e.Seed("AAPL", closes)

	sets, err := e.Compute(context.Background(), []string{"AAPL"}, []domain.PricePoint{point("AAPL", 141)})
	require.NoError(t, err)
	require.Len(t, sets, 1)

	f := sets[0].Features
	assert.Contains(t, f, "rsi_14")
	assert.Contains(t, f, "sma_20")
	assert.Contains(t, f, "ema_12")
	assert.Contains(t, f, "ema_distance")
	assert.Contains(t, f, "macd")
	assert.Contains(t, f, "macd_signal")
	assert.Contains(t, f, "macd_hist")

	// A monotonically rising series pins RSI at the top of its range.
	assert.Greater(t, f["rsi_14"], 70.0)
	// Price sits above its trailing SMA in an uptrend.
	assert.Greater(t, f["price"], f["sma_20"])
	assert.InDelta(t, (141.0-140.0)/140.0, f["return_1"], 1e-9)
}

func TestComputeSymbolMissingFromBatch(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	e.Seed("MSFT", []float64{300, 301, 302})

	sets, err := e.Compute(context.Background(), []string{"MSFT", "NVDA"}, nil)
	require.NoError(t, err)

	// NVDA has no history at all and is skipped entirely; MSFT falls
	// back to its seeded window without a volume feature.
	require.Len(t, sets, 1)
	assert.Equal(t, "MSFT", sets[0].Symbol)
	assert.Equal(t, 302.0, sets[0].Features["price"])
	assert.NotContains(t, sets[0].Features, "volume")
	assert.Contains(t, sets[0].Features, "return_1")
}

func TestHistoryWindowBounded(t *testing.T) {
	e := NewEngine(zerolog.Nop())

	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = float64(i)
	}
	e.Seed("BTC-USD", closes)

	assert.Equal(t, historySize, e.HistoryLen("BTC-USD"))

	_, err := e.Compute(context.Background(), []string{"BTC-USD"}, []domain.PricePoint{point("BTC-USD", 250)})
	require.NoError(t, err)
	assert.Equal(t, historySize, e.HistoryLen("BTC-USD"))
}

func TestComputeCancelledContext(t *testing.T) {
	e := NewEngine(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Compute(ctx, []string{"AAPL"}, []domain.PricePoint{point("AAPL", 150)})
	assert.ErrorIs(t, err, context.Canceled)
}
