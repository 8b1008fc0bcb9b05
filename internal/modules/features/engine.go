// Package features derives technical indicators from price history.
package features

import (
	"context"
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// Indicator periods. RSI and MACD use their conventional defaults; the
// moving averages are short enough to produce values within a day of
// cycles.
const (
	rsiPeriod   = 14
	smaPeriod   = 20
	emaPeriod   = 12
	macdFast    = 12
	macdSlow    = 26
	macdSignal  = 9
	historySize = 200
)

// Engine accumulates a rolling price window per symbol and computes
// indicator features from it. Early cycles with short history emit the
// subset of features that is computable.
type Engine struct {
	log zerolog.Logger

	mu      sync.Mutex
	history map[string][]float64
}

// NewEngine creates an engine with empty history.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log:     log.With().Str("component", "features").Logger(),
		history: make(map[string][]float64),
	}
}

// Compute appends the latest prices to each symbol's window and derives
// its features.
func (e *Engine) Compute(ctx context.Context, symbols []string, points []domain.PricePoint) ([]domain.FeatureSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	latest := make(map[string]domain.PricePoint, len(points))
	for _, p := range points {
		latest[p.Symbol] = p
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sets := make([]domain.FeatureSet, 0, len(symbols))
	for _, sym := range symbols {
		point, ok := latest[sym]
		if !ok {
			// Symbol missing from this batch; features from history only.
			e.log.Debug().Str("symbol", sym).Msg("No fresh price, computing from history")
		} else {
			e.history[sym] = appendBounded(e.history[sym], point.Price, historySize)
		}

		closes := e.history[sym]
		if len(closes) == 0 {
			continue
		}

		features := map[string]float64{
			"price": closes[len(closes)-1],
		}
		if ok {
			features["volume"] = point.Volume
		}

		if rsi := lastValid(talib.Rsi(closes, rsiPeriod)); rsi != nil {
			features["rsi_14"] = *rsi
		}
		if sma := lastValid(talib.Sma(closes, smaPeriod)); sma != nil {
			features["sma_20"] = *sma
		}
		if ema := lastValid(talib.Ema(closes, emaPeriod)); ema != nil {
			features["ema_12"] = *ema
			features["ema_distance"] = (closes[len(closes)-1] - *ema) / *ema
		}
		if len(closes) > macdSlow+macdSignal {
			macd, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
			if v := lastValid(macd); v != nil {
				features["macd"] = *v
			}
			if v := lastValid(signal); v != nil {
				features["macd_signal"] = *v
			}
			if v := lastValid(hist); v != nil {
				features["macd_hist"] = *v
			}
		}
		if len(closes) >= 2 {
			prev := closes[len(closes)-2]
			if prev != 0 {
				features["return_1"] = (closes[len(closes)-1] - prev) / prev
			}
		}

		sets = append(sets, domain.FeatureSet{Symbol: sym, Features: features})
	}
	return sets, nil
}

// Seed preloads price history, used at startup to warm indicators from
// persisted data.
func (e *Engine) Seed(symbol string, closes []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range closes {
		e.history[symbol] = appendBounded(e.history[symbol], c, historySize)
	}
}

// HistoryLen reports the accumulated window size for a symbol.
func (e *Engine) HistoryLen(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history[symbol])
}

func appendBounded(window []float64, v float64, max int) []float64 {
	window = append(window, v)
	if len(window) > max {
		window = window[len(window)-max:]
	}
	return window
}

func lastValid(values []float64) *float64 {
	for i := len(values) - 1; i >= 0; i-- {
		v := values[i]
		if v == v && v != 0 { // skip NaN and talib's zero padding
			return &v
		}
	}
	return nil
}
