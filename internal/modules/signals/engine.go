// Package signals turns indicator features into trading signals.
package signals

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// Voting thresholds. Oversold/overbought bounds are the conventional
// RSI levels; the z-score bound flags statistically unusual moves
// against the symbol's own recent distribution.
const (
	rsiOversold   = 30.0
	rsiOverbought = 70.0
	zScoreBound   = 2.0
	returnWindow  = 50
	minSamples    = 10
)

// Engine generates signals by majority vote of three detectors: RSI
// bounds, MACD histogram direction, and return z-score mean reversion.
type Engine struct {
	log zerolog.Logger

	mu      sync.Mutex
	returns map[string][]float64
	latest  map[string]domain.Signal
}

// NewEngine creates an engine with no accumulated state.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log:     log.With().Str("component", "signals").Logger(),
		returns: make(map[string][]float64),
		latest:  make(map[string]domain.Signal),
	}
}

// Generate produces exactly one signal per feature set; symbols without
// a clear vote get a hold.
func (e *Engine) Generate(ctx context.Context, features []domain.FeatureSet) ([]domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	signals := make([]domain.Signal, 0, len(features))
	for _, fs := range features {
		score := 0

		if rsi, ok := fs.Features["rsi_14"]; ok {
			switch {
			case rsi < rsiOversold:
				score++
			case rsi > rsiOverbought:
				score--
			}
		}

		if hist, ok := fs.Features["macd_hist"]; ok {
			if hist > 0 {
				score++
			} else if hist < 0 {
				score--
			}
		}

		if ret, ok := fs.Features["return_1"]; ok {
			window := append(e.returns[fs.Symbol], ret)
			if len(window) > returnWindow {
				window = window[len(window)-returnWindow:]
			}
			e.returns[fs.Symbol] = window

			if z, ok := zScore(window, ret); ok {
				// Mean reversion: fade statistically extreme moves.
				if z < -zScoreBound {
					score++
				} else if z > zScoreBound {
					score--
				}
			}
		}

		action := domain.SignalHold
		if score > 0 {
			action = domain.SignalBuy
		} else if score < 0 {
			action = domain.SignalSell
		}

		confidence := 0.5 + 0.15*absInt(score)
		if confidence > 0.95 {
			confidence = 0.95
		}

		sig := domain.Signal{
			ID:         uuid.NewString(),
			Symbol:     fs.Symbol,
			Action:     action,
			Confidence: confidence,
			Price:      fs.Features["price"],
			CreatedAt:  now,
		}
		e.latest[fs.Symbol] = sig
		signals = append(signals, sig)
	}
	return signals, nil
}

// Latest returns the most recent signal per requested symbol, up to
// limit. Symbols never signalled are omitted.
func (e *Engine) Latest(ctx context.Context, symbols []string, limit int) ([]domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = len(symbols)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Signal, 0, limit)
	for _, sym := range symbols {
		if sig, ok := e.latest[sym]; ok {
			out = append(out, sig)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func zScore(window []float64, v float64) (float64, bool) {
	if len(window) < minSamples {
		return 0, false
	}
	mean, std := stat.MeanStdDev(window, nil)
	if std == 0 {
		return 0, false
	}
	return (v - mean) / std, true
}

func absInt(n int) float64 {
	if n < 0 {
		n = -n
	}
	return float64(n)
}
