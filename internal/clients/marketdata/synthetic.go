package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// SyntheticSource generates plausible price series without any network
// dependency. Used in dev mode and as the data source for local tests
// of the full pipeline.
type SyntheticSource struct {
	log zerolog.Logger

	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

// NewSyntheticSource creates a deterministic-per-seed synthetic source.
func NewSyntheticSource(seed int64, log zerolog.Logger) *SyntheticSource {
	return &SyntheticSource{
		log:    log.With().Str("client", "synthetic_data").Logger(),
		prices: make(map[string]float64),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Fetch returns a random-walk step for each symbol. Base prices are
// derived from the symbol name so series are stable across runs.
func (s *SyntheticSource) Fetch(ctx context.Context, symbols []string, market domain.MarketClass) ([]domain.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	points := make([]domain.PricePoint, 0, len(symbols))
	for _, sym := range symbols {
		price, ok := s.prices[sym]
		if !ok {
			price = basePrice(sym)
		}

		// Bounded random walk, about 0.5% a step.
		price *= 1 + (s.rng.Float64()-0.5)*0.01
		price = math.Max(price, 0.01)
		s.prices[sym] = price

		points = append(points, domain.PricePoint{
			Symbol:    sym,
			Price:     price,
			Volume:    1000 + s.rng.Float64()*9000,
			Timestamp: now,
		})
	}
	return points, nil
}

// Name identifies the source in dependency diagnostics.
func (s *SyntheticSource) Name() string { return "synthetic_data" }

// HealthCheck always succeeds; there is nothing to reach.
func (s *SyntheticSource) HealthCheck(ctx context.Context) error { return ctx.Err() }

func basePrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 20 + float64(h.Sum32()%4800)/10
}
