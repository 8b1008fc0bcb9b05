// Package reflection produces periodic performance summaries from the
// cycle and trade history.
package reflection

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/database"
	"github.com/quantpulse/quantpulse/internal/domain"
)

// Generator aggregates cycle outcomes and trade activity over a lookback
// window into a Report. The same generator serves both the short
// reflection cadence and the longer report cadence; only the period
// passed to Generate differs.
type Generator struct {
	cycles *database.CycleRepository
	trades *database.TradeRepository
	log    zerolog.Logger

	kind string
}

// NewGenerator creates a generator. Kind labels the output in logs and
// summaries, e.g. "reflection" or "report".
func NewGenerator(kind string, cycles *database.CycleRepository, trades *database.TradeRepository, log zerolog.Logger) *Generator {
	return &Generator{
		cycles: cycles,
		trades: trades,
		log:    log.With().Str("component", kind).Logger(),
		kind:   kind,
	}
}

// Generate builds a report over the trailing periodDays.
func (g *Generator) Generate(ctx context.Context, periodDays int) (domain.Report, error) {
	if periodDays <= 0 {
		return domain.Report{}, fmt.Errorf("period must be positive, got %d", periodDays)
	}

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -periodDays)

	stats, err := g.cycles.StatsSince(ctx, since)
	if err != nil {
		return domain.Report{}, fmt.Errorf("cycle stats: %w", err)
	}
	tradeCount, err := g.trades.CountSince(ctx, since)
	if err != nil {
		return domain.Report{}, fmt.Errorf("trade history: %w", err)
	}

	report := domain.Report{
		PeriodDays:  periodDays,
		Cycles:      stats.Total,
		Trades:      tradeCount,
		WinRate:     winRate(stats),
		GeneratedAt: now,
	}
	report.Summary = fmt.Sprintf(
		"%s over %dd: %d cycles (%d ok, %d failed), %d signals, %d trades, %.0f%% cycle success",
		g.kind, periodDays, stats.Total, stats.Succeeded, stats.Failed,
		stats.Signals, tradeCount, report.WinRate*100,
	)

	g.log.Info().
		Int("period_days", periodDays).
		Int("cycles", stats.Total).
		Int("trades", tradeCount).
		Float64("win_rate", report.WinRate).
		Msg("report generated")
	return report, nil
}

func winRate(stats database.CycleStats) float64 {
	if stats.Total == 0 {
		return 0
	}
	return float64(stats.Succeeded) / float64(stats.Total)
}
