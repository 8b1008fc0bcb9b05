// Package execution turns approved signals into simulated orders.
package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/database"
	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/modules/portfolio"
)

const (
	// defaultMinConfidence rejects weak signals before sizing.
	defaultMinConfidence = 0.6

	// defaultRiskFraction caps each order at a fraction of portfolio value.
	defaultRiskFraction = 0.02
)

// Engine is a paper-trading execution engine. Orders settle instantly
// at the signal price; fills and position changes go through the
// portfolio store, and every fill is journaled in the trade ledger.
type Engine struct {
	portfolio *portfolio.Store
	trades    *database.TradeRepository
	log       zerolog.Logger

	minConfidence float64
	riskFraction  float64
}

// NewEngine creates an engine with default policy thresholds.
func NewEngine(store *portfolio.Store, trades *database.TradeRepository, log zerolog.Logger) *Engine {
	return &Engine{
		portfolio:     store,
		trades:        trades,
		log:           log.With().Str("component", "execution").Logger(),
		minConfidence: defaultMinConfidence,
		riskFraction:  defaultRiskFraction,
	}
}

// EvaluateAndExecute applies the execution policy to one signal and, if
// it passes, settles a simulated order. A nil trade with a nil error
// means the signal was declined by policy.
func (e *Engine) EvaluateAndExecute(ctx context.Context, sig domain.Signal, analysis *domain.Analysis, portfolioValue float64) (*domain.Trade, error) {
	if sig.Action == domain.SignalHold {
		return nil, nil
	}
	if sig.Price <= 0 {
		return nil, fmt.Errorf("signal %s has non-positive price %.4f", sig.ID, sig.Price)
	}

	if reason := e.decline(sig, analysis); reason != "" {
		e.log.Debug().
			Str("symbol", sig.Symbol).
			Str("action", string(sig.Action)).
			Str("reason", reason).
			Msg("signal declined")
		return nil, nil
	}

	qty, err := e.size(ctx, sig, portfolioValue)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, nil
	}

	trade := &domain.Trade{
		ID:         uuid.NewString(),
		Symbol:     sig.Symbol,
		Side:       string(sig.Action),
		Quantity:   qty,
		Price:      sig.Price,
		ExecutedAt: time.Now().UTC(),
	}

	if err := e.portfolio.ApplyTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("settle %s %s: %w", trade.Side, trade.Symbol, err)
	}
	if err := e.trades.SaveTrade(ctx, "", trade); err != nil {
		// The position already moved; losing the journal row is not
		// worth failing the cycle over.
		e.log.Warn().Err(err).Str("trade", trade.ID).Msg("trade journal write failed")
	}

	e.log.Info().
		Str("symbol", trade.Symbol).
		Str("side", trade.Side).
		Float64("quantity", trade.Quantity).
		Float64("price", trade.Price).
		Msg("trade executed")
	return trade, nil
}

// decline returns a non-empty reason when policy rejects the signal.
func (e *Engine) decline(sig domain.Signal, analysis *domain.Analysis) string {
	if sig.Confidence < e.minConfidence {
		return fmt.Sprintf("confidence %.2f below %.2f", sig.Confidence, e.minConfidence)
	}
	if analysis != nil {
		verdict := strings.ToLower(analysis.Verdict)
		if verdict == "reject" || verdict == "avoid" {
			return "reasoner verdict " + verdict
		}
	}
	return ""
}

// size computes the order quantity. Buys are capped by both the risk
// fraction and available cash; sells are capped by the open position.
func (e *Engine) size(ctx context.Context, sig domain.Signal, portfolioValue float64) (float64, error) {
	switch sig.Action {
	case domain.SignalBuy:
		budget := portfolioValue * e.riskFraction
		if cash := e.portfolio.Cash(); cash < budget {
			budget = cash
		}
		return budget / sig.Price, nil

	case domain.SignalSell:
		held, err := e.portfolio.PositionQuantity(ctx, sig.Symbol)
		if err != nil {
			return 0, fmt.Errorf("load position %s: %w", sig.Symbol, err)
		}
		qty := portfolioValue * e.riskFraction / sig.Price
		if qty > held {
			qty = held
		}
		return qty, nil

	default:
		return 0, nil
	}
}
