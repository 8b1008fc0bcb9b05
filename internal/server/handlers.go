package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/orchestrator"
)

// handleHealth handles liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.orch.IsShutdown() {
		status = "shutdown"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"service":  "quantpulse",
		"recovery": s.orch.RecoveryState(),
	})
}

// handleStatus returns the orchestrator status snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Status())
}

// handleOrchestratorStart re-arms the periodic triggers. Calling it on
// a running orchestrator is a no-op that still reports started.
func (s *Server) handleOrchestratorStart(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Start(r.Context()); err != nil {
		var confErr *orchestrator.ConfigurationError
		if errors.As(err, &confErr) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"started": true})
}

// handleOrchestratorStop disarms the triggers and waits for in-flight
// cycles, bounded by the orchestrator's stop timeout.
func (s *Server) handleOrchestratorStop(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Stop(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"started": false})
}

// handleRunCycle triggers one cycle for a market on demand.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	market := domain.MarketClass(chi.URLParam(r, "market"))

	rec, err := s.orch.RunOnce(r.Context(), market)
	if err != nil {
		var (
			confErr *orchestrator.ConfigurationError
			concErr *orchestrator.ConcurrencyError
			rateErr *orchestrator.RateLimitError
			downErr *orchestrator.ShutdownError
		)
		switch {
		case errors.As(err, &confErr):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, orchestrator.ErrMarketClosed):
			s.writeError(w, http.StatusConflict, "market closed")
		case errors.As(err, &concErr):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &rateErr):
			s.writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.As(err, &downErr):
			// The cycle ran; its failure tripped the shutdown protocol.
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": err.Error(),
				"cycle": rec,
			})
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleRecentCycles lists recent cycle records, optionally filtered by
// market.
func (s *Server) handleRecentCycles(w http.ResponseWriter, r *http.Request) {
	market := domain.MarketClass(r.URL.Query().Get("market"))
	if market != "" && !market.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown market class")
		return
	}

	records, err := s.cycles.RecentCycles(r.Context(), market, queryInt(r, "limit", 20))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load recent cycles")
		s.writeError(w, http.StatusInternalServerError, "failed to load cycles")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cycles": records})
}

// handleCycleStats aggregates cycle outcomes over a trailing window.
func (s *Server) handleCycleStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	since := time.Now().UTC().AddDate(0, 0, -days)

	stats, err := s.cycles.StatsSince(r.Context(), since)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to aggregate cycle stats")
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"days": days, "stats": stats})
}

// handleRecentTrades lists recent executed trades.
func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	trades, err := s.trades.TradesSince(r.Context(), since, queryInt(r, "limit", 50))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load trades")
		s.writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// handlePortfolio returns open positions and the latest valuation.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	positions, err := s.portfolio.Positions(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load positions")
		s.writeError(w, http.StatusInternalServerError, "failed to load positions")
		return
	}

	response := map[string]any{"positions": positions}
	snap, err := s.portfolio.LatestSnapshot(r.Context())
	switch {
	case err == nil:
		response["snapshot"] = snap
	case errors.Is(err, sql.ErrNoRows):
		// no valuation yet
	default:
		s.log.Error().Err(err).Msg("Failed to load portfolio snapshot")
		s.writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleReflection(w http.ResponseWriter, r *http.Request) {
	s.generateReport(w, r, s.reflection, 7)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.generateReport(w, r, s.reporter, 30)
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request, gen ReportGenerator, defaultDays int) {
	report, err := gen.Generate(r.Context(), queryInt(r, "days", defaultDays))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to generate report")
		s.writeError(w, http.StatusInternalServerError, "failed to generate report")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
