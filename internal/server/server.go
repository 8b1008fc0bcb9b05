// Package server provides the HTTP API for QuantPulse.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/database"
	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/events"
	"github.com/quantpulse/quantpulse/internal/orchestrator"
)

// CycleOrchestrator is the orchestrator surface the API exposes.
type CycleOrchestrator interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	RunOnce(ctx context.Context, market domain.MarketClass) (*domain.CycleRecord, error)
	Status() orchestrator.StatusSnapshot
	RecoveryState() orchestrator.RecoveryStateName
	IsShutdown() bool
}

// ReportGenerator generates on-demand reflection and report documents.
type ReportGenerator interface {
	Generate(ctx context.Context, periodDays int) (domain.Report, error)
}

// Config holds server configuration.
type Config struct {
	Log        zerolog.Logger
	Port       int
	DevMode    bool
	Orch       CycleOrchestrator
	Bus        *events.Bus
	Cycles     *database.CycleRepository
	Trades     *database.TradeRepository
	Portfolio  *database.PortfolioRepository
	Reflection ReportGenerator
	Reporter   ReportGenerator
	Databases  []*database.DB
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	orch       CycleOrchestrator
	bus        *events.Bus
	cycles     *database.CycleRepository
	trades     *database.TradeRepository
	portfolio  *database.PortfolioRepository
	reflection ReportGenerator
	reporter   ReportGenerator
	system     *SystemHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		orch:       cfg.Orch,
		bus:        cfg.Bus,
		cycles:     cfg.Cycles,
		trades:     cfg.Trades,
		portfolio:  cfg.Portfolio,
		reflection: cfg.Reflection,
		reporter:   cfg.Reporter,
		system:     NewSystemHandlers(cfg.Log, cfg.Databases),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// SSE stream stays outside the timeout middleware scope.
		streamHandler := NewEventsStreamHandler(s.bus, s.log)
		r.Get("/events/stream", streamHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/status", s.handleStatus)
			r.Post("/orchestrator/start", s.handleOrchestratorStart)
			r.Post("/orchestrator/stop", s.handleOrchestratorStop)
			r.Post("/cycles/run/{market}", s.handleRunCycle)
			r.Get("/cycles", s.handleRecentCycles)
			r.Get("/cycles/stats", s.handleCycleStats)
			r.Get("/trades", s.handleRecentTrades)
			r.Get("/portfolio", s.handlePortfolio)
			r.Post("/reports/reflection", s.handleReflection)
			r.Post("/reports/report", s.handleReport)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.system.HandleSystemStatus)
				r.Get("/database/stats", s.system.HandleDatabaseStats)
			})
		})
	})
}

// Start begins listening. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the configured routes, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
