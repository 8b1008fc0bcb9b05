// Package main is the entry point for the QuantPulse trading cycle
// orchestrator. It wires the databases, market data and reasoning
// clients, the domain engines, and the orchestrator itself, then serves
// the HTTP API until a shutdown signal arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/clients/marketdata"
	"github.com/quantpulse/quantpulse/internal/clients/reasoning"
	"github.com/quantpulse/quantpulse/internal/config"
	"github.com/quantpulse/quantpulse/internal/database"
	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/events"
	"github.com/quantpulse/quantpulse/internal/maintenance"
	"github.com/quantpulse/quantpulse/internal/modules/execution"
	"github.com/quantpulse/quantpulse/internal/modules/features"
	"github.com/quantpulse/quantpulse/internal/modules/portfolio"
	"github.com/quantpulse/quantpulse/internal/modules/reflection"
	"github.com/quantpulse/quantpulse/internal/modules/signals"
	"github.com/quantpulse/quantpulse/internal/orchestrator"
	"github.com/quantpulse/quantpulse/internal/scheduler"
	"github.com/quantpulse/quantpulse/internal/server"
	"github.com/quantpulse/quantpulse/internal/snapshot"
	"github.com/quantpulse/quantpulse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting QuantPulse")

	// Databases. Cycle history tolerates the standard profile; the
	// trade ledger and portfolio state fsync on every write.
	cyclesDB, err := database.Open(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cycles.db"),
		Profile: database.ProfileStandard,
		Name:    "cycles",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cycles database")
	}
	defer cyclesDB.Close()

	ledgerDB, err := database.Open(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	for _, db := range []*database.DB{cyclesDB, ledgerDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to migrate database")
		}
	}

	cycleRepo := database.NewCycleRepository(cyclesDB)
	tradeRepo := database.NewTradeRepository(ledgerDB)
	portfolioRepo := database.NewPortfolioRepository(ledgerDB)

	// Portfolio and execution.
	portfolioStore, err := portfolio.NewStore(portfolioRepo, cfg.InitialCash, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize portfolio store")
	}
	executionEngine := execution.NewEngine(portfolioStore, tradeRepo, log)

	// Market data. Dev mode swaps the tiered HTTP client for a
	// deterministic synthetic source.
	var dataSource orchestrator.DataSource
	var dataHealth orchestrator.HealthChecker
	if cfg.DevMode {
		synthetic := marketdata.NewSyntheticSource(time.Now().UnixNano(), log)
		dataSource = synthetic
		dataHealth = synthetic
		log.Warn().Msg("Dev mode: using synthetic market data")
	} else {
		client := marketdata.NewClient([]string{cfg.MarketDataURL}, log)
		dataSource = client
		dataHealth = client
	}
	trackedSource := portfolio.NewPriceTrackingSource(dataSource, portfolioStore)

	reasoner := reasoning.NewClient(cfg.ReasoningServiceURL, log)
	featureEngine := features.NewEngine(log)
	signalEngine := signals.NewEngine(log)
	reflectionGen := reflection.NewGenerator("reflection", cycleRepo, tradeRepo, log)
	reportGen := reflection.NewGenerator("report", cycleRepo, tradeRepo, log)

	// Post-mortem snapshots, mirrored to a bucket when configured.
	var uploader snapshot.Uploader
	if cfg.SnapshotBucket != "" {
		s3up, err := snapshot.NewS3Uploader(context.Background(), cfg.SnapshotBucket, cfg.SnapshotEndpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Snapshot bucket unavailable, keeping snapshots local only")
		} else {
			uploader = s3up
		}
	}
	snapshotWriter, err := snapshot.NewWriter(cfg.DataDir, uploader, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize snapshot writer")
	}

	bus := events.NewBus()
	logEventActivity(bus, log)

	equityCal := scheduler.NewEquityCalendar(log)
	cryptoCal := scheduler.NewCryptoCalendar()

	orch := orchestrator.New(orchestrator.Options{
		Config: cfg,
		Collaborators: orchestrator.Collaborators{
			Data:       trackedSource,
			Features:   featureEngine,
			Signals:    signalEngine,
			Reasoner:   reasoner,
			Execution:  executionEngine,
			Portfolio:  portfolioStore,
			Reflection: reflectionGen,
			Reporter:   reportGen,
			Store:      cycleRepo,
			Diagnostics: []orchestrator.HealthChecker{
				dataHealth,
				reasoner,
				cycleRepo,
			},
		},
		Scheduler: scheduler.New(log),
		Bus:       bus,
		Clock:     orchestrator.NewRealClock(),
		Snapshots: snapshotWriter,
		Gates: map[domain.MarketClass]orchestrator.MarketGate{
			domain.MarketEquity: equityCal.IsOpen,
			domain.MarketCrypto: cryptoCal.IsOpen,
		},
		Log: log,
	})

	if err := orch.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start orchestrator")
	}
	log.Info().
		Str("equity_interval", cfg.Equity.Interval.String()).
		Str("crypto_interval", cfg.Crypto.Interval.String()).
		Msg("Orchestrator started")

	srv := server.New(server.Config{
		Log:        log,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		Orch:       orch,
		Bus:        bus,
		Cycles:     cycleRepo,
		Trades:     tradeRepo,
		Portfolio:  portfolioRepo,
		Reflection: reflectionGen,
		Reporter:   reportGen,
		Databases:  []*database.DB{cyclesDB, ledgerDB},
	})

	maintenanceJob := maintenance.NewJob(
		[]*database.DB{cyclesDB, ledgerDB},
		cycleRepo,
		cfg.DataDir,
		cfg.CycleRetentionDays,
		log,
	)
	if err := maintenanceJob.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule maintenance")
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	maintenanceJob.Stop()
	if err := orch.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Orchestrator stop timed out")
	}

	log.Info().Msg("QuantPulse stopped")
}

// logEventActivity mirrors lifecycle events into the log so operators
// can follow cycles without an SSE client attached.
func logEventActivity(bus *events.Bus, log zerolog.Logger) {
	eventLog := log.With().Str("component", "events").Logger()

	bus.Subscribe(events.CycleFailed, func(e *events.Event) {
		if d, ok := e.Data.(*events.CycleFailedData); ok {
			eventLog.Warn().
				Str("cycle_id", d.CycleID).
				Str("market", d.Market).
				Str("phase", d.Phase).
				Str("error", d.Error).
				Msg("Cycle failed")
		}
	})
	bus.Subscribe(events.EmergencyEntered, func(e *events.Event) {
		if d, ok := e.Data.(*events.EmergencyData); ok {
			eventLog.Error().
				Int("total_errors", d.TotalErrors).
				Float64("health_score", d.HealthScore).
				Msg("Emergency mode entered")
		}
	})
	bus.Subscribe(events.EmergencyCleared, func(e *events.Event) {
		eventLog.Info().Msg("Emergency mode cleared")
	})
	bus.Subscribe(events.ShutdownTriggered, func(e *events.Event) {
		if d, ok := e.Data.(*events.ShutdownData); ok {
			eventLog.Error().
				Int("total_errors", d.TotalErrors).
				Str("reason", d.Reason).
				Str("snapshot", d.SnapshotPath).
				Msg("Emergency shutdown triggered")
		}
	})
}
