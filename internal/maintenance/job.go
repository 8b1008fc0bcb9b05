// Package maintenance runs periodic database housekeeping: integrity
// checks, WAL checkpoints, cycle-history retention, and disk space
// monitoring.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/quantpulse/quantpulse/internal/database"
)

const (
	// dailySpec runs maintenance in the quiet hours between sessions.
	dailySpec = "0 2 * * *"

	// minFreeGB halts maintenance with an error below this threshold.
	minFreeGB = 0.5
)

// Job performs daily maintenance across the configured databases.
type Job struct {
	databases     []*database.DB
	cycles        *database.CycleRepository
	dataDir       string
	retentionDays int
	log           zerolog.Logger

	cron *cron.Cron
}

// NewJob creates a maintenance job. Cycle records older than
// retentionDays are pruned on each run.
func NewJob(databases []*database.DB, cycles *database.CycleRepository, dataDir string, retentionDays int, log zerolog.Logger) *Job {
	return &Job{
		databases:     databases,
		cycles:        cycles,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "daily_maintenance").Logger(),
		cron:          cron.New(),
	}
}

// Start schedules the daily run.
func (j *Job) Start() error {
	_, err := j.cron.AddFunc(dailySpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := j.Run(ctx); err != nil {
			j.log.Error().Err(err).Msg("Daily maintenance failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop cancels the schedule and waits for a running job to finish.
func (j *Job) Stop() {
	<-j.cron.Stop().Done()
}

// Run executes one maintenance pass.
func (j *Job) Run(ctx context.Context) error {
	j.log.Info().Msg("Starting daily maintenance")
	start := time.Now()

	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("integrity check failed for %s: %w", db.Name(), err)
		}
	}

	// Checkpoint failures are not fatal; the next run retries.
	for _, db := range j.databases {
		if err := db.WALCheckpoint(""); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	if j.retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays)
		pruned, err := j.cycles.PruneBefore(ctx, cutoff)
		if err != nil {
			j.log.Warn().Err(err).Msg("Cycle history pruning failed")
		} else if pruned > 0 {
			j.log.Info().Int64("pruned", pruned).Msg("Old cycle records removed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("Daily maintenance completed")
	return nil
}

// checkDiskSpace errors when free space under the data directory drops
// below the critical threshold.
func (j *Job) checkDiskSpace() error {
	usage, err := disk.Usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("stat filesystem: %w", err)
	}

	freeGB := float64(usage.Free) / 1e9
	j.log.Debug().Float64("free_gb", freeGB).Msg("Disk space check")

	if freeGB < minFreeGB {
		return fmt.Errorf("only %.2f GB free under %s", freeGB, j.dataDir)
	}
	return nil
}
