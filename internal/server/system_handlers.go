package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quantpulse/quantpulse/internal/database"
)

// SystemHandlers serves process and host level monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	databases   []*database.DB
}

// NewSystemHandlers creates system handlers over the given databases.
func NewSystemHandlers(log zerolog.Logger, databases []*database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		databases:   databases,
	}
}

// HandleSystemStatus returns host and process statistics.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.systemStats()

	writeJSON(h.log, w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"cpu_percent":    cpuPercent,
		"ram_percent":    ramPercent,
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
	})
}

// HandleDatabaseStats returns size and page statistics per database.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]any, len(h.databases))
	for _, db := range h.databases {
		dbStats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to collect database stats")
			stats[db.Name()] = map[string]string{"error": err.Error()}
			continue
		}
		stats[db.Name()] = dbStats
	}
	writeJSON(h.log, w, http.StatusOK, map[string]any{"databases": stats})
}

// systemStats samples CPU and memory usage, returning zeros when the
// host does not expose them.
func (h *SystemHandlers) systemStats() (float64, float64) {
	var cpuAvg float64
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Debug().Err(err).Msg("Failed to sample CPU usage")
	} else if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Debug().Err(err).Msg("Failed to sample memory usage")
		return cpuAvg, 0
	}
	return cpuAvg, memStat.UsedPercent
}

func writeJSON(log zerolog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
