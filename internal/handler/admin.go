package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"stocksync-api/internal/model"
	"stocksync-api/pkg/response"
)

// StatsSource reports inventory store statistics.
type StatsSource interface {
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// SyncStatus exposes the state of the sync pipeline.
type SyncStatus interface {
	Running() bool
	LastReport() *model.SyncReport
}

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	inventory StatsSource
	sync      SyncStatus
	dbType    string // sqlite, postgres, or mongodb
	cacheType string // memory or redis
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(inventory StatsSource, sync SyncStatus, dbType, cacheType string) *AdminHandler {
	return &AdminHandler{
		inventory: inventory,
		sync:      sync,
		dbType:    dbType,
		cacheType: cacheType,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["db_type"] = h.dbType
	stats["cache_type"] = h.cacheType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.inventory != nil {
		invStats, err := h.inventory.Stats(r.Context())
		if err == nil {
			invStats["status"] = "connected"
			stats["inventory"] = invStats
		} else {
			stats["inventory"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	if h.sync != nil {
		syncStats := map[string]interface{}{"running": h.sync.Running()}
		if last := h.sync.LastReport(); last != nil {
			syncStats["last_run"] = last
		}
		stats["sync"] = syncStats
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
