package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Cameras       CameraMetrics   `json:"cameras"`
	Frontends     FrontendMetrics `json:"frontends"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// CameraMetrics summarises the open devices.
type CameraMetrics struct {
	Open      int    `json:"open"`
	Streaming int    `json:"streaming"`
	Frames    uint64 `json:"frames"`
	Bytes     uint64 `json:"bytes"`
}

// FrontendMetrics summarises the connected frontends.
type FrontendMetrics struct {
	Sessions      int    `json:"sessions"`
	MessagesRx    uint64 `json:"messages_rx"`
	MessagesTx    uint64 `json:"messages_tx"`
	EventsDropped uint64 `json:"events_dropped"`
	Errors        uint64 `json:"errors"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, camera and frontend counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	for _, e := range s.registry.Snapshot() {
		metrics.Cameras.Open++
		if e.Stats.Streaming {
			metrics.Cameras.Streaming++
		}
		metrics.Cameras.Frames += e.Stats.Frames
		metrics.Cameras.Bytes += e.Stats.Bytes
	}

	if s.frontends != nil {
		for _, si := range s.frontends.Sessions() {
			metrics.Frontends.Sessions++
			metrics.Frontends.MessagesRx += si.Transport.MessagesRx
			metrics.Frontends.MessagesTx += si.Transport.MessagesTx
			metrics.Frontends.EventsDropped += si.Transport.EventsDropped
			metrics.Frontends.Errors += si.Transport.ErrorsTotal
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
