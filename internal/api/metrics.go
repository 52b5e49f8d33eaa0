package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported on /metrics. Each
// Server owns its own registry.
type Metrics struct {
	registry         *prometheus.Registry
	authOutcomes     *prometheus.CounterVec
	presenceSubjects prometheus.Gauge
}

// NewMetrics creates and registers the auth core's collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studysync",
			Subsystem: "auth",
			Name:      "outcomes_total",
			Help:      "Authentication attempts by transport and outcome.",
		}, []string{"transport", "outcome"}),
		presenceSubjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "studysync",
			Name:      "presence_subjects",
			Help:      "Subjects with at least one open realtime connection.",
		}),
	}
	m.registry.MustRegister(
		m.authOutcomes,
		m.presenceSubjects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SystemMetrics represents the JSON status snapshot at /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub and presence statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
	PresentSubjects  int `json:"present_subjects"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystemMetrics returns a JSON status snapshot for dashboards that do
// not scrape Prometheus.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			PresentSubjects:  s.presence.Count(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Configured: true, Connected: s.mqtt.IsConnected()}
	}

	if s.db != nil && s.db.DB != nil {
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
