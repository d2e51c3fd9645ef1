package api

import (
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/nerrad567/sqlitetool/internal/store"
)

// SystemMetrics is the body of GET /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string                      `json:"timestamp"`
	Version       string                      `json:"version"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Runtime       RuntimeMetrics              `json:"runtime"`
	WebSocket     WSMetrics                   `json:"websocket"`
	MQTT          *MQTTMetrics                `json:"mqtt,omitempty"`
	Store         StoreMetrics                `json:"store"`
	Operations    map[string]map[string]int64 `json:"operations"`
}

// RuntimeMetrics samples the Go runtime. Memory figures are in MiB.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics is present only when the MQTT transport is running.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// StoreMetrics describes the default store file.
type StoreMetrics struct {
	DefaultPath string `json:"default_path"`
	Exists      bool   `json:"exists"`
	SizeBytes   int64  `json:"size_bytes"`
}

// operationStats counts dispatched operations by op and outcome.
type operationStats struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

func newOperationStats() *operationStats {
	return &operationStats{counts: make(map[string]map[string]int64)}
}

func (o *operationStats) record(op string, env store.Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	byOutcome, ok := o.counts[op]
	if !ok {
		byOutcome = make(map[string]int64)
		o.counts[op] = byOutcome
	}
	byOutcome[env.Outcome()]++
}

func (o *operationStats) snapshot() map[string]map[string]int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]map[string]int64, len(o.counts))
	for op, byOutcome := range o.counts {
		cp := make(map[string]int64, len(byOutcome))
		for k, v := range byOutcome {
			cp[k] = v
		}
		out[op] = cp
	}
	return out
}

// handleMetrics reports process, transport and per-operation counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime:       readRuntime(),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Store:         statStore(s.dispatcher.DefaultPath()),
		Operations:    s.stats.snapshot(),
	}
	if s.broker != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.broker.IsConnected()}
	}
	writeJSON(w, http.StatusOK, metrics)
}

func readRuntime() RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: mebibytes(m.Alloc),
		MemoryTotalMB: mebibytes(m.TotalAlloc),
		NumGC:         m.NumGC,
	}
}

func mebibytes(n uint64) float64 { return float64(n) / (1 << 20) }

// statStore reports whether the default database file exists yet and
// its size on disk.
func statStore(path string) StoreMetrics {
	m := StoreMetrics{DefaultPath: path}
	if info, err := os.Stat(path); err == nil {
		m.Exists = true
		m.SizeBytes = info.Size()
	}
	return m
}
