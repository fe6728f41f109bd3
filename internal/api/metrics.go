package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/lora-relay/internal/bridges/chirpstack"
	"github.com/nerrad567/lora-relay/internal/bundle"
	"github.com/nerrad567/lora-relay/internal/cache"
	"github.com/nerrad567/lora-relay/internal/dispatch"
	"github.com/nerrad567/lora-relay/internal/queue"
	"github.com/nerrad567/lora-relay/internal/sender"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	NodeID        string             `json:"node_id"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	WebSocket     WSMetrics          `json:"websocket"`
	MQTT          MQTTMetrics        `json:"mqtt"`
	EndDevices    int                `json:"end_devices"`
	Queues        []queue.ClassStats `json:"queues"`
	Cache         *cache.Stats       `json:"cache,omitempty"`
	Reassembly    *bundle.Stats      `json:"reassembly,omitempty"`
	Gateways      *chirpstack.Stats  `json:"gateways,omitempty"`
	Dispatch      *dispatch.Stats    `json:"dispatch,omitempty"`
	Sender        *sender.Stats      `json:"sender,omitempty"`
	Journal       JournalMetrics     `json:"journal"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// JournalMetrics reports whether the traffic journal is recording.
type JournalMetrics struct {
	Enabled bool `json:"enabled"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		NodeID:        s.nodeID,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		EndDevices: s.registry.Len(),
		Queues:     s.queues.Stats(),
		Journal:    JournalMetrics{Enabled: s.journal != nil},
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}
	if s.cache != nil {
		st := s.cache.Stats()
		metrics.Cache = &st
	}
	if s.reassembler != nil {
		st := s.reassembler.Stats()
		metrics.Reassembly = &st
	}
	if s.gateways != nil {
		st := s.gateways.Stats()
		metrics.Gateways = &st
		metrics.MQTT.Connected = st.Connected
	}
	if s.dispatcher != nil {
		st := s.dispatcher.Stats()
		metrics.Dispatch = &st
	}
	if s.sender != nil {
		st := s.sender.Stats()
		metrics.Sender = &st
	}

	writeJSON(w, http.StatusOK, metrics)
}
