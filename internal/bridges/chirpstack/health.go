package chirpstack

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthStatus is the bridge state published on the health topic.
type HealthStatus string

// Health states.
const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

const defaultHealthInterval = 30 * time.Second

// HealthMessage is the retained JSON document on the health topic.
type HealthMessage struct {
	NodeID        string       `json:"node_id"`
	Version       string       `json:"version"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Bridge        Stats        `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
}

// HealthPublisher publishes health messages, typically the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	NodeID    string
	Version   string
	Topic     string
	Interval  time.Duration
	Publisher HealthPublisher
}

// HealthReporter publishes the bridge's health periodically as a retained
// message.
type HealthReporter struct {
	nodeID    string
	version   string
	topic     string
	interval  time.Duration
	publisher HealthPublisher
	startTime time.Time

	source   *Bridge
	sourceMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		nodeID:    cfg.NodeID,
		version:   cfg.Version,
		topic:     cfg.Topic,
		interval:  interval,
		publisher: cfg.Publisher,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

func (h *HealthReporter) setSource(b *Bridge) {
	h.sourceMu.Lock()
	h.source = b
	h.sourceMu.Unlock()
}

// Start publishes an initial status and then reports every interval until
// ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status. Safe to call
// more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	h.sourceMu.RLock()
	source := h.source
	h.sourceMu.RUnlock()
	if source != nil && source.Gateways().Len() == 0 {
		return HealthDegraded, "no known gateways"
	}
	return HealthHealthy, ""
}

// Message builds the health document for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		NodeID:        h.nodeID,
		Version:       h.version,
		Status:        status,
		Reason:        reason,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC(),
	}

	h.sourceMu.RLock()
	source := h.source
	h.sourceMu.RUnlock()
	if source != nil {
		msg.Bridge = source.Stats()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.publisher == nil || h.topic == "" {
		return nil
	}

	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
