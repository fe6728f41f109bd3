package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lora-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/lora-relay/internal/lorawan"
	"github.com/nerrad567/lora-relay/internal/queue"
	"github.com/nerrad567/lora-relay/internal/sender"
)

// Writer is the subset of *influxdb.Client used by the reporter.
type Writer interface {
	WriteTransmission(node, kind string, size int, airtimeSeconds float64, gateways, skipped int, at time.Time)
	WriteQueueDepth(node, class string, length, capacity int, enqueued, dropped uint64, at time.Time)
	WriteDutyCycle(node, gateway, subBand string, usedSeconds, budgetSeconds float64, at time.Time)
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// Sources supplies the state sampled on every report. Nil sources are skipped.
type Sources struct {
	Queues    func() []queue.ClassStats
	Gateways  func() []string
	DutyCycle func(gateway string, now time.Time) []lorawan.SubBandUsage

	// Counters returns monotonically increasing counters keyed by field name.
	Counters func() map[string]uint64
}

// Logger is the logging interface used by the reporter.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Reporter writes relay telemetry: one point per transmission, and a
// periodic snapshot of queues, duty cycle and counters.
//
// All public methods are thread-safe.
type Reporter struct {
	w        Writer
	node     string
	sources  Sources
	interval time.Duration
	now      func() time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// NewReporter returns a reporter tagging every point with node.
func NewReporter(w Writer, node string, sources Sources, interval time.Duration) (*Reporter, error) {
	if w == nil {
		return nil, fmt.Errorf("telemetry: writer is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("telemetry: interval must be positive, got %v", interval)
	}
	return &Reporter{
		w:        w,
		node:     node,
		sources:  sources,
		interval: interval,
		now:      time.Now,
		logger:   noopLogger{},
	}, nil
}

// SetLogger sets the logger. A nil logger disables logging.
func (r *Reporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// RecordTransmission implements sender.Telemetry.
func (r *Reporter) RecordTransmission(tx sender.Transmission) {
	at := tx.SentAt
	if at.IsZero() {
		at = r.now()
	}
	r.w.WriteTransmission(r.node, tx.Kind.String(), tx.Size, tx.Airtime.Seconds(), tx.Sent, tx.Skipped, at)
}

// Report writes one snapshot.
func (r *Reporter) Report() {
	now := r.now()
	points := 0

	if r.sources.Queues != nil {
		for _, q := range r.sources.Queues() {
			r.w.WriteQueueDepth(r.node, q.Class, q.Length, q.Capacity, q.Enqueued, q.Dropped, now)
			points++
		}
	}

	if r.sources.Gateways != nil && r.sources.DutyCycle != nil {
		for _, gw := range r.sources.Gateways() {
			for _, u := range r.sources.DutyCycle(gw, now) {
				r.w.WriteDutyCycle(r.node, gw, u.SubBand, u.Used.Seconds(), u.Budget.Seconds(), now)
				points++
			}
		}
	}

	if r.sources.Counters != nil {
		counters := r.sources.Counters()
		if len(counters) > 0 {
			fields := make(map[string]interface{}, len(counters))
			for k, v := range counters {
				fields[k] = v
			}
			r.w.WritePointWithTime(influxdb.MeasurementCounters, map[string]string{"node": r.node}, fields, now)
			points++
		}
	}

	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	logger.Debug("telemetry reported", "points", points)
}

// Run reports every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Report()
		}
	}
}
