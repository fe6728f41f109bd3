package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lora-relay/internal/bridges/chirpstack"
	"github.com/nerrad567/lora-relay/internal/cache"
	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/journal"
	"github.com/nerrad567/lora-relay/internal/lorawan"
	"github.com/nerrad567/lora-relay/internal/queue"
)

// Logger is the logging interface used by the sender and announcer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Flooder publishes one PHY payload to every known gateway.
// *chirpstack.Bridge satisfies it.
type Flooder interface {
	Flood(phy []byte, params lorawan.Params, power int32, admit func(gateway string) error) (chirpstack.FloodResult, error)
}

// Journal records transmitted frames. *journal.Journal satisfies it.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Transmission describes one flooded frame.
type Transmission struct {
	Kind     frame.Kind
	Source   uint32
	Size     int
	Airtime  time.Duration
	Sent     int
	Skipped  int
	Failed   int
	QueuedAt time.Time
	SentAt   time.Time
}

// Telemetry receives a Transmission for every frame that reached at least
// one gateway.
type Telemetry interface {
	RecordTransmission(t Transmission)
}

// Options configures a Sender.
type Options struct {
	Queues  *queue.Set
	Cache   *cache.Cache
	Flooder Flooder

	// DutyCycle gates each gateway. Nil disables the check.
	DutyCycle *lorawan.DutyCycle

	Interval time.Duration
	TxPower  int32

	// Optional.
	Journal   Journal
	Telemetry Telemetry
	Now       func() time.Time
}

// Stats counts scheduler activity since start.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Idle         uint64 `json:"idle"`
	FramesSent   uint64 `json:"frames_sent"`
	DutyDropped  uint64 `json:"duty_cycle_dropped"`
	NoGateway    uint64 `json:"no_gateway_dropped"`
	Failed       uint64 `json:"failed"`
	BundlesSent  uint64 `json:"bundles_sent"`
	PendingFrags int    `json:"pending_fragments"`
}

// Sender drains the queues at a fixed pace, one frame per tick.
//
// A multi-frame item (a bundle) is sent one fragment per tick. A queued
// announcement is sent ahead of the remaining fragments, after which the
// bundle resumes where it stopped.
//
// All public methods are thread-safe.
type Sender struct {
	queues    *queue.Set
	cache     *cache.Cache
	flooder   Flooder
	duty      *lorawan.DutyCycle
	interval  time.Duration
	power     int32
	journal   Journal
	telemetry Telemetry
	now       func() time.Time

	mu      sync.Mutex
	current *queue.Item
	cursor  int

	ticks, idle, sent, dutyDropped, noGateway, failed, bundles atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New validates opts and returns a Sender.
func New(opts Options) (*Sender, error) {
	switch {
	case opts.Queues == nil:
		return nil, fmt.Errorf("sender: queues are required")
	case opts.Cache == nil:
		return nil, fmt.Errorf("sender: cache is required")
	case opts.Flooder == nil:
		return nil, fmt.Errorf("sender: flooder is required")
	case opts.Interval <= 0:
		return nil, fmt.Errorf("sender: interval must be positive, got %v", opts.Interval)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Sender{
		queues:    opts.Queues,
		cache:     opts.Cache,
		flooder:   opts.Flooder,
		duty:      opts.DutyCycle,
		interval:  opts.Interval,
		power:     opts.TxPower,
		journal:   opts.Journal,
		telemetry: opts.Telemetry,
		now:       now,
		logger:    noopLogger{},
	}, nil
}

// SetLogger sets the logger. A nil logger disables logging.
func (s *Sender) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Sender) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Run calls Tick every interval until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log().Info("send scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log().Info("send scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick sends at most one frame. It reports whether a frame was taken from
// the queues, whether or not any gateway accepted it.
func (s *Sender) Tick(ctx context.Context) bool {
	s.ticks.Add(1)

	s.mu.Lock()
	f, item, ok := s.take()
	s.mu.Unlock()
	if !ok {
		s.idle.Add(1)
		return false
	}

	s.transmit(ctx, f, item)
	return true
}

// take returns the next frame to send. Callers hold s.mu.
func (s *Sender) take() (*frame.Frame, *queue.Item, bool) {
	if s.current != nil {
		if ann, ok := s.queues.Dequeue(frame.KindAnnouncement); ok {
			return ann.Frames[0], ann, true
		}
		return s.advance()
	}

	item, ok := s.queues.Next()
	if !ok {
		return nil, nil, false
	}
	if len(item.Frames) > 1 {
		s.current, s.cursor = item, 0
		return s.advance()
	}
	if item.Class == frame.KindBundle {
		s.bundles.Add(1)
	}
	return item.Frames[0], item, true
}

func (s *Sender) advance() (*frame.Frame, *queue.Item, bool) {
	item := s.current
	f := item.Frames[s.cursor]
	s.cursor++
	if s.cursor == len(item.Frames) {
		s.current, s.cursor = nil, 0
		if item.Class == frame.KindBundle {
			s.bundles.Add(1)
		}
	}
	return f, item, true
}

func (s *Sender) transmit(ctx context.Context, f *frame.Frame, item *queue.Item) {
	logger := s.log()
	params := item.Params
	phy := f.Marshal()
	// Relay frames go out with normal polarity and carry a payload CRC.
	airtime := lorawan.Airtime(params, len(phy), true)
	now := s.now()

	var admit func(string) error
	if s.duty != nil {
		admit = func(gateway string) error {
			return s.duty.Reserve(gateway, params.Frequency, airtime, now)
		}
	}

	result, err := s.flooder.Flood(phy, params, s.power, admit)
	if s.duty != nil {
		for _, gw := range result.Failed {
			s.duty.Release(gw, params.Frequency, airtime, now)
		}
	}
	switch {
	case errors.Is(err, chirpstack.ErrNoGateways):
		s.noGateway.Add(1)
		logger.Warn("dropping frame: no known gateways", "kind", f.Kind.String(), "source", f.Source)
		return
	case err != nil:
		s.failed.Add(1)
		logger.Error("flood failed", "kind", f.Kind.String(), "source", f.Source, "error", err)
		return
	case len(result.Sent) == 0 && len(result.Skipped) > 0 && len(result.Failed) == 0:
		s.dutyDropped.Add(1)
		logger.Warn("dropping frame: duty cycle exhausted on every gateway",
			"kind", f.Kind.String(), "source", f.Source, "airtime", airtime, "gateways", len(result.Skipped))
		return
	case len(result.Sent) == 0:
		s.failed.Add(1)
		logger.Warn("frame not delivered to any gateway", "kind", f.Kind.String(), "source", f.Source, "failed", result.Failed)
		return
	}

	fp := f.Fingerprint()
	s.cache.MarkSeen(fp)
	s.sent.Add(1)
	logger.Debug("frame sent",
		"kind", f.Kind.String(),
		"source", f.Source,
		"size", len(phy),
		"airtime", airtime,
		"gateways", len(result.Sent),
		"skipped", len(result.Skipped))

	s.record(ctx, f, fp, result.Sent, now)
	if s.telemetry != nil {
		s.telemetry.RecordTransmission(Transmission{
			Kind:     f.Kind,
			Source:   f.Source,
			Size:     len(phy),
			Airtime:  airtime,
			Sent:     len(result.Sent),
			Skipped:  len(result.Skipped),
			Failed:   len(result.Failed),
			QueuedAt: item.EnqueuedAt,
			SentAt:   now,
		})
	}
}

func (s *Sender) record(ctx context.Context, f *frame.Frame, fp frame.Fingerprint, gateways []string, at time.Time) {
	if s.journal == nil {
		return
	}
	for _, gw := range gateways {
		err := s.journal.Record(ctx, journal.Entry{
			Direction:   journal.DirectionDown,
			Kind:        f.Kind.String(),
			Source:      fmt.Sprintf("%08x", f.Source),
			Gateway:     gw,
			Size:        f.Len(),
			Fingerprint: fp.String(),
			CreatedAt:   at,
		})
		if err != nil {
			s.log().Warn("journal record failed", "error", err)
			return
		}
	}
}

// Stats returns scheduler counters.
func (s *Sender) Stats() Stats {
	s.mu.Lock()
	pending := 0
	if s.current != nil {
		pending = len(s.current.Frames) - s.cursor
	}
	s.mu.Unlock()

	return Stats{
		Ticks:        s.ticks.Load(),
		Idle:         s.idle.Load(),
		FramesSent:   s.sent.Load(),
		DutyDropped:  s.dutyDropped.Load(),
		NoGateway:    s.noGateway.Load(),
		Failed:       s.failed.Load(),
		BundlesSent:  s.bundles.Load(),
		PendingFrags: pending,
	}
}
