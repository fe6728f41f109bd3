package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lora-relay/internal/bridges/chirpstack"
	"github.com/nerrad567/lora-relay/internal/bundle"
	"github.com/nerrad567/lora-relay/internal/cache"
	"github.com/nerrad567/lora-relay/internal/enddevice"
	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/journal"
	"github.com/nerrad567/lora-relay/internal/lorawan"
	"github.com/nerrad567/lora-relay/internal/queue"
)

// Outcome is what HandleUplink did with one frame.
type Outcome string

// Outcomes.
const (
	OutcomeMalformed      Outcome = "malformed"
	OutcomeUnknownPrefix  Outcome = "unknown_prefix"
	OutcomeFiltered       Outcome = "filtered"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeRelayed        Outcome = "relayed"
	OutcomeFragment       Outcome = "fragment_buffered"
	OutcomeBundle         Outcome = "bundle_completed"
	OutcomeAnnouncement   Outcome = "announcement"
	OutcomeBackpressure   Outcome = "backpressure"
	OutcomeRejectedBundle Outcome = "bundle_rejected"
	OutcomeOversize       Outcome = "oversize"
)

// Logger is the logging interface used by the dispatcher.
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

// Journal records accepted uplinks. *journal.Journal satisfies it.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options wires a Dispatcher to the shared relay services.
type Options struct {
	Prefixes    frame.Prefixes
	Registry    *enddevice.Registry
	Cache       *cache.Cache
	Reassembler *bundle.Reassembler
	Queues      *queue.Set

	// Defaults replace uplink radio parameters that are not valid for
	// downlinks, such as frequencies outside the relay channel plan.
	Defaults lorawan.Params

	// Observer receives local deliveries. Optional.
	Observer Observer

	// Journal records accepted frames. Optional.
	Journal Journal
}

// Stats counts outcomes since start.
type Stats struct {
	Received      uint64 `json:"received"`
	Malformed     uint64 `json:"malformed"`
	UnknownPrefix uint64 `json:"unknown_prefix"`
	Filtered      uint64 `json:"filtered"`
	Duplicates    uint64 `json:"duplicates"`
	Relayed       uint64 `json:"relayed"`
	Fragments     uint64 `json:"fragments"`
	Bundles       uint64 `json:"bundles"`
	Announcements uint64 `json:"announcements"`
	Backpressure  uint64 `json:"backpressure"`
	Oversize      uint64 `json:"oversize"`
}

type counters struct {
	received, malformed, unknown, filtered, duplicates atomic.Uint64
	relayed, fragments, bundles, announcements        atomic.Uint64
	backpressure, oversize                            atomic.Uint64
}

// Dispatcher classifies uplinks and feeds the queues. It never blocks on
// the send path: a full queue drops the item and counts it.
//
// All public methods are thread-safe.
type Dispatcher struct {
	prefixes    frame.Prefixes
	registry    *enddevice.Registry
	cache       *cache.Cache
	reassembler *bundle.Reassembler
	queues      *queue.Set
	defaults    lorawan.Params
	observer    Observer
	journal     Journal

	stats counters

	logger   Logger
	loggerMu sync.RWMutex
}

// New validates opts and returns a dispatcher.
func New(opts Options) (*Dispatcher, error) {
	switch {
	case opts.Registry == nil:
		return nil, fmt.Errorf("dispatch: registry is required")
	case opts.Cache == nil:
		return nil, fmt.Errorf("dispatch: cache is required")
	case opts.Reassembler == nil:
		return nil, fmt.Errorf("dispatch: reassembler is required")
	case opts.Queues == nil:
		return nil, fmt.Errorf("dispatch: queues are required")
	}
	if err := opts.Prefixes.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: default radio parameters: %w", err)
	}

	return &Dispatcher{
		prefixes:    opts.Prefixes,
		registry:    opts.Registry,
		cache:       opts.Cache,
		reassembler: opts.Reassembler,
		queues:      opts.Queues,
		defaults:    opts.Defaults,
		observer:    opts.Observer,
		journal:     opts.Journal,
		logger:      noopLogger{},
	}, nil
}

// SetLogger sets the logger. A nil logger disables logging.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Dispatcher) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// HandleUplink is the gateway bridge callback. It has the signature of
// chirpstack.UplinkHandler.
func (d *Dispatcher) HandleUplink(ctx context.Context, up chirpstack.Uplink) {
	d.Process(ctx, up)
}

// Process handles one uplink and reports the outcome.
func (d *Dispatcher) Process(ctx context.Context, up chirpstack.Uplink) Outcome {
	d.stats.received.Add(1)
	logger := d.log()

	f, err := frame.Parse(up.PHYPayload, d.prefixes)
	if err != nil {
		if errors.Is(err, frame.ErrUnknownPrefix) {
			d.stats.unknown.Add(1)
			logger.Debug("discarding frame with unknown prefix", "gateway", up.GatewayID, "prefix", f.Prefix)
			return OutcomeUnknownPrefix
		}
		d.stats.malformed.Add(1)
		logger.Warn("discarding malformed frame", "gateway", up.GatewayID, "size", len(up.PHYPayload), "error", err)
		return OutcomeMalformed
	}

	if !d.registry.ContainsWire(f.Source) {
		d.stats.filtered.Add(1)
		return OutcomeFiltered
	}

	fp := f.Fingerprint()
	if d.cache.Seen(fp) {
		d.stats.duplicates.Add(1)
		logger.Debug("duplicate frame", "kind", f.Kind, "fingerprint", fp)
		return OutcomeDuplicate
	}

	d.record(ctx, f, fp, up)
	params := d.paramsFor(up)

	switch f.Kind {
	case frame.KindRelay:
		return d.relay(f, params)
	case frame.KindBundle:
		return d.fragment(f, params, up)
	case frame.KindAnnouncement:
		return d.announcement(f, params, up)
	default:
		// Parse only returns known kinds without error.
		d.stats.unknown.Add(1)
		return OutcomeUnknownPrefix
	}
}

func (d *Dispatcher) relay(f *frame.Frame, params lorawan.Params) Outcome {
	if !d.fits(f, params) {
		return OutcomeOversize
	}
	item := &queue.Item{Class: frame.KindRelay, Frames: []*frame.Frame{f.Clone()}, Params: params}
	if !d.enqueue(item) {
		return OutcomeBackpressure
	}
	d.stats.relayed.Add(1)
	return OutcomeRelayed
}

func (d *Dispatcher) fragment(f *frame.Frame, params lorawan.Params, up chirpstack.Uplink) Outcome {
	d.stats.fragments.Add(1)

	b, complete, err := d.reassembler.Add(f)
	if err != nil {
		d.log().Warn("rejecting bundle fragment", "source", f.Source, "bundle", f.BundleID, "error", err)
		return OutcomeRejectedBundle
	}
	if !complete {
		return OutcomeFragment
	}

	d.stats.bundles.Add(1)
	d.log().Info("bundle reassembled", "source", f.Source, "bundle", b.ID, "fragments", b.Fragments, "size", len(b.Payload))
	d.notify(Event{
		Type:       EventBundleReceived,
		Source:     b.Source,
		BundleID:   b.ID,
		Fragments:  b.Fragments,
		Payload:    b.Payload,
		Gateway:    up.GatewayID,
		ReceivedAt: up.ReceivedAt,
	})

	frames, err := d.resplit(f.Prefix, b, params)
	if err != nil {
		d.log().Warn("bundle cannot be relayed", "source", b.Source, "bundle", b.ID, "error", err)
		return OutcomeRejectedBundle
	}
	if !d.enqueue(&queue.Item{Class: frame.KindBundle, Frames: frames, Params: params}) {
		return OutcomeBackpressure
	}
	return OutcomeBundle
}

// resplit fragments b again for the data rate it will be sent at. Source
// and bundle id are kept so downstream relays deduplicate against it.
func (d *Dispatcher) resplit(prefix uint8, b *bundle.Bundle, params lorawan.Params) ([]*frame.Frame, error) {
	dr, err := params.DataRate()
	if err != nil {
		return nil, err
	}
	capacity, err := bundle.FragmentCapacity(dr)
	if err != nil {
		return nil, err
	}
	return bundle.Split(prefix, b.Source, b.ID, b.Payload, capacity)
}

func (d *Dispatcher) announcement(f *frame.Frame, params lorawan.Params, up chirpstack.Uplink) Outcome {
	d.stats.announcements.Add(1)
	ev := Event{
		Type:       EventAnnouncementReceived,
		Source:     f.Source,
		Hops:       f.Hops,
		Payload:    append([]byte{}, f.Payload...),
		Gateway:    up.GatewayID,
		ReceivedAt: up.ReceivedAt,
	}
	if body, err := frame.DecodeAnnouncement(f.Payload); err == nil {
		ev.SentAt = body.Timestamp
		ev.Location = body.Location
		ev.Devices = body.Devices
		ev.Text = string(body.Text)
	} else {
		d.log().Debug("announcement body not decoded", "source", f.Source, "error", err)
	}
	d.notify(ev)

	if f.Hops <= 1 || !d.fits(f, params) {
		return OutcomeAnnouncement
	}
	fwd := f.Clone()
	fwd.Hops--
	if !d.enqueue(&queue.Item{Class: frame.KindAnnouncement, Frames: []*frame.Frame{fwd}, Params: params}) {
		return OutcomeBackpressure
	}
	return OutcomeAnnouncement
}

func (d *Dispatcher) enqueue(item *queue.Item) bool {
	if err := d.queues.Enqueue(item); err != nil {
		d.stats.backpressure.Add(1)
		d.log().Warn("dropping frame", "class", item.Class, "error", err)
		return false
	}
	return true
}

// fits reports whether f can be sent at params' data rate. A frame received
// on an off-plan channel is sent with the defaults, which may be slower than
// the rate it arrived at.
func (d *Dispatcher) fits(f *frame.Frame, params lorawan.Params) bool {
	limit := 0
	dr, err := params.DataRate()
	if err == nil {
		limit, err = lorawan.MaxPayload(dr, false)
	}
	if err == nil && f.Len() <= limit {
		return true
	}
	d.stats.oversize.Add(1)
	d.log().Warn("dropping frame too large to forward",
		"kind", f.Kind, "source", f.Source, "size", f.Len(), "limit", limit, "error", err)
	return false
}

// paramsFor returns the uplink's radio parameters when they are usable for
// a downlink, or the configured defaults.
func (d *Dispatcher) paramsFor(up chirpstack.Uplink) lorawan.Params {
	p := up.Params()
	if err := p.Validate(); err != nil {
		return d.defaults
	}
	if _, err := p.DataRate(); err != nil {
		return d.defaults
	}
	return p
}

func (d *Dispatcher) notify(ev Event) {
	if d.observer != nil {
		d.observer.Observe(ev)
	}
}

func (d *Dispatcher) record(ctx context.Context, f *frame.Frame, fp frame.Fingerprint, up chirpstack.Uplink) {
	if d.journal == nil {
		return
	}
	err := d.journal.Record(ctx, journal.Entry{
		Direction:   journal.DirectionUp,
		Kind:        f.Kind.String(),
		Source:      fmt.Sprintf("%08x", f.Source),
		Gateway:     up.GatewayID,
		Size:        f.Len(),
		Fingerprint: fp.String(),
		CreatedAt:   receivedAt(up),
	})
	if err != nil {
		d.log().Warn("journal record failed", "error", err)
	}
}

func receivedAt(up chirpstack.Uplink) time.Time {
	if up.ReceivedAt.IsZero() {
		return time.Now()
	}
	return up.ReceivedAt
}

// Stats returns the outcome counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:      d.stats.received.Load(),
		Malformed:     d.stats.malformed.Load(),
		UnknownPrefix: d.stats.unknown.Load(),
		Filtered:      d.stats.filtered.Load(),
		Duplicates:    d.stats.duplicates.Load(),
		Relayed:       d.stats.relayed.Load(),
		Fragments:     d.stats.fragments.Load(),
		Bundles:       d.stats.bundles.Load(),
		Announcements: d.stats.announcements.Load(),
		Backpressure:  d.stats.backpressure.Load(),
		Oversize:      d.stats.oversize.Load(),
	}
}
