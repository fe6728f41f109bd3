package sender

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/lorawan"
	"github.com/nerrad567/lora-relay/internal/queue"
)

// AnnouncerOptions configures an Announcer.
type AnnouncerOptions struct {
	Queues *queue.Set

	// Prefix is the announcement prefix byte.
	Prefix uint8

	// NodeID identifies this relay. Its CRC-32 is the frame source.
	NodeID   string
	HopLimit uint8
	Text     string
	Location *frame.Location

	// Devices returns the end devices reachable through this relay, typically
	// the registry's List. Optional.
	Devices func() []string

	Params   lorawan.Params
	Interval time.Duration
	Now      func() time.Time
}

// Announcer periodically queues a presence announcement for this relay.
//
// All public methods are thread-safe.
type Announcer struct {
	opts   AnnouncerOptions
	source uint32
	now    func() time.Time

	announced atomic.Uint64
	dropped   atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewAnnouncer validates opts and returns an Announcer.
func NewAnnouncer(opts AnnouncerOptions) (*Announcer, error) {
	switch {
	case opts.Queues == nil:
		return nil, fmt.Errorf("announcer: queues are required")
	case opts.NodeID == "":
		return nil, fmt.Errorf("announcer: node id is required")
	case opts.HopLimit == 0:
		return nil, fmt.Errorf("announcer: hop limit must be at least 1")
	case opts.Interval <= 0:
		return nil, fmt.Errorf("announcer: interval must be positive, got %v", opts.Interval)
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("announcer: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Announcer{
		opts:   opts,
		source: frame.DeviceID(opts.NodeID),
		now:    now,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger. A nil logger disables logging.
func (a *Announcer) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	a.loggerMu.Lock()
	a.logger = logger
	a.loggerMu.Unlock()
}

func (a *Announcer) log() Logger {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	return a.logger
}

// Run announces once immediately and then every interval until ctx is
// cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	a.announceAndLog()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.announceAndLog()
		}
	}
}

func (a *Announcer) announceAndLog() {
	if err := a.Announce(); err != nil {
		a.log().Warn("announcement not queued", "error", err)
	}
}

// Build returns the announcement frame for now. Devices that do not fit in
// one frame at the configured data rate are left out.
func (a *Announcer) Build() (*frame.Frame, error) {
	dr, err := a.opts.Params.DataRate()
	if err != nil {
		return nil, err
	}
	limit, err := lorawan.MaxPayload(dr, false)
	if err != nil {
		return nil, err
	}

	body := frame.Announcement{
		Timestamp: a.now(),
		Location:  a.opts.Location,
		Text:      []byte(a.opts.Text),
	}

	room := limit - frame.AnnouncementHeaderSize - frame.AnnouncementFixedSize - len(body.Text)
	if body.Location != nil {
		room -= frame.LocationSize
	}
	if room < 0 {
		return nil, fmt.Errorf("announcement text of %d bytes exceeds %d byte frame at %s", len(body.Text), limit, dr)
	}

	if a.opts.Devices != nil {
		ids := a.opts.Devices()
		fit := min(len(ids), room/4, frame.MaxAnnouncedDevices)
		if fit < len(ids) {
			a.log().Debug("announcement truncated", "devices", len(ids), "included", fit)
		}
		body.Devices = make([]uint32, 0, fit)
		for _, id := range ids[:fit] {
			body.Devices = append(body.Devices, frame.DeviceID(id))
		}
	}

	payload, err := body.Encode()
	if err != nil {
		return nil, err
	}
	return &frame.Frame{
		Kind:    frame.KindAnnouncement,
		Prefix:  a.opts.Prefix,
		Source:  a.source,
		Hops:    a.opts.HopLimit,
		Payload: payload,
	}, nil
}

// Announce queues one announcement.
func (a *Announcer) Announce() error {
	f, err := a.Build()
	if err != nil {
		return err
	}
	err = a.opts.Queues.Enqueue(&queue.Item{
		Class:  frame.KindAnnouncement,
		Frames: []*frame.Frame{f},
		Params: a.opts.Params,
	})
	if err != nil {
		a.dropped.Add(1)
		return err
	}
	a.announced.Add(1)
	a.log().Debug("announcement queued", "hops", f.Hops, "size", f.Len())
	return nil
}

// Counts returns how many announcements were queued and dropped.
func (a *Announcer) Counts() (announced, dropped uint64) {
	return a.announced.Load(), a.dropped.Load()
}
