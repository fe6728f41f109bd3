package dispatch

import (
	"sync"
	"time"

	"github.com/nerrad567/lora-relay/internal/frame"
)

// Event types delivered to observers.
const (
	EventBundleReceived       = "bundle.received"
	EventAnnouncementReceived = "announcement.received"
)

// Event is a local delivery: a reassembled bundle or a received
// announcement.
type Event struct {
	Type       string    `json:"type"`
	Source     uint32    `json:"source"`
	BundleID   uint16    `json:"bundle_id,omitempty"`
	Fragments  int       `json:"fragments,omitempty"`
	Hops       uint8     `json:"hops,omitempty"`
	Payload    []byte    `json:"payload"`
	Gateway    string    `json:"gateway,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	// Decoded announcement body, when it parses.
	SentAt   time.Time       `json:"sent_at,omitzero"`
	Location *frame.Location `json:"location,omitempty"`
	Devices  []uint32        `json:"devices,omitempty"`
	Text     string          `json:"text,omitempty"`
}

// Observer receives local deliveries. Observe is called on the uplink path
// and must not block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Fanout delivers each event to every registered observer in order.
type Fanout struct {
	mu        sync.RWMutex
	observers []Observer
}

// Add registers o.
func (f *Fanout) Add(o Observer) {
	f.mu.Lock()
	f.observers = append(f.observers, o)
	f.mu.Unlock()
}

// Observe implements Observer.
func (f *Fanout) Observe(ev Event) {
	f.mu.RLock()
	observers := f.observers
	f.mu.RUnlock()
	for _, o := range observers {
		o.Observe(ev)
	}
}
