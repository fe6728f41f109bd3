package bundle

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lora-relay/internal/frame"
)

// Bundle is a fully reassembled bundle.
type Bundle struct {
	Source    uint32
	ID        uint16
	Fragments int
	Payload   []byte
}

type key struct {
	source uint32
	id     uint16
}

type buffer struct {
	total     uint8
	parts     [][]byte
	received  int
	firstSeen time.Time
}

// Stats is a point-in-time view of reassembly counters.
type Stats struct {
	Pending   int    `json:"pending"`
	Completed uint64 `json:"completed"`
	Expired   uint64 `json:"expired"`
	Rejected  uint64 `json:"rejected"`
}

// Reassembler collects bundle fragments until every index has arrived.
//
// Buffers that stay incomplete past the timeout are dropped by Purge; the
// protocol has no retransmission request, so a lost fragment loses the bundle.
//
// All public methods are thread-safe.
type Reassembler struct {
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buffers   map[key]*buffer
	completed uint64
	expired   uint64
	rejected  uint64
}

// NewReassembler creates a reassembler that drops incomplete bundles after timeout.
// now may be nil to use time.Now.
func NewReassembler(timeout time.Duration, now func() time.Time) *Reassembler {
	if now == nil {
		now = time.Now
	}
	return &Reassembler{
		timeout: timeout,
		now:     now,
		buffers: make(map[key]*buffer),
	}
}

// Add buffers a fragment. When it completes its bundle, the bundle is
// returned with ok true and the buffer is released. Duplicate indices are
// ignored.
func (r *Reassembler) Add(f *frame.Frame) (b *Bundle, ok bool, err error) {
	if f.Kind != frame.KindBundle {
		return nil, false, ErrNotFragment
	}
	if f.Total == 0 || f.Index >= f.Total {
		r.reject()
		return nil, false, fmt.Errorf("%w: index %d of %d", ErrInconsistentFragment, f.Index, f.Total)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{source: f.Source, id: f.BundleID}
	buf, exists := r.buffers[k]
	if !exists {
		buf = &buffer{
			total:     f.Total,
			parts:     make([][]byte, f.Total),
			firstSeen: r.now(),
		}
		r.buffers[k] = buf
	}
	if buf.total != f.Total {
		r.rejected++
		return nil, false, fmt.Errorf("%w: bundle %d declares %d fragments, buffered %d", ErrInconsistentFragment, f.BundleID, f.Total, buf.total)
	}
	if buf.parts[f.Index] != nil {
		return nil, false, nil
	}

	buf.parts[f.Index] = append([]byte{}, f.Payload...)
	buf.received++
	if buf.received < int(buf.total) {
		return nil, false, nil
	}

	delete(r.buffers, k)
	r.completed++

	size := 0
	for _, p := range buf.parts {
		size += len(p)
	}
	payload := make([]byte, 0, size)
	for _, p := range buf.parts {
		payload = append(payload, p...)
	}
	return &Bundle{Source: f.Source, ID: f.BundleID, Fragments: int(buf.total), Payload: payload}, true, nil
}

func (r *Reassembler) reject() {
	r.mu.Lock()
	r.rejected++
	r.mu.Unlock()
}

// Purge drops buffers whose first fragment arrived more than the timeout
// before now, and returns how many were dropped.
func (r *Reassembler) Purge(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for k, buf := range r.buffers {
		if now.Sub(buf.firstSeen) >= r.timeout {
			delete(r.buffers, k)
			purged++
		}
	}
	r.expired += uint64(purged)
	return purged
}

// Pending returns the number of incomplete bundles.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

// Stats returns the current counters.
func (r *Reassembler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Pending:   len(r.buffers),
		Completed: r.completed,
		Expired:   r.expired,
		Rejected:  r.rejected,
	}
}
