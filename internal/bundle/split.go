package bundle

import (
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/lorawan"
)

// MaxFragments is the largest fragment count a bundle header can declare.
const MaxFragments = 255

// FragmentCapacity returns the bundle bytes one fragment can carry at dr.
func FragmentCapacity(dr lorawan.DataRate) (int, error) {
	maxPayload, err := lorawan.MaxPayload(dr, false)
	if err != nil {
		return 0, err
	}
	return maxPayload - frame.BundleHeaderSize, nil
}

// Split cuts payload into fragments of at most capacity bytes each.
//
// The fragments share source and bundleID and carry indices 0..n-1 with
// total n = ceil(len(payload)/capacity). Fragment payloads are copies.
func Split(prefix uint8, source uint32, bundleID uint16, payload []byte, capacity int) ([]*frame.Frame, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyBundle
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("bundle: fragment capacity must be positive, got %d", capacity)
	}

	n := (len(payload) + capacity - 1) / capacity
	if n > MaxFragments {
		return nil, fmt.Errorf("%w: %d bytes need %d fragments of %d", ErrBundleTooLarge, len(payload), n, capacity)
	}

	fragments := make([]*frame.Frame, 0, n)
	for i := 0; i < n; i++ {
		start := i * capacity
		end := min(start+capacity, len(payload))
		fragments = append(fragments, &frame.Frame{
			Kind:     frame.KindBundle,
			Prefix:   prefix,
			Source:   source,
			BundleID: bundleID,
			Index:    uint8(i),
			Total:    uint8(n),
			Payload:  append([]byte(nil), payload[start:end]...),
		})
	}
	return fragments, nil
}

// Splitter allocates bundle ids for bundles originated by this node.
type Splitter struct {
	next atomic.Uint32
}

// NewSplitter creates a Splitter whose first id is seed.
func NewSplitter(seed uint16) *Splitter {
	s := &Splitter{}
	s.next.Store(uint32(seed))
	return s
}

// NextID returns a fresh bundle id. Ids wrap after 65535.
func (s *Splitter) NextID() uint16 {
	return uint16(s.next.Add(1) - 1)
}
