package queue

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/lorawan"
)

var (
	// ErrQueueFull is returned by Enqueue when the class queue is at capacity.
	// The item is dropped; queued items are untouched.
	ErrQueueFull = errors.New("queue: full")

	// ErrUnknownClass is returned for items whose class has no queue.
	ErrUnknownClass = errors.New("queue: unknown class")

	// ErrEmptyItem is returned for items without frames.
	ErrEmptyItem = errors.New("queue: item has no frames")
)

// Precedence is the order in which Next drains the queues.
var Precedence = []frame.Kind{frame.KindAnnouncement, frame.KindBundle, frame.KindRelay}

// Item is one unit of outbound work. Bundle items hold every fragment of
// the bundle; other classes hold a single frame.
type Item struct {
	Class      frame.Kind
	Frames     []*frame.Frame
	Params     lorawan.Params
	EnqueuedAt time.Time
}

// Size returns the encoded size of all frames in the item.
func (it *Item) Size() int {
	n := 0
	for _, f := range it.Frames {
		n += f.Len()
	}
	return n
}

// Capacities are the fixed per-class queue sizes.
type Capacities struct {
	Relay        int
	Bundle       int
	Announcement int
}

// ClassStats reports one queue.
type ClassStats struct {
	Class    string `json:"class"`
	Length   int    `json:"length"`
	Capacity int    `json:"capacity"`
	Enqueued uint64 `json:"enqueued"`
	Dropped  uint64 `json:"dropped"`
}

type classQueue struct {
	ch       chan *Item
	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// Set holds one bounded queue per frame class. Enqueue and dequeue never block.
//
// All public methods are thread-safe.
type Set struct {
	queues map[frame.Kind]*classQueue
}

// NewSet creates the three queues. Every capacity must be positive.
func NewSet(c Capacities) (*Set, error) {
	sizes := map[frame.Kind]int{
		frame.KindRelay:        c.Relay,
		frame.KindBundle:       c.Bundle,
		frame.KindAnnouncement: c.Announcement,
	}
	s := &Set{queues: make(map[frame.Kind]*classQueue, len(sizes))}
	for kind, size := range sizes {
		if size <= 0 {
			return nil, fmt.Errorf("queue: %s capacity must be positive, got %d", kind, size)
		}
		s.queues[kind] = &classQueue{ch: make(chan *Item, size)}
	}
	return s, nil
}

// Enqueue adds item to its class queue, or returns ErrQueueFull.
func (s *Set) Enqueue(item *Item) error {
	if item == nil || len(item.Frames) == 0 {
		return ErrEmptyItem
	}
	q, ok := s.queues[item.Class]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClass, item.Class)
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	select {
	case q.ch <- item:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return fmt.Errorf("%w: %s (capacity %d)", ErrQueueFull, item.Class, cap(q.ch))
	}
}

// Dequeue removes the oldest item of class. The second result is false if
// the queue is empty.
func (s *Set) Dequeue(class frame.Kind) (*Item, bool) {
	q, ok := s.queues[class]
	if !ok {
		return nil, false
	}
	select {
	case item := <-q.ch:
		return item, true
	default:
		return nil, false
	}
}

// Next dequeues from the first non-empty queue in Precedence order.
func (s *Set) Next() (*Item, bool) {
	for _, class := range Precedence {
		if item, ok := s.Dequeue(class); ok {
			return item, true
		}
	}
	return nil, false
}

// Len returns the number of items queued for class.
func (s *Set) Len(class frame.Kind) int {
	if q, ok := s.queues[class]; ok {
		return len(q.ch)
	}
	return 0
}

// Stats returns per-class statistics in Precedence order.
func (s *Set) Stats() []ClassStats {
	out := make([]ClassStats, 0, len(Precedence))
	for _, class := range Precedence {
		q := s.queues[class]
		out = append(out, ClassStats{
			Class:    class.String(),
			Length:   len(q.ch),
			Capacity: cap(q.ch),
			Enqueued: q.enqueued.Load(),
			Dropped:  q.dropped.Load(),
		})
	}
	return out
}
