package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/lora-relay/internal/frame"
)

func newTestSet(t *testing.T, relay, bundle, announcement int) *Set {
	t.Helper()
	s, err := NewSet(Capacities{Relay: relay, Bundle: bundle, Announcement: announcement})
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	return s
}

func item(class frame.Kind, payload string) *Item {
	return &Item{
		Class:  class,
		Frames: []*frame.Frame{{Kind: class, Payload: []byte(payload)}},
	}
}

func payload(it *Item) string {
	return string(it.Frames[0].Payload)
}

func TestNewSet_RejectsZeroCapacity(t *testing.T) {
	if _, err := NewSet(Capacities{Relay: 1, Bundle: 0, Announcement: 1}); err == nil {
		t.Error("NewSet() with zero capacity expected error")
	}
}

func TestEnqueue_Overflow(t *testing.T) {
	s := newTestSet(t, 2, 1, 1)

	if err := s.Enqueue(item(frame.KindRelay, "a")); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := s.Enqueue(item(frame.KindRelay, "b")); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	if err := s.Enqueue(item(frame.KindRelay, "c")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue c error = %v, want ErrQueueFull", err)
	}

	got, ok := s.Dequeue(frame.KindRelay)
	if !ok || payload(got) != "a" {
		t.Fatalf("Dequeue() = %v, %v, want a", got, ok)
	}
	if err := s.Enqueue(item(frame.KindRelay, "c")); err != nil {
		t.Fatalf("enqueue c after dequeue: %v", err)
	}

	for _, want := range []string{"b", "c"} {
		got, ok := s.Dequeue(frame.KindRelay)
		if !ok || payload(got) != want {
			t.Errorf("Dequeue() = %v, want %s", got, want)
		}
	}
	if _, ok := s.Dequeue(frame.KindRelay); ok {
		t.Error("Dequeue() on empty queue reported an item")
	}

	stats := s.Stats()
	relay := stats[2]
	if relay.Class != "relay" || relay.Enqueued != 3 || relay.Dropped != 1 || relay.Capacity != 2 {
		t.Errorf("relay stats = %+v", relay)
	}
}

func TestEnqueue_QueuesAreIndependent(t *testing.T) {
	s := newTestSet(t, 1, 1, 1)

	if err := s.Enqueue(item(frame.KindRelay, "r")); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(item(frame.KindBundle, "b")); err != nil {
		t.Errorf("bundle enqueue blocked by full relay queue: %v", err)
	}
	if err := s.Enqueue(item(frame.KindAnnouncement, "a")); err != nil {
		t.Errorf("announcement enqueue blocked by full relay queue: %v", err)
	}
}

func TestEnqueue_Invalid(t *testing.T) {
	s := newTestSet(t, 1, 1, 1)

	if err := s.Enqueue(&Item{Class: frame.KindRelay}); !errors.Is(err, ErrEmptyItem) {
		t.Errorf("empty item error = %v, want ErrEmptyItem", err)
	}
	if err := s.Enqueue(item(frame.KindUnknown, "x")); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("unknown class error = %v, want ErrUnknownClass", err)
	}
}

func TestNext_Precedence(t *testing.T) {
	s := newTestSet(t, 4, 4, 4)

	_ = s.Enqueue(item(frame.KindRelay, "r1"))
	_ = s.Enqueue(item(frame.KindBundle, "b1"))
	_ = s.Enqueue(item(frame.KindAnnouncement, "a1"))
	_ = s.Enqueue(item(frame.KindRelay, "r2"))

	want := []string{"a1", "b1", "r1", "r2"}
	for _, w := range want {
		got, ok := s.Next()
		if !ok {
			t.Fatalf("Next() empty, want %s", w)
		}
		if payload(got) != w {
			t.Errorf("Next() = %s, want %s", payload(got), w)
		}
	}
	if _, ok := s.Next(); ok {
		t.Error("Next() on empty set reported an item")
	}
}

func TestEnqueue_SetsTimestamp(t *testing.T) {
	s := newTestSet(t, 1, 1, 1)
	it := item(frame.KindRelay, "x")
	_ = s.Enqueue(it)
	if it.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not set")
	}
}

func TestEnqueue_ConcurrentNeverExceedsCapacity(t *testing.T) {
	s := newTestSet(t, 10, 1, 1)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Enqueue(item(frame.KindRelay, "x"))
		}()
	}
	wg.Wait()

	if got := s.Len(frame.KindRelay); got != 10 {
		t.Errorf("Len() = %d, want 10", got)
	}
	st := s.Stats()[2]
	if st.Enqueued != 10 || st.Dropped != 90 {
		t.Errorf("stats = %+v, want 10 enqueued, 90 dropped", st)
	}
}
