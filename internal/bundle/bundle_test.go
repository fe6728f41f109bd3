package bundle

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/lorawan"
)

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

func TestSplit_FragmentCount(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		capacity int
		want     int
	}{
		{"smaller than capacity", 10, 54, 1},
		{"exact multiple", 108, 54, 2},
		{"one over", 109, 54, 3},
		{"single byte fragments", 255, 1, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frags, err := Split(0x02, 7, 42, payloadOf(tt.size), tt.capacity)
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}
			if len(frags) != tt.want {
				t.Fatalf("len = %d, want %d", len(frags), tt.want)
			}
			for i, f := range frags {
				if f.Kind != frame.KindBundle || f.Source != 7 || f.BundleID != 42 {
					t.Errorf("fragment %d header = %+v", i, f)
				}
				if int(f.Index) != i || int(f.Total) != tt.want {
					t.Errorf("fragment %d index/total = %d/%d", i, f.Index, f.Total)
				}
				if len(f.Payload) > tt.capacity {
					t.Errorf("fragment %d carries %d bytes, capacity %d", i, len(f.Payload), tt.capacity)
				}
			}
		})
	}
}

func TestSplit_Errors(t *testing.T) {
	if _, err := Split(2, 1, 1, nil, 10); !errors.Is(err, ErrEmptyBundle) {
		t.Errorf("Split(empty) error = %v, want ErrEmptyBundle", err)
	}
	if _, err := Split(2, 1, 1, payloadOf(256), 1); !errors.Is(err, ErrBundleTooLarge) {
		t.Errorf("Split(256 fragments) error = %v, want ErrBundleTooLarge", err)
	}
	if _, err := Split(2, 1, 1, payloadOf(5), 0); err == nil {
		t.Error("Split(capacity 0) expected error")
	}
}

func TestFragmentCapacity(t *testing.T) {
	tests := map[lorawan.DataRate]int{0: 54, 3: 118, 5: 245}
	for dr, want := range tests {
		got, err := FragmentCapacity(dr)
		if err != nil {
			t.Fatalf("FragmentCapacity(%v) error = %v", dr, err)
		}
		if got != want {
			t.Errorf("FragmentCapacity(%v) = %d, want %d", dr, got, want)
		}
	}
}

func TestRoundTrip_AnyOrder(t *testing.T) {
	payload := payloadOf(1000)
	frags, err := Split(2, 99, 7, payload, 54)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for run := 0; run < 5; run++ {
		r := NewReassembler(time.Minute, nil)
		order := rng.Perm(len(frags))

		var got *Bundle
		for i, idx := range order {
			// Frames travel encoded, so go through the wire format.
			parsed, err := frame.Parse(frags[idx].Marshal(), frame.DefaultPrefixes())
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			b, ok, err := r.Add(parsed)
			if err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if ok != (i == len(order)-1) {
				t.Fatalf("run %d: completion reported after %d of %d fragments", run, i+1, len(order))
			}
			if ok {
				got = b
			}
		}

		if !bytes.Equal(got.Payload, payload) {
			t.Fatalf("run %d: reassembled payload differs", run)
		}
		if got.Source != 99 || got.ID != 7 || got.Fragments != len(frags) {
			t.Errorf("bundle = %+v", got)
		}
		if r.Pending() != 0 {
			t.Errorf("Pending() = %d after completion", r.Pending())
		}
	}
}

func TestReassembler_DuplicatesIgnored(t *testing.T) {
	frags, _ := Split(2, 1, 1, payloadOf(20), 10)
	r := NewReassembler(time.Minute, nil)

	if _, ok, _ := r.Add(frags[0]); ok {
		t.Fatal("completed after first fragment")
	}
	if _, ok, err := r.Add(frags[0]); ok || err != nil {
		t.Fatalf("duplicate fragment: ok=%v err=%v", ok, err)
	}
	b, ok, err := r.Add(frags[1])
	if err != nil || !ok {
		t.Fatalf("Add() ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(b.Payload, payloadOf(20)) {
		t.Error("payload corrupted by duplicate")
	}

	// Delivered exactly once.
	if _, ok, _ := r.Add(frags[1]); ok {
		t.Error("bundle delivered twice")
	}
}

func TestReassembler_Inconsistent(t *testing.T) {
	r := NewReassembler(time.Minute, nil)

	first := &frame.Frame{Kind: frame.KindBundle, Source: 1, BundleID: 5, Index: 0, Total: 3, Payload: []byte("a")}
	if _, _, err := r.Add(first); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	mismatched := &frame.Frame{Kind: frame.KindBundle, Source: 1, BundleID: 5, Index: 1, Total: 4, Payload: []byte("b")}
	if _, _, err := r.Add(mismatched); !errors.Is(err, ErrInconsistentFragment) {
		t.Errorf("mismatched total error = %v, want ErrInconsistentFragment", err)
	}

	outOfRange := &frame.Frame{Kind: frame.KindBundle, Source: 1, BundleID: 6, Index: 3, Total: 3}
	if _, _, err := r.Add(outOfRange); !errors.Is(err, ErrInconsistentFragment) {
		t.Errorf("index >= total error = %v, want ErrInconsistentFragment", err)
	}

	relay := &frame.Frame{Kind: frame.KindRelay}
	if _, _, err := r.Add(relay); !errors.Is(err, ErrNotFragment) {
		t.Errorf("relay frame error = %v, want ErrNotFragment", err)
	}

	if st := r.Stats(); st.Rejected != 2 {
		t.Errorf("Rejected = %d, want 2", st.Rejected)
	}
}

func TestReassembler_SeparateBundles(t *testing.T) {
	r := NewReassembler(time.Minute, nil)
	a, _ := Split(2, 1, 9, []byte("aaaa"), 2)
	b, _ := Split(2, 2, 9, []byte("bbbb"), 2)

	r.Add(a[0])
	r.Add(b[0])
	if r.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2 (same id, different sources)", r.Pending())
	}
	got, ok, _ := r.Add(b[1])
	if !ok || string(got.Payload) != "bbbb" {
		t.Errorf("bundle from source 2 = %v, ok=%v", got, ok)
	}
}

func TestReassembler_PurgeMissingFragment(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := NewReassembler(time.Minute, clock)

	frags, _ := Split(2, 1, 1, payloadOf(30), 10)
	r.Add(frags[0])
	r.Add(frags[2])

	if n := r.Purge(now.Add(30 * time.Second)); n != 0 {
		t.Errorf("Purge() before timeout dropped %d", n)
	}
	if n := r.Purge(now.Add(time.Minute)); n != 1 {
		t.Errorf("Purge() at timeout dropped %d, want 1", n)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d after purge", r.Pending())
	}

	// The late fragment starts a new, incomplete buffer.
	if _, ok, _ := r.Add(frags[1]); ok {
		t.Error("purged bundle completed from a late fragment")
	}
	if st := r.Stats(); st.Expired != 1 || st.Completed != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSplitter_NextID(t *testing.T) {
	s := NewSplitter(65534)
	for _, want := range []uint16{65534, 65535, 0, 1} {
		if got := s.NextID(); got != want {
			t.Errorf("NextID() = %d, want %d", got, want)
		}
	}
}
