package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/lora-relay/internal/infrastructure/config"
	"github.com/nerrad567/lora-relay/internal/infrastructure/database"
	"github.com/nerrad567/lora-relay/migrations"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db.DB)
}

func TestRecordAndList(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Direction: DirectionUp, Kind: "relay", Source: "cbf43926", Gateway: "aa", Size: 12, Fingerprint: "01", CreatedAt: base},
		{Direction: DirectionUp, Kind: "bundle", Source: "cbf43926", Gateway: "aa", Size: 60, Fingerprint: "02", CreatedAt: base.Add(time.Second)},
		{Direction: DirectionDown, Kind: "relay", Source: "cbf43926", Gateway: "bb", Size: 12, Fingerprint: "01", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"all newest first", Filter{}, 3, "bb"},
		{"uplinks", Filter{Direction: DirectionUp}, 2, "aa"},
		{"relay kind", Filter{Kind: "relay"}, 2, "bb"},
		{"paged", Filter{Limit: 1, Offset: 1}, 3, "aa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := j.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			if len(res.Entries) == 0 || res.Entries[0].Gateway != tt.wantFirst {
				t.Errorf("first entry = %+v", res.Entries)
			}
		})
	}

	recent, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 || !recent[0].CreatedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("Recent() = %+v", recent)
	}
}

func TestRecord_InvalidDirection(t *testing.T) {
	j := newTestJournal(t)
	err := j.Record(context.Background(), Entry{Direction: "sideways", Kind: "relay"})
	if !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("Record() error = %v, want ErrInvalidDirection", err)
	}
}

func TestList_LimitClamp(t *testing.T) {
	j := newTestJournal(t)
	res, err := j.List(context.Background(), Filter{Limit: MaxLimit + 1, Offset: -3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("Limit = %d, Offset = %d", res.Limit, res.Offset)
	}
	if res.Entries == nil {
		t.Error("Entries is nil, want empty slice")
	}
}

func TestPrune(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		e := Entry{Direction: DirectionUp, Kind: "relay", Source: "x", Fingerprint: "f", CreatedAt: now.Add(-age)}
		if err := j.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := j.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() deleted %d, want 2", n)
	}
	left, _ := j.Recent(ctx, 10)
	if len(left) != 1 {
		t.Errorf("%d entries left, want 1", len(left))
	}
}

func TestRunPruner(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	j.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }

	old := Entry{Direction: DirectionDown, Kind: "bundle", Source: "x", Fingerprint: "f", CreatedAt: j.now().Add(-72 * time.Hour)}
	if err := j.Record(ctx, old); err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- j.RunPruner(runCtx, 10*time.Millisecond, 24*time.Hour, nil) }()

	deadline := time.After(2 * time.Second)
	for {
		left, err := j.Recent(ctx, 10)
		if err == nil && len(left) == 0 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("pruner did not delete the expired entry")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunPruner() = %v, want nil", err)
	}
}

// blockingRecorder holds every Record until release is closed.
type blockingRecorder struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRecorder) Record(context.Context, Entry) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestWriter_RecordDoesNotBlock(t *testing.T) {
	dst := &blockingRecorder{entered: make(chan struct{}, 8), release: make(chan struct{})}
	w := NewWriter(dst, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	e := Entry{Direction: DirectionUp, Kind: "relay", Source: "01", Fingerprint: "aa"}
	if err := w.Record(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	select {
	case <-dst.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not pick up the entry")
	}

	// The stalled insert holds one entry; two fill the backlog.
	for i := 0; i < 2; i++ {
		if err := w.Record(context.Background(), e); err != nil {
			t.Fatalf("Record() #%d error = %v", i, err)
		}
	}
	if err := w.Record(context.Background(), e); !errors.Is(err, ErrBacklogFull) {
		t.Errorf("Record() on full backlog error = %v, want ErrBacklogFull", err)
	}
	if s := w.Stats(); s.Dropped != 1 || s.Pending != 2 {
		t.Errorf("Stats() = %+v, want 1 dropped 2 pending", s)
	}

	close(dst.release)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if s := w.Stats(); s.Pending != 0 || s.Written != 3 {
		t.Errorf("Stats() = %+v, want backlog flushed", s)
	}
}

func TestWriter_WritesToJournal(t *testing.T) {
	j := newTestJournal(t)
	w := NewWriter(j, 0, nil)

	if err := w.Record(context.Background(), Entry{Direction: "sideways"}); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("Record() error = %v, want ErrInvalidDirection", err)
	}
	for _, fp := range []string{"01", "02"} {
		if err := w.Record(context.Background(), Entry{Direction: DirectionDown, Kind: "relay", Source: "01", Gateway: "aa", Fingerprint: fp}); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	res, err := j.List(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 {
		t.Errorf("List().Total = %d, want 2", res.Total)
	}
}
