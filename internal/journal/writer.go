package journal

import (
	"context"
	"errors"
	"sync/atomic"
)

// DefaultBacklog is the Writer buffer size used when none is given.
const DefaultBacklog = 256

// ErrBacklogFull is returned by Writer.Record when the buffer is full. The
// entry is dropped.
var ErrBacklogFull = errors.New("journal: write backlog full")

// Recorder appends one entry. *Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Writer decouples callers on the relay path from SQLite. Record only
// buffers; Run performs the inserts on its own goroutine.
//
// All public methods are thread-safe.
type Writer struct {
	dst     Recorder
	entries chan Entry
	logger  Logger

	written, dropped, failed atomic.Uint64
}

// WriterStats counts Writer activity since start.
type WriterStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Pending int    `json:"pending"`
}

// NewWriter returns a Writer in front of dst buffering up to backlog
// entries. A non-positive backlog uses DefaultBacklog. logger may be nil.
func NewWriter(dst Recorder, backlog int, logger Logger) *Writer {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Writer{
		dst:     dst,
		entries: make(chan Entry, backlog),
		logger:  logger,
	}
}

// Record queues e without blocking. Validation happens here so callers see
// a bad direction immediately.
func (w *Writer) Record(_ context.Context, e Entry) error {
	if e.Direction != DirectionUp && e.Direction != DirectionDown {
		return ErrInvalidDirection
	}
	select {
	case w.entries <- e:
		return nil
	default:
		w.dropped.Add(1)
		return ErrBacklogFull
	}
}

// Run writes queued entries until ctx is done, then flushes what is
// already buffered and returns nil.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush(context.WithoutCancel(ctx))
			return nil
		case e := <-w.entries:
			w.write(ctx, e)
		}
	}
}

func (w *Writer) flush(ctx context.Context) {
	for {
		select {
		case e := <-w.entries:
			w.write(ctx, e)
		default:
			return
		}
	}
}

func (w *Writer) write(ctx context.Context, e Entry) {
	if err := w.dst.Record(ctx, e); err != nil {
		w.failed.Add(1)
		if w.logger != nil {
			w.logger.Warn("journal record failed", "error", err)
		}
		return
	}
	w.written.Add(1)
}

// Stats returns the writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		Pending: len(w.entries),
	}
}
