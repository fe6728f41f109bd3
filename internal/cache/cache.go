package cache

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/lora-relay/internal/frame"
)

// Logger defines the logging interface used by the Cache.
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

// Options configures a Cache.
type Options struct {
	// Timeout is how long a fingerprint stays live after insertion.
	Timeout time.Duration

	// CleanupInterval is the sweep period used by Run.
	CleanupInterval time.Duration

	// ResetTimeout extends expiry on every re-sighting when true.
	// When false, expiry is fixed at first sight plus Timeout.
	ResetTimeout bool

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	insertedAt time.Time
	expiresAt  time.Time
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Evicted uint64 `json:"evicted"`
}

// Cache is a TTL set of frame fingerprints used to suppress duplicates.
//
// All public methods are thread-safe.
type Cache struct {
	opts   Options
	now    func() time.Time
	logger Logger

	mu      sync.Mutex
	entries map[frame.Fingerprint]entry
	hits    uint64
	misses  uint64
	evicted uint64

	hooks []func(now time.Time)
}

// New creates an empty cache.
func New(opts Options) *Cache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		opts:    opts,
		now:     now,
		logger:  noopLogger{},
		entries: make(map[frame.Fingerprint]entry),
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	c.logger = logger
}

// OnSweep registers fn to run after every sweep performed by Run.
// Must be called before Run.
func (c *Cache) OnSweep(fn func(now time.Time)) {
	c.hooks = append(c.hooks, fn)
}

// Seen reports whether fp is live in the cache.
//
// A fingerprint that is absent, or present but past its expiry and not yet
// swept, is novel: Seen inserts it and returns false. A live fingerprint
// returns true, and with ResetTimeout its expiry moves to now plus Timeout.
func (c *Cache) Seen(fp frame.Fingerprint) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[fp]; ok && now.Before(e.expiresAt) {
		c.hits++
		if c.opts.ResetTimeout {
			e.expiresAt = now.Add(c.opts.Timeout)
			c.entries[fp] = e
		}
		return true
	}

	c.misses++
	c.entries[fp] = entry{insertedAt: now, expiresAt: now.Add(c.opts.Timeout)}
	return false
}

// MarkSeen inserts fp with a fresh expiry without counting a hit or miss.
// Used for frames this node transmits so their echoes are suppressed.
func (c *Cache) MarkSeen(fp frame.Fingerprint) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fp] = entry{insertedAt: now, expiresAt: now.Add(c.opts.Timeout)}
}

// Sweep removes every entry expired at now and returns how many were removed.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, fp)
			removed++
		}
	}
	c.evicted += uint64(removed)
	return removed
}

// Run sweeps every CleanupInterval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := c.now()
			if n := c.Sweep(now); n > 0 {
				c.logger.Debug("message cache swept", "removed", n, "remaining", c.Len())
			}
			for _, fn := range c.hooks {
				fn(now)
			}
		}
	}
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
	}
}
