package enddevice

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/lora-relay/internal/frame"
)

// ErrInvalidID is returned when an end device id is empty or blank.
var ErrInvalidID = errors.New("enddevice: id must not be empty")

// Logger defines the logging interface used by the Registry.
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

// Registry is the set of end devices whose traffic is relayed.
//
// Devices are kept by their 32-bit wire id so the dispatcher can filter
// frames without hashing. The original id string is kept for listing.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[uint32]string
	logger  Logger
}

// NewRegistry creates a registry seeded with ids. Blank ids are rejected.
func NewRegistry(ids []string) (*Registry, error) {
	r := &Registry{
		devices: make(map[uint32]string, len(ids)),
		logger:  noopLogger{},
	}
	if _, err := r.Add(ids); err != nil {
		return nil, err
	}
	return r, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// List returns a sorted snapshot of the tracked ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []string {
	ids := make([]string, 0, len(r.devices))
	for _, id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Add inserts ids and returns the resulting set. Ids already present are
// ignored. If any id is blank nothing is added.
func (r *Registry) Add(ids []string) ([]string, error) {
	if err := validate(ids); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, id := range ids {
		wire := frame.DeviceID(id)
		if existing, ok := r.devices[wire]; ok {
			if existing != id {
				r.logger.Warn("end device wire id collision", "id", id, "existing", existing, "wire_id", wire)
			}
			continue
		}
		r.devices[wire] = id
		added++
	}
	if added > 0 {
		r.logger.Info("end devices added", "added", added, "total", len(r.devices))
	}
	return r.listLocked(), nil
}

// Remove deletes ids and returns the resulting set. Ids not present are
// ignored. If any id is blank nothing is removed.
func (r *Registry) Remove(ids []string) ([]string, error) {
	if err := validate(ids); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, id := range ids {
		wire := frame.DeviceID(id)
		if existing, ok := r.devices[wire]; ok && existing == id {
			delete(r.devices, wire)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("end devices removed", "removed", removed, "total", len(r.devices))
	}
	return r.listLocked(), nil
}

// Contains reports whether id is tracked.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	existing, ok := r.devices[frame.DeviceID(id)]
	return ok && existing == id
}

// ContainsWire reports whether a frame source id belongs to a tracked device.
func (r *Registry) ContainsWire(wire uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[wire]
	return ok
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func validate(ids []string) error {
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: entry %d", ErrInvalidID, i)
		}
	}
	return nil
}
