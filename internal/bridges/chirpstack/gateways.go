package chirpstack

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Gateway is a gateway the relay can reach.
type Gateway struct {
	ID        string    `json:"id"`
	Seeded    bool      `json:"seeded"`
	FirstSeen time.Time `json:"first_seen,omitempty"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	Uplinks   uint64    `json:"uplinks"`
	Downlinks uint64    `json:"downlinks"`
}

// GatewaySet is the set of gateways downlinks are flooded to. It is seeded
// from configuration and grows as uplinks arrive from new gateways.
//
// All public methods are thread-safe.
type GatewaySet struct {
	mu       sync.RWMutex
	gateways map[string]*Gateway
}

// NewGatewaySet creates a set seeded with ids. Ids are lower-cased.
func NewGatewaySet(ids []string) *GatewaySet {
	s := &GatewaySet{gateways: make(map[string]*Gateway, len(ids))}
	for _, id := range ids {
		id = normalizeID(id)
		if id == "" {
			continue
		}
		s.gateways[id] = &Gateway{ID: id, Seeded: true}
	}
	return s
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Learn records an uplink from id and reports whether id was new.
func (s *GatewaySet) Learn(id string, at time.Time) bool {
	id = normalizeID(id)
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gateways[id]
	if !ok {
		g = &Gateway{ID: id}
		s.gateways[id] = g
	}
	if g.FirstSeen.IsZero() {
		g.FirstSeen = at
	}
	g.LastSeen = at
	g.Uplinks++
	return !ok
}

// RecordDownlink counts a downlink published to id.
func (s *GatewaySet) RecordDownlink(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gateways[normalizeID(id)]; ok {
		g.Downlinks++
	}
}

// IDs returns the sorted gateway ids.
func (s *GatewaySet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.gateways))
	for id := range s.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns copies of every gateway, sorted by id.
func (s *GatewaySet) List() []Gateway {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Gateway, 0, len(s.gateways))
	for _, g := range s.gateways {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of known gateways.
func (s *GatewaySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gateways)
}
