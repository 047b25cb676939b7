package problems

import (
	"sort"
	"sync"

	"github.com/dshills/cindex-mcp/pkg/types"
)

// MarkerStore holds committed problems per file. It is the default sink
// for a Collector.
type MarkerStore struct {
	mu      sync.RWMutex
	markers map[string][]types.Problem
}

// NewMarkerStore creates an empty store
func NewMarkerStore() *MarkerStore {
	return &MarkerStore{markers: make(map[string][]types.Problem)}
}

// RemoveMarkers drops the markers of file raised by originator, or all of
// them when originator is empty
func (m *MarkerStore) RemoveMarkers(file, originator string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if originator == "" {
		delete(m.markers, file)
		return
	}
	kept := m.markers[file][:0]
	for _, p := range m.markers[file] {
		if p.Originator != originator {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(m.markers, file)
		return
	}
	m.markers[file] = kept
}

// AddMarker records p unless a marker with the same line and message exists
func (m *MarkerStore) AddMarker(file string, p types.Problem) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.markers[file] {
		if existing.Line == p.Line && existing.Message == p.Message {
			return false
		}
	}
	m.markers[file] = append(m.markers[file], p)
	return true
}

// Markers returns a copy of the markers of file ordered by line
func (m *MarkerStore) Markers(file string) []types.Problem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Problem, len(m.markers[file]))
	copy(out, m.markers[file])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

// Files lists files that carry markers
func (m *MarkerStore) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.markers))
	for f := range m.markers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of markers
func (m *MarkerStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, list := range m.markers {
		n += len(list)
	}
	return n
}
