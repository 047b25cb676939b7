// Package deps tracks which headers a project-wide sweep has already reached.
//
// The memo only saves work: a header reached through several #include paths
// in one sweep is indexed once as a standalone file. It is never consulted
// to decide what an index contains.
package deps

import (
	"sort"
	"sync"
)

// Tracker is the per-project encountered-headers table
type Tracker struct {
	mu       sync.Mutex
	projects map[string]map[string]struct{}
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{projects: make(map[string]map[string]struct{})}
}

// HaveEncounteredHeader reports whether (project, file) was recorded before.
// The first caller for a pair records it and gets false; the check and the
// insert happen under one lock.
func (t *Tracker) HaveEncounteredHeader(project, file string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	headers, ok := t.projects[project]
	if !ok {
		headers = make(map[string]struct{})
		t.projects[project] = headers
	}
	if _, seen := headers[file]; seen {
		return true
	}
	headers[file] = struct{}{}
	return false
}

// Encountered reports whether (project, file) was recorded, without recording it
func (t *Tracker) Encountered(project, file string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, seen := t.projects[project][file]
	return seen
}

// ResetEncounteredHeaders clears every project's table. Callers hold the
// write lock of the indexes involved.
func (t *Tracker) ResetEncounteredHeaders() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.projects = make(map[string]map[string]struct{})
}

// ResetProject starts a fresh table for one project
func (t *Tracker) ResetProject(project string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.projects, project)
}

// Count returns how many headers were recorded for a project
func (t *Tracker) Count(project string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.projects[project])
}

// Headers lists the recorded headers of a project, sorted
func (t *Tracker) Headers(project string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.projects[project]))
	for h := range t.projects[project] {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
