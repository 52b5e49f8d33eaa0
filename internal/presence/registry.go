// Package presence tracks which subjects currently hold realtime
// connections.
package presence

import (
	"sort"
	"sync"
)

// Registry maps each subject to the set of its open connection IDs. A
// subject is present while its set is non-empty.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	subjects map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subjects: make(map[string]map[string]struct{})}
}

// Add records connID for subjectID. It reports whether the subject was
// absent before, i.e. whether presence was gained. Adding the same
// connection twice is a no-op.
func (r *Registry) Add(subjectID, connID string) (gained bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.subjects[subjectID]
	if !ok {
		conns = make(map[string]struct{})
		r.subjects[subjectID] = conns
	}
	conns[connID] = struct{}{}
	return !ok
}

// Remove drops connID for subjectID. It reports whether this removal
// emptied the subject's set, i.e. whether presence was lost. Removing an
// unknown connection is a no-op that reports false.
func (r *Registry) Remove(subjectID, connID string) (lost bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.subjects[subjectID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}
	delete(r.subjects, subjectID)
	return true
}

// IsEmpty reports whether subjectID has no open connections.
func (r *Registry) IsEmpty(subjectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects[subjectID]) == 0
}

// Connections returns how many connections subjectID holds.
func (r *Registry) Connections(subjectID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects[subjectID])
}

// Count returns the number of present subjects.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

// Subjects returns the present subject IDs, sorted.
func (r *Registry) Subjects() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.subjects))
	for id := range r.subjects {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}
