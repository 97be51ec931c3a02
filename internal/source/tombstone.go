package source

import (
	"sort"
	"sync"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// TombstoneBackend persists deleted project ids.
type TombstoneBackend interface {
	AddTombstone(projectID string) error
	RemoveTombstone(projectID string) error
	Tombstones() ([]string, error)
}

// TombstoneSet is the set of user-deleted project ids. It is merged into
// every resolved project list so a deleted project stays hidden even when
// a stale source still carries it. Entries never expire: a project
// recreated elsewhere under the same id stays hidden until Clear is
// called for it.
type TombstoneSet struct {
	mu      sync.RWMutex
	ids     map[string]bool
	backend TombstoneBackend
}

// NewTombstoneSet loads the persisted ids from backend. A nil backend
// keeps the set in memory only.
func NewTombstoneSet(backend TombstoneBackend) (*TombstoneSet, error) {
	ts := &TombstoneSet{ids: map[string]bool{}, backend: backend}
	if backend == nil {
		return ts, nil
	}
	ids, err := backend.Tombstones()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		ts.ids[id] = true
	}
	return ts, nil
}

// Add records id. The in-memory set is updated even when persisting fails.
func (ts *TombstoneSet) Add(id string) error {
	ts.mu.Lock()
	ts.ids[id] = true
	ts.mu.Unlock()
	if ts.backend == nil {
		return nil
	}
	return ts.backend.AddTombstone(id)
}

// Clear forgets id, allowing a project with that id to be shown again.
func (ts *TombstoneSet) Clear(id string) error {
	ts.mu.Lock()
	delete(ts.ids, id)
	ts.mu.Unlock()
	if ts.backend == nil {
		return nil
	}
	return ts.backend.RemoveTombstone(id)
}

// Has reports whether id is tombstoned.
func (ts *TombstoneSet) Has(id string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.ids[id]
}

// IDs returns the tombstoned ids in sorted order.
func (ts *TombstoneSet) IDs() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]string, 0, len(ts.ids))
	for id := range ts.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Filter removes tombstoned projects and their tasks from ds.
func (ts *TombstoneSet) Filter(ds *types.Dataset) int {
	ts.mu.RLock()
	var hit []string
	for _, p := range ds.Projects {
		if ts.ids[p.ID] {
			hit = append(hit, p.ID)
		}
	}
	for id := range ds.ProjectTasks {
		if ts.ids[id] {
			hit = append(hit, id)
		}
	}
	ts.mu.RUnlock()

	removed := 0
	for _, id := range hit {
		if ds.RemoveProject(id) {
			removed++
		}
	}
	return removed
}
