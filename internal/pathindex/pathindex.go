// Package pathindex interns canonical path strings to the int64 node IDs that
// gonum's graph types require, and back. It is the thin bridge between the
// analysis core's Path-keyed maps and gonum.org/v1/gonum/graph's integer node
// identity, used by pkg/depgraph, pkg/dsm, and pkg/libgraph alike so all three
// share one notion of "the node for this path".
//
// Adapted from the SymbolTable in a prior revision of this module's
// topological-sort helper: same double-checked-locking intern pattern, IDs
// widened from int to int64 for direct use as gonum node IDs.
package pathindex

import "sync"

// Index provides a bidirectional mapping between canonical path strings and
// the int64 IDs gonum graph nodes use. Zero value is not usable; use [New].
type Index struct {
	strToID map[string]int64
	idToStr []string
	mu      sync.RWMutex
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		strToID: make(map[string]int64),
	}
}

// Intern returns the unique ID for path, assigning a new one on first sight.
func (idx *Index) Intern(path string) int64 {
	idx.mu.RLock()
	id, ok := idx.strToID[path]
	idx.mu.RUnlock()

	if ok {
		return id
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if id, ok := idx.strToID[path]; ok {
		return id
	}

	id = int64(len(idx.idToStr))
	idx.idToStr = append(idx.idToStr, path)
	idx.strToID[path] = id

	return id
}

// Lookup returns the ID already assigned to path, if any, without interning it.
func (idx *Index) Lookup(path string) (int64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	id, ok := idx.strToID[path]

	return id, ok
}

// Resolve returns the path string for id, or "" if id is out of range.
func (idx *Index) Resolve(id int64) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if id < 0 || int(id) >= len(idx.idToStr) {
		return ""
	}

	return idx.idToStr[id]
}

// Len returns the number of interned paths.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.idToStr)
}

// Paths returns every interned path in ID order (i.e. insertion order). The
// returned slice is owned by the caller.
func (idx *Index) Paths() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, len(idx.idToStr))
	copy(out, idx.idToStr)

	return out
}
