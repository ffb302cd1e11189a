package vfs

import (
	"github.com/google/btree"
)

type mapEntry struct {
	path    Path
	handler *Handler
}

// PathMap is the ordered mount table. Ordering keeps every subtree
// contiguous, so descendant scans are range scans. Not safe for concurrent
// use; the VFS lock guards it.
type PathMap struct {
	tree *btree.BTreeG[mapEntry]
}

// NewPathMap creates an empty map.
func NewPathMap() *PathMap {
	return &PathMap{
		tree: btree.NewG(8, func(a, b mapEntry) bool { return a.path < b.path }),
	}
}

// Get returns the handler mounted exactly at p.
func (m *PathMap) Get(p Path) (*Handler, bool) {
	e, ok := m.tree.Get(mapEntry{path: p})
	return e.handler, ok
}

// Set mounts h at p, reporting whether an entry was replaced.
func (m *PathMap) Set(p Path, h *Handler) bool {
	_, replaced := m.tree.ReplaceOrInsert(mapEntry{path: p, handler: h})
	return replaced
}

// Delete removes the entry at p.
func (m *PathMap) Delete(p Path) (*Handler, bool) {
	e, ok := m.tree.Delete(mapEntry{path: p})
	return e.handler, ok
}

// Len returns the number of entries.
func (m *PathMap) Len() int {
	return m.tree.Len()
}

// Clear drops every entry.
func (m *PathMap) Clear() {
	m.tree.Clear(false)
}

// Ascend visits entries in path order until fn returns false.
func (m *PathMap) Ascend(fn func(Path, *Handler) bool) {
	m.tree.Ascend(func(e mapEntry) bool {
		return fn(e.path, e.handler)
	})
}

// Descendants visits entries strictly beneath p in path order.
func (m *PathMap) Descendants(p Path, fn func(Path, *Handler) bool) {
	pivot := Path(string(p) + "/")
	if p.IsRoot() {
		pivot = Root
	}
	m.tree.AscendGreaterOrEqual(mapEntry{path: pivot}, func(e mapEntry) bool {
		if !p.Contains(e.path) {
			// the root pivot also visits "/" itself
			return e.path.IsRoot()
		}
		return fn(e.path, e.handler)
	})
}

// IsPartOfMountedPath reports whether some mount lives strictly beneath p.
func (m *PathMap) IsPartOfMountedPath(p Path) bool {
	found := false
	m.Descendants(p, func(Path, *Handler) bool {
		found = true
		return false
	})
	return found
}

// ChildNames returns, once each and in path order, the names of the children of
// p that lead to a mount.
func (m *PathMap) ChildNames(p Path) []string {
	var names []string
	seen := make(map[string]bool)
	m.Descendants(p, func(q Path, _ *Handler) bool {
		name := p.childName(q)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return true
	})
	return names
}

// TopLevelNames returns the first segment of every mount, once each.
func (m *PathMap) TopLevelNames() []string {
	return m.ChildNames(Root)
}
