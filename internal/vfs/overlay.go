package vfs

import (
	"sort"
	"strings"
	"time"

	"safedrive/internal/container"
)

// Overlay holds directories that exist only in memory and memoizes
// attribute and listing results per handler. Callers hold the VFS lock.
type Overlay struct {
	// a nil snapshot means the directory exists with unknown contents
	dirs  map[Path]*container.Attributes
	attrs map[*Handler]map[string]container.Attributes
	lists map[*Handler]map[string][]string
}

// NewOverlay creates an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{
		dirs:  make(map[Path]*container.Attributes),
		attrs: make(map[*Handler]map[string]container.Attributes),
		lists: make(map[*Handler]map[string][]string),
	}
}

func dirAttributes(t time.Time, entryType container.EntryType) container.Attributes {
	return container.Attributes{
		Modified:  t,
		Accessed:  t,
		Created:   t,
		EntryType: entryType,
	}
}

// IsVirtual reports whether p is a virtual directory.
func (o *Overlay) IsVirtual(p Path) bool {
	_, ok := o.dirs[p]
	return ok
}

// Mkdir records p as a virtual directory. It reports false when p already
// was one.
func (o *Overlay) Mkdir(p Path) bool {
	if o.IsVirtual(p) {
		return false
	}
	o.dirs[p] = nil
	return true
}

// Remove forgets the virtual directory at p.
func (o *Overlay) Remove(p Path) bool {
	if !o.IsVirtual(p) {
		return false
	}
	delete(o.dirs, p)
	return true
}

// HasVirtualDescendant reports whether a virtual directory lies beneath p.
func (o *Overlay) HasVirtualDescendant(p Path) bool {
	for q := range o.dirs {
		if p.Contains(q) {
			return true
		}
	}
	return false
}

// VirtualAttributes synthesizes directory attributes when p is virtual or
// is an ancestor of a virtual directory.
func (o *Overlay) VirtualAttributes(p Path) (container.Attributes, bool) {
	if snap, ok := o.dirs[p]; ok {
		if snap == nil {
			a := dirAttributes(time.Now(), container.EntryVirtual)
			snap = &a
			o.dirs[p] = snap
		}
		return *snap, true
	}
	if o.HasVirtualDescendant(p) {
		return dirAttributes(time.Now(), container.EntryVirtual), true
	}
	return container.Attributes{}, false
}

// Children returns the sorted names of the virtual entries directly beneath p,
// including names implied by deeper virtual directories.
func (o *Overlay) Children(p Path) []string {
	seen := make(map[string]bool)
	names := []string{}
	for q := range o.dirs {
		if !p.Contains(q) {
			continue
		}
		name := p.childName(q)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of names extended with the virtual children of p
// that it does not already contain.
func (o *Overlay) Merge(p Path, names []string) []string {
	merged := make([]string, len(names), len(names)+len(o.dirs))
	copy(merged, names)
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for _, n := range o.Children(p) {
		if !present[n] {
			merged = append(merged, n)
		}
	}
	return merged
}

// Rename moves the virtual directory at from, and every virtual directory
// beneath it, to to. It returns the number of entries moved.
func (o *Overlay) Rename(from, to Path) int {
	moved := 0
	for q, snap := range o.dirs {
		var dest Path
		switch {
		case q == from:
			dest = to
		case from.Contains(q):
			dest = Path(string(to) + strings.TrimPrefix(string(q), string(from)))
		default:
			continue
		}
		delete(o.dirs, q)
		o.dirs[dest] = snap
		moved++
	}
	return moved
}

// ClearAncestors removes the virtual ancestors of p, walking upward until
// the first ancestor that is not virtual. Called once a real entry exists at p.
func (o *Overlay) ClearAncestors(p Path) int {
	cleared := 0
	for q := p.Parent(); !q.IsRoot(); q = q.Parent() {
		if !o.Remove(q) {
			break
		}
		cleared++
	}
	return cleared
}

// RemoveBeneath drops every virtual directory at or below p.
func (o *Overlay) RemoveBeneath(p Path) {
	for q := range o.dirs {
		if q == p || p.Contains(q) {
			delete(o.dirs, q)
		}
	}
}

// Paths returns the virtual directories in sorted order.
func (o *Overlay) Paths() []Path {
	paths := make([]Path, 0, len(o.dirs))
	for p := range o.dirs {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// CachedAttributes returns memoized attributes for rel under h.
func (o *Overlay) CachedAttributes(h *Handler, rel string) (container.Attributes, bool) {
	a, ok := o.attrs[h][rel]
	return a, ok
}

// StoreAttributes memoizes attributes for rel under h.
func (o *Overlay) StoreAttributes(h *Handler, rel string, a container.Attributes) {
	m, ok := o.attrs[h]
	if !ok {
		m = make(map[string]container.Attributes)
		o.attrs[h] = m
	}
	m[rel] = a
}

// CachedListing returns a copy of the memoized listing for rel under h.
func (o *Overlay) CachedListing(h *Handler, rel string) ([]string, bool) {
	names, ok := o.lists[h][rel]
	if !ok {
		return nil, false
	}
	return append([]string(nil), names...), true
}

// StoreListing memoizes the listing of rel under h.
func (o *Overlay) StoreListing(h *Handler, rel string, names []string) {
	m, ok := o.lists[h]
	if !ok {
		m = make(map[string][]string)
		o.lists[h] = m
	}
	m[rel] = append([]string(nil), names...)
}

// Invalidate drops cached results for rel, everything beneath it, and every
// ancestor up to the container root.
func (o *Overlay) Invalidate(h *Handler, rel string) {
	stale := func(key string) bool {
		switch {
		case key == rel:
			return true
		case rel == "":
			return true
		case strings.HasPrefix(key, rel+"/"):
			return true
		case key == "":
			return true
		}
		return strings.HasPrefix(rel, key+"/")
	}
	for key := range o.attrs[h] {
		if stale(key) {
			delete(o.attrs[h], key)
		}
	}
	for key := range o.lists[h] {
		if stale(key) {
			delete(o.lists[h], key)
		}
	}
}

// Forget drops every cached result of h.
func (o *Overlay) Forget(h *Handler) {
	delete(o.attrs, h)
	delete(o.lists, h)
}

// Reset drops all virtual directories and cached results.
func (o *Overlay) Reset() {
	o.dirs = make(map[Path]*container.Attributes)
	o.attrs = make(map[*Handler]map[string]container.Attributes)
	o.lists = make(map[*Handler]map[string][]string)
}
