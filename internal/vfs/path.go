package vfs

import (
	"path"
	"strings"
)

// Path is a normalized absolute filesystem path. The zero value is not
// valid; use NewPath.
type Path string

// Root is the filesystem root.
const Root Path = "/"

// NewPath cleans p and makes it absolute. The empty string is the root.
func NewPath(p string) Path {
	if p == "" {
		return Root
	}
	return Path(path.Clean("/" + p))
}

// String returns the string representation of the path
func (p Path) String() string {
	return string(p)
}

// IsRoot returns true if this is the root path "/"
func (p Path) IsRoot() bool {
	return p == Root
}

// Parent returns the parent directory. The parent of the root is the root.
func (p Path) Parent() Path {
	return Path(path.Dir(string(p)))
}

// Base returns the last element of the path, "" for the root.
func (p Path) Base() string {
	if p.IsRoot() {
		return ""
	}
	return path.Base(string(p))
}

// Join appends a single name.
func (p Path) Join(name string) Path {
	return NewPath(string(p) + "/" + name)
}

// Contains reports whether q is strictly beneath p.
func (p Path) Contains(q Path) bool {
	if p.IsRoot() {
		return !q.IsRoot()
	}
	return strings.HasPrefix(string(q), string(p)+"/")
}

// Within reports whether p equals mount or lies beneath it.
func (p Path) Within(mount Path) bool {
	return p == mount || mount.Contains(p)
}

// Rel strips mount from p, giving the container relative path. It returns
// "" when p is the mount itself.
func (p Path) Rel(mount Path) string {
	if p == mount {
		return ""
	}
	if mount.IsRoot() {
		return strings.TrimPrefix(string(p), "/")
	}
	return strings.TrimPrefix(string(p), string(mount)+"/")
}

// Segments splits the path into its names. The root has none.
func (p Path) Segments() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(strings.TrimPrefix(string(p), "/"), "/")
}

// childName returns the name of the child of p on the way to q, assuming
// p.Contains(q).
func (p Path) childName(q Path) string {
	rest := q.Rel(p)
	name, _, _ := strings.Cut(rest, "/")
	return name
}
