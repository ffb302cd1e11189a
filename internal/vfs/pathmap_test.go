package vfs

import (
	"reflect"
	"testing"
)

func newTestPathMap(paths ...Path) *PathMap {
	m := NewPathMap()
	for _, p := range paths {
		m.Set(p, &Handler{mountPath: p, kind: kindContainer})
	}
	return m
}

func TestPathMapGetSetDelete(t *testing.T) {
	m := newTestPathMap("/a")

	h, ok := m.Get("/a")
	if !ok || h.mountPath != "/a" {
		t.Fatalf("Get(/a) = %v, %v", h, ok)
	}
	if _, ok := m.Get("/a/b"); ok {
		t.Error("Get must only match exact paths")
	}
	if replaced := m.Set("/a", &Handler{mountPath: "/a"}); !replaced {
		t.Error("Set over an existing entry should report a replacement")
	}
	if _, ok := m.Delete("/a"); !ok {
		t.Error("Delete(/a) found nothing")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after delete, want 0", m.Len())
	}
}

func TestPathMapDescendants(t *testing.T) {
	m := newTestPathMap("/", "/a", "/a-x", "/a/b", "/a/b/c", "/a0", "/b")

	tests := []struct {
		name string
		path Path
		want []Path
	}{
		{"root", "/", []Path{"/a", "/a-x", "/a/b", "/a/b/c", "/a0", "/b"}},
		{"subtree", "/a", []Path{"/a/b", "/a/b/c"}},
		{"leaf", "/a/b/c", nil},
		{"unmounted prefix", "/a/b/c/d", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Path
			m.Descendants(tt.path, func(p Path, _ *Handler) bool {
				got = append(got, p)
				return true
			})
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Descendants(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestPathMapMountedAncestors(t *testing.T) {
	m := newTestPathMap("/", "/a", "/a-x", "/a/b", "/media/music/rock", "/media/video")

	if !m.IsPartOfMountedPath("/media") || !m.IsPartOfMountedPath("/media/music") {
		t.Error("Expected /media and /media/music to be part of a mounted path")
	}
	if m.IsPartOfMountedPath("/media/video") || m.IsPartOfMountedPath("/other") {
		t.Error("Leaf mounts and unknown paths are not part of a mounted path")
	}

	if got := m.TopLevelNames(); !reflect.DeepEqual(got, []string{"a", "a-x", "media"}) {
		t.Errorf("TopLevelNames() = %v", got)
	}
	if got := m.ChildNames("/media"); !reflect.DeepEqual(got, []string{"music", "video"}) {
		t.Errorf("ChildNames(/media) = %v", got)
	}
	if got := m.ChildNames("/a"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("ChildNames(/a) = %v", got)
	}
}
