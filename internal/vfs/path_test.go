package vfs

import (
	"reflect"
	"testing"
)

func TestNewPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Path
	}{
		{"empty path", "", "/"},
		{"root path", "/", "/"},
		{"relative path", "a/b", "/a/b"},
		{"absolute path", "/a/b", "/a/b"},
		{"trailing slash", "/a/b/", "/a/b"},
		{"double slashes", "//a//b", "/a/b"},
		{"dot segments", "/a/./b/../c", "/a/c"},
		{"escaping root", "/../..", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewPath(tt.input); got != tt.want {
				t.Errorf("NewPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPathRelations(t *testing.T) {
	tests := []struct {
		name     string
		path     Path
		parent   Path
		base     string
		segments []string
	}{
		{"root", "/", "/", "", nil},
		{"top level", "/a", "/", "a", []string{"a"}},
		{"nested", "/a/b/c", "/a/b", "c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.path.Parent(); got != tt.parent {
				t.Errorf("Parent() = %q, want %q", got, tt.parent)
			}
			if got := tt.path.Base(); got != tt.base {
				t.Errorf("Base() = %q, want %q", got, tt.base)
			}
			if got := tt.path.Segments(); !reflect.DeepEqual(got, tt.segments) {
				t.Errorf("Segments() = %v, want %v", got, tt.segments)
			}
		})
	}
}

func TestPathContains(t *testing.T) {
	tests := []struct {
		p, q Path
		want bool
	}{
		{"/", "/a", true},
		{"/", "/", false},
		{"/a", "/a/b", true},
		{"/a", "/a", false},
		{"/a", "/ab", false},
		{"/a", "/a-x/b", false},
		{"/a/b", "/a", false},
	}
	for _, tt := range tests {
		if got := tt.p.Contains(tt.q); got != tt.want {
			t.Errorf("%q.Contains(%q) = %v, want %v", tt.p, tt.q, got, tt.want)
		}
	}
}

func TestPathRel(t *testing.T) {
	tests := []struct {
		p, mount Path
		want     string
	}{
		{"/docs", "/docs", ""},
		{"/docs/a/b", "/docs", "a/b"},
		{"/docs", "/", "docs"},
		{"/", "/", ""},
	}
	for _, tt := range tests {
		if got := tt.p.Rel(tt.mount); got != tt.want {
			t.Errorf("%q.Rel(%q) = %q, want %q", tt.p, tt.mount, got, tt.want)
		}
	}
	if !Path("/docs/a").Within("/docs") || !Path("/docs").Within("/docs") || Path("/docsx").Within("/docs") {
		t.Error("Within does not match Contains plus equality")
	}
	if got := Root.Join("a").Join("b"); got != "/a/b" {
		t.Errorf("Join = %q, want /a/b", got)
	}
}
