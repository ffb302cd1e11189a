package vfs

import (
	"reflect"
	"testing"

	"safedrive/internal/container"
)

func TestOverlayVirtualDirectories(t *testing.T) {
	o := NewOverlay()

	if !o.Mkdir("/d/a/b") {
		t.Fatal("Mkdir of a new path reported an existing entry")
	}
	if o.Mkdir("/d/a/b") {
		t.Error("Mkdir of an existing virtual directory should report false")
	}
	if !o.IsVirtual("/d/a/b") || o.IsVirtual("/d/a") {
		t.Error("Only /d/a/b should be virtual")
	}
	if !o.HasVirtualDescendant("/d") || o.HasVirtualDescendant("/d/a/b") {
		t.Error("HasVirtualDescendant must be strict")
	}

	a, ok := o.VirtualAttributes("/d/a/b")
	if !ok || a.IsFile || a.EntryType != container.EntryVirtual {
		t.Errorf("VirtualAttributes(/d/a/b) = %+v, %v", a, ok)
	}
	again, _ := o.VirtualAttributes("/d/a/b")
	if !again.Modified.Equal(a.Modified) {
		t.Error("Virtual attributes should be a stable snapshot")
	}
	if _, ok := o.VirtualAttributes("/d/a"); !ok {
		t.Error("An ancestor of a virtual directory should have attributes")
	}
	if _, ok := o.VirtualAttributes("/d/x"); ok {
		t.Error("Unrelated path should have no virtual attributes")
	}
}

func TestOverlayChildrenAndMerge(t *testing.T) {
	o := NewOverlay()
	o.Mkdir("/d/b")
	o.Mkdir("/d/a/deep")
	o.Mkdir("/d/a")

	if got := o.Children("/d"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Children(/d) = %v", got)
	}
	if got := o.Merge("/d", []string{"b", "file"}); !reflect.DeepEqual(got, []string{"b", "file", "a"}) {
		t.Errorf("Merge(/d) = %v", got)
	}
	if got := o.Children("/d/b"); len(got) != 0 {
		t.Errorf("Children(/d/b) = %v, want none", got)
	}
}

func TestOverlayRename(t *testing.T) {
	o := NewOverlay()
	o.Mkdir("/d/a")
	o.Mkdir("/d/a/b")
	o.Mkdir("/d/ab")

	if moved := o.Rename("/d/a", "/d/z"); moved != 2 {
		t.Errorf("Rename moved %d entries, want 2", moved)
	}
	want := []Path{"/d/ab", "/d/z", "/d/z/b"}
	if got := o.Paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("Paths() = %v, want %v", got, want)
	}
}

func TestOverlayClearAncestors(t *testing.T) {
	o := NewOverlay()
	o.Mkdir("/d/a")
	o.Mkdir("/d/a/b")
	o.Mkdir("/x")

	// /d is real, so the walk stops there
	if cleared := o.ClearAncestors("/d/a/b/file"); cleared != 2 {
		t.Errorf("ClearAncestors cleared %d, want 2", cleared)
	}
	if got := o.Paths(); !reflect.DeepEqual(got, []Path{"/x"}) {
		t.Errorf("Paths() = %v, want [/x]", got)
	}

	o.Mkdir("/d/a/b")
	o.RemoveBeneath("/d")
	if got := o.Paths(); !reflect.DeepEqual(got, []Path{"/x"}) {
		t.Errorf("Paths() after RemoveBeneath = %v", got)
	}
}

func TestOverlayInvalidate(t *testing.T) {
	o := NewOverlay()
	h := &Handler{mountPath: "/d", kind: kindContainer}
	other := &Handler{mountPath: "/e", kind: kindContainer}

	for _, rel := range []string{"", "a", "a/b", "a/b/c", "a/bc", "z"} {
		o.StoreAttributes(h, rel, container.Attributes{})
		o.StoreListing(h, rel, []string{"x"})
	}
	o.StoreAttributes(other, "a/b", container.Attributes{})

	o.Invalidate(h, "a/b")

	for rel, want := range map[string]bool{"": false, "a": false, "a/b": false, "a/b/c": false, "a/bc": true, "z": true} {
		if _, ok := o.CachedAttributes(h, rel); ok != want {
			t.Errorf("Cached attributes for %q present = %v, want %v", rel, ok, want)
		}
		if _, ok := o.CachedListing(h, rel); ok != want {
			t.Errorf("Cached listing for %q present = %v, want %v", rel, ok, want)
		}
	}
	if _, ok := o.CachedAttributes(other, "a/b"); !ok {
		t.Error("Invalidate must not touch other handlers")
	}

	o.Forget(h)
	if _, ok := o.CachedAttributes(h, "z"); ok {
		t.Error("Forget left cached attributes behind")
	}
}

func TestOverlayCachedListingIsCopy(t *testing.T) {
	o := NewOverlay()
	h := &Handler{mountPath: "/d", kind: kindContainer}
	names := []string{"a", "b"}
	o.StoreListing(h, "", names)
	names[0] = "changed"

	got, _ := o.CachedListing(h, "")
	got[1] = "changed"
	again, _ := o.CachedListing(h, "")
	if !reflect.DeepEqual(again, []string{"a", "b"}) {
		t.Errorf("Cached listing was aliased: %v", again)
	}
}
