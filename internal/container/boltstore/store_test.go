package boltstore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"safedrive/internal/container"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "containers.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestContainer(t *testing.T) container.Handle {
	t.Helper()
	c, err := newTestStore(t).Materialize(context.Background(), container.Ref{Name: "_documents"})
	if err != nil {
		t.Fatalf("Failed to materialize container: %v", err)
	}
	return c
}

func writeFile(t *testing.T, c container.Handle, rel string, data []byte) {
	t.Helper()
	ctx := context.Background()
	fd, err := c.CreateFile(ctx, rel)
	if err != nil {
		t.Fatalf("CreateFile(%s) failed: %v", rel, err)
	}
	if _, err := c.WriteFileBuf(ctx, rel, fd, data, 0); err != nil {
		t.Fatalf("WriteFileBuf(%s) failed: %v", rel, err)
	}
	if err := c.CloseFile(ctx, rel, fd); err != nil {
		t.Fatalf("CloseFile(%s) failed: %v", rel, err)
	}
}

func readFile(t *testing.T, c container.Handle, rel string) []byte {
	t.Helper()
	ctx := context.Background()
	fd, err := c.OpenFile(ctx, rel, container.ModeRead)
	if err != nil {
		t.Fatalf("OpenFile(%s) failed: %v", rel, err)
	}
	defer c.CloseFile(ctx, rel, fd)
	a, err := c.ItemAttributes(ctx, rel, fd)
	if err != nil {
		t.Fatalf("ItemAttributes(%s) failed: %v", rel, err)
	}
	buf := make([]byte, a.Size)
	n, err := c.ReadFileBuf(ctx, rel, fd, buf, 0)
	if err != nil {
		t.Fatalf("ReadFileBuf(%s) failed: %v", rel, err)
	}
	return buf[:n]
}

func TestCodecRoundTrip(t *testing.T) {
	c, err := newCodec()
	if err != nil {
		t.Fatalf("newCodec failed: %v", err)
	}
	defer c.close()

	data := bytes.Repeat([]byte("safedrive "), 1000)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw, err := c.encode(data, created, created.Add(time.Hour))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(raw) >= len(data) {
		t.Errorf("Encoded record is %d bytes, expected compression below %d", len(raw), len(data))
	}

	rec, got, err := c.decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Payload changed in the round trip")
	}
	if rec.Size != int64(len(data)) || !rec.Created.Equal(created) {
		t.Errorf("Record metadata = size %d created %v", rec.Size, rec.Created)
	}
	if _, err := c.decodeMeta([]byte{0xff}); err == nil {
		t.Error("Expected an error for a corrupt record")
	}
}

func TestMaterialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Materialize(ctx, container.Ref{Locator: "safe://blog"}); !errors.Is(err, container.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unpublished site, got %v", err)
	}
	if err := s.CreateSite("blog"); err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}
	site, err := s.Materialize(ctx, container.Ref{Locator: "safe://blog"})
	if err != nil {
		t.Fatalf("Materialize of a published site failed: %v", err)
	}
	if names, err := site.ListFolder(ctx, ""); err != nil || len(names) != 0 {
		t.Errorf("New site listing = %v, %v", names, err)
	}
	if _, err := s.Materialize(ctx, container.Ref{}); !errors.Is(err, container.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an empty reference, got %v", err)
	}
}

func TestFilesSurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "containers.db")
	ctx := context.Background()

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	c, err := s.Materialize(ctx, container.Ref{Name: "_documents"})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	writeFile(t, c, "notes/today.txt", []byte("remember the milk"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()
	c, err = s.Materialize(ctx, container.Ref{Name: "_documents"})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if got := readFile(t, c, "notes/today.txt"); string(got) != "remember the milk" {
		t.Errorf("Read back %q", got)
	}
}

func TestImpliedDirectories(t *testing.T) {
	c := newTestContainer(t)
	ctx := context.Background()
	writeFile(t, c, "a/b/x", []byte("1"))
	writeFile(t, c, "a/y", []byte("22"))
	writeFile(t, c, "a-b", []byte("333"))

	names, err := c.ListFolder(ctx, "")
	if err != nil || !reflect.DeepEqual(names, []string{"a", "a-b"}) {
		t.Errorf("Root listing = %v, %v", names, err)
	}
	names, err = c.ListFolder(ctx, "a")
	if err != nil || !reflect.DeepEqual(names, []string{"b", "y"}) {
		t.Errorf("ListFolder(a) = %v, %v", names, err)
	}
	if _, err := c.ListFolder(ctx, "a/y"); !errors.Is(err, container.ErrNotDir) {
		t.Errorf("ListFolder of a file error = %v, want ErrNotDir", err)
	}
	if _, err := c.ListFolder(ctx, "nope"); !errors.Is(err, container.ErrNotFound) {
		t.Errorf("ListFolder of a missing dir error = %v, want ErrNotFound", err)
	}

	a, err := c.ItemAttributes(ctx, "a", 0)
	if err != nil || a.IsFile || a.EntryType != container.EntryContainer {
		t.Errorf("Directory attributes = %+v, %v", a, err)
	}
	a, err = c.ItemAttributes(ctx, "a-b", 0)
	if err != nil || !a.IsFile || a.Size != 3 {
		t.Errorf("File attributes = %+v, %v", a, err)
	}
}

func TestCreateFileErrors(t *testing.T) {
	c := newTestContainer(t)
	ctx := context.Background()
	writeFile(t, c, "dir/f", []byte("data"))

	tests := []struct {
		rel  string
		want error
	}{
		{"dir/f", container.ErrExists},
		{"dir", container.ErrExists},
		{"dir/f/child", container.ErrNotDir},
		{"", container.ErrIsDir},
	}
	for _, tt := range tests {
		if _, err := c.CreateFile(ctx, tt.rel); !errors.Is(err, tt.want) {
			t.Errorf("CreateFile(%q) error = %v, want %v", tt.rel, err, tt.want)
		}
	}
}

func TestDeleteFileReportsLastItem(t *testing.T) {
	c := newTestContainer(t)
	ctx := context.Background()
	writeFile(t, c, "a/b/x", []byte("1"))
	writeFile(t, c, "a/y", []byte("2"))
	writeFile(t, c, "top", []byte("3"))

	if _, err := c.DeleteFile(ctx, "a"); !errors.Is(err, container.ErrNotEmpty) {
		t.Errorf("Delete of a directory error = %v, want ErrNotEmpty", err)
	}

	tests := []struct {
		rel  string
		last bool
	}{
		{"a/b/x", true},
		{"a/y", true},
		{"top", false},
	}
	for _, tt := range tests {
		res, err := c.DeleteFile(ctx, tt.rel)
		if err != nil {
			t.Fatalf("DeleteFile(%s) failed: %v", tt.rel, err)
		}
		if res.WasLastItem != tt.last {
			t.Errorf("DeleteFile(%s) WasLastItem = %v, want %v", tt.rel, res.WasLastItem, tt.last)
		}
	}
	if _, err := c.DeleteFile(ctx, "top"); !errors.Is(err, container.ErrNotFound) {
		t.Errorf("Second delete error = %v, want ErrNotFound", err)
	}
}

func TestRenameFile(t *testing.T) {
	c := newTestContainer(t)
	ctx := context.Background()
	writeFile(t, c, "src/x", []byte("1"))
	writeFile(t, c, "dir/a", []byte("2"))
	writeFile(t, c, "dir/sub/b", []byte("3"))

	res, err := c.RenameFile(ctx, "src/x", "dst/x", "/_documents/dst/x")
	if err != nil {
		t.Fatalf("RenameFile failed: %v", err)
	}
	if !res.WasLastItem {
		t.Error("Expected WasLastItem when moving the only entry of src")
	}

	if _, err := c.RenameFile(ctx, "dir", "dir/inner", ""); err == nil {
		t.Error("Expected an error when moving a directory into itself")
	}
	if _, err := c.RenameFile(ctx, "dir", "moved", "/_documents/moved"); err != nil {
		t.Fatalf("RenameFile of a directory failed: %v", err)
	}
	names, err := c.ListFolder(ctx, "")
	if err != nil || !reflect.DeepEqual(names, []string{"dst", "moved"}) {
		t.Errorf("Root listing = %v, %v", names, err)
	}
	if got := readFile(t, c, "moved/sub/b"); string(got) != "3" {
		t.Errorf("Moved file content = %q", got)
	}
	if _, err := c.RenameFile(ctx, "dst/x", "moved", ""); !errors.Is(err, container.ErrIsDir) {
		t.Errorf("Rename onto a directory error = %v, want ErrIsDir", err)
	}
}

func TestOpenFileModes(t *testing.T) {
	c := newTestContainer(t)
	ctx := context.Background()
	writeFile(t, c, "f", []byte("hello"))

	fd, err := c.OpenFile(ctx, "f", container.ModeAppend)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	c.WriteFileBuf(ctx, "f", fd, []byte(" world"), 0)
	if err := c.CloseFile(ctx, "f", fd); err != nil {
		t.Fatalf("CloseFile failed: %v", err)
	}
	if got := readFile(t, c, "f"); string(got) != "hello world" {
		t.Errorf("Content after append = %q", got)
	}

	fd, err = c.OpenFile(ctx, "f", container.ModeOverwrite)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	c.WriteFileBuf(ctx, "f", fd, []byte("bye"), 0)
	if err := c.CloseFile(ctx, "f", fd); err != nil {
		t.Fatalf("CloseFile failed: %v", err)
	}
	if got := readFile(t, c, "f"); string(got) != "bye" {
		t.Errorf("Content after overwrite = %q", got)
	}

	if err := c.TruncateFile(ctx, "f", 0, 1); err != nil {
		t.Fatalf("TruncateFile failed: %v", err)
	}
	if got := readFile(t, c, "f"); string(got) != "b" {
		t.Errorf("Content after truncate = %q", got)
	}
	if _, err := c.OpenFile(ctx, "", container.ModeRead); !errors.Is(err, container.ErrIsDir) {
		t.Errorf("Open of the root error = %v, want ErrIsDir", err)
	}
}
