package container

import (
	"strings"
	"sync"
	"time"
)

// OpenFile is the in-memory buffer behind an open descriptor. Backends load
// the whole file on open and commit it on close when Dirty is set. Data and
// Dirty may be set directly only before the file is added to a table; after
// that they are guarded by the file's own lock.
type OpenFile struct {
	mu sync.Mutex

	Owner   string
	Path    string
	Mode    AccessMode
	Data    []byte
	Dirty   bool
	New     bool
	Created time.Time
}

// ReadAt copies file data at off into buf.
func (f *OpenFile) ReadAt(buf []byte, off int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off >= int64(len(f.Data)) {
		return 0
	}
	return copy(buf, f.Data[off:])
}

// WriteAt writes buf at off, growing the buffer as needed. In pure append
// mode every write lands at the end of the file.
func (f *OpenFile) WriteAt(buf []byte, off int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Mode&ModeAppend != 0 && f.Mode&ModeOverwrite == 0 && f.Mode&ModeRead == 0 {
		off = int64(len(f.Data))
	}
	if off < 0 {
		off = 0
	}
	end := off + int64(len(buf))
	if end > int64(len(f.Data)) {
		grown := make([]byte, end)
		copy(grown, f.Data)
		f.Data = grown
	}
	copy(f.Data[off:], buf)
	f.Dirty = true
	return len(buf)
}

// Truncate resizes the buffer, zero filling on growth.
func (f *OpenFile) Truncate(size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size < 0 {
		size = 0
	}
	switch {
	case size < int64(len(f.Data)):
		f.Data = f.Data[:size]
	case size > int64(len(f.Data)):
		grown := make([]byte, size)
		copy(grown, f.Data)
		f.Data = grown
	}
	f.Dirty = true
}

// Attributes reports the pending state of the buffer.
func (f *OpenFile) Attributes() Attributes {
	f.mu.Lock()
	defer f.mu.Unlock()
	entryType := EntryFile
	if f.New {
		entryType = EntryNewFile
	}
	now := time.Now()
	return Attributes{
		Modified:  now,
		Accessed:  now,
		Created:   f.Created,
		Size:      uint64(len(f.Data)),
		IsFile:    true,
		EntryType: entryType,
	}
}

// Contents returns a copy of the buffer and whether it needs committing.
func (f *OpenFile) Contents() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.Data...), f.Dirty
}

// OpenFiles is a descriptor table shared by the containers of one backend.
type OpenFiles struct {
	mu    sync.Mutex
	next  FD
	files map[FD]*OpenFile
}

// NewOpenFiles creates an empty descriptor table.
func NewOpenFiles() *OpenFiles {
	return &OpenFiles{files: make(map[FD]*OpenFile)}
}

// Add registers f and returns its descriptor.
func (t *OpenFiles) Add(f *OpenFile) FD {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.files[t.next] = f
	return t.next
}

// Get returns the open file for fd if it belongs to owner and path.
func (t *OpenFiles) Get(owner, rel string, fd FD) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok || f.Owner != owner {
		return nil, ErrBadFD
	}
	if rel != "" && f.Path != CleanRel(rel) {
		return nil, ErrBadFD
	}
	return f, nil
}

// Remove drops fd from the table and returns its file.
func (t *OpenFiles) Remove(owner string, fd FD) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok || f.Owner != owner {
		return nil, ErrBadFD
	}
	delete(t.files, fd)
	return f, nil
}

// Pending returns the newest uncommitted new file at rel, if any.
func (t *OpenFiles) Pending(owner, rel string) (*OpenFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var found *OpenFile
	var foundFD FD
	for fd, f := range t.files {
		if f.Owner == owner && f.New && f.Path == rel && fd > foundFD {
			found, foundFD = f, fd
		}
	}
	return found, found != nil
}

// Rename moves open files at oldRel, or beneath it, to newRel.
func (t *OpenFiles) Rename(owner, oldRel, newRel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.files {
		if f.Owner != owner {
			continue
		}
		switch {
		case f.Path == oldRel:
			f.Path = newRel
		case strings.HasPrefix(f.Path, oldRel+"/"):
			f.Path = newRel + strings.TrimPrefix(f.Path, oldRel)
		}
	}
}

// Len returns the number of open descriptors.
func (t *OpenFiles) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}
