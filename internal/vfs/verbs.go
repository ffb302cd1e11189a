package vfs

import (
	"context"
	"errors"

	"safedrive/internal/container"
)

// Getattr returns the attributes of p: cached results first, then virtual
// directories, then the container.
func (v *VFS) Getattr(ctx context.Context, p Path) (container.Attributes, error) {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return container.Attributes{}, err
	}
	rel := h.rel(p)

	v.mu.Lock()
	if h.cacheable() {
		if a, ok := v.overlay.CachedAttributes(h, rel); ok {
			v.mu.Unlock()
			return a, nil
		}
	}
	if a, ok := v.overlay.VirtualAttributes(p); ok {
		v.mu.Unlock()
		return a, nil
	}
	v.mu.Unlock()

	a, err := h.Attributes(ctx, p, 0)
	if err != nil {
		return container.Attributes{}, NewError(OpGetattr, p, err)
	}
	if h.cacheable() {
		v.mu.Lock()
		v.overlay.StoreAttributes(h, rel, a)
		v.mu.Unlock()
	}
	return a, nil
}

// Fgetattr returns the attributes of the open file fd. Pending writes are
// visible, so the result is never cached.
func (v *VFS) Fgetattr(ctx context.Context, p Path, fd container.FD) (container.Attributes, error) {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return container.Attributes{}, err
	}
	v.mu.Lock()
	a, ok := v.overlay.VirtualAttributes(p)
	v.mu.Unlock()
	if ok {
		return a, nil
	}
	a, err = h.Attributes(ctx, p, fd)
	if err != nil {
		return container.Attributes{}, NewError(OpFgetattr, p, err)
	}
	return a, nil
}

// Readdir lists p, merging in virtual subdirectories. A virtual directory
// lists only its virtual children.
func (v *VFS) Readdir(ctx context.Context, p Path) ([]string, error) {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	rel := h.rel(p)

	v.mu.Lock()
	if v.overlay.IsVirtual(p) {
		names := v.overlay.Children(p)
		v.mu.Unlock()
		return names, nil
	}
	if h.cacheable() {
		if names, ok := v.overlay.CachedListing(h, rel); ok {
			merged := v.overlay.Merge(p, names)
			v.mu.Unlock()
			return merged, nil
		}
	}
	v.mu.Unlock()

	names, err := h.List(ctx, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// a directory implied by deeper virtual directories
			v.mu.Lock()
			implied := v.overlay.HasVirtualDescendant(p)
			children := v.overlay.Children(p)
			v.mu.Unlock()
			if implied {
				return children, nil
			}
		}
		return nil, NewError(OpReaddir, p, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if h.cacheable() {
		v.overlay.StoreListing(h, rel, names)
	}
	return v.overlay.Merge(p, names), nil
}

// Mkdir creates a virtual directory at p. The parent must exist and p must
// not.
func (v *VFS) Mkdir(ctx context.Context, p Path) error {
	if p.IsRoot() {
		return NewError(OpMkdir, p, ErrAlreadyExists)
	}
	parent, err := v.Getattr(ctx, p.Parent())
	if err != nil {
		return NewError(OpMkdir, p, err)
	}
	if parent.IsFile {
		return NewError(OpMkdir, p, ErrNotDir)
	}

	h, err := v.Resolve(ctx, p)
	if err != nil {
		if p.Parent().IsRoot() {
			// new top-level names would be new containers
			return NewError(OpMkdir, p, ErrUnsupported)
		}
		return NewError(OpMkdir, p, err)
	}
	if h.kind == kindRoot {
		return NewError(OpMkdir, p, ErrUnsupported)
	}
	if p == h.mountPath {
		return NewError(OpMkdir, p, ErrAlreadyExists)
	}

	v.mu.Lock()
	virtual := v.overlay.IsVirtual(p)
	v.mu.Unlock()
	if virtual {
		return NewError(OpMkdir, p, ErrAlreadyExists)
	}
	if _, err := v.Getattr(ctx, p); err == nil {
		return NewError(OpMkdir, p, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return NewError(OpMkdir, p, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.overlay.Mkdir(p) {
		return NewError(OpMkdir, p, ErrAlreadyExists)
	}
	v.overlay.Invalidate(h, h.rel(p))
	vfsLogger.Debug("Created virtual directory %s", p)
	return nil
}

// Rmdir removes the directory at p. Virtual directories go away locally; a
// real directory can only be removed when its container reports it empty.
func (v *VFS) Rmdir(ctx context.Context, p Path) error {
	v.mu.Lock()
	_, mounted := v.paths.Get(p)
	if p.IsRoot() || mounted {
		v.mu.Unlock()
		return NewError(OpRmdir, p, ErrBusy)
	}
	if v.overlay.HasVirtualDescendant(p) {
		v.mu.Unlock()
		return NewError(OpRmdir, p, ErrNotEmpty)
	}
	if v.overlay.Remove(p) {
		v.mu.Unlock()
		vfsLogger.Debug("Removed virtual directory %s", p)
		return nil
	}
	v.mu.Unlock()

	h, err := v.Resolve(ctx, p)
	if err != nil {
		return NewError(OpRmdir, p, err)
	}
	a, err := h.Attributes(ctx, p, 0)
	if err != nil {
		return NewError(OpRmdir, p, err)
	}
	if a.IsFile {
		return NewError(OpRmdir, p, ErrNotDir)
	}
	names, err := h.List(ctx, p)
	if err != nil {
		return NewError(OpRmdir, p, err)
	}
	if len(names) > 0 {
		return NewError(OpRmdir, p, ErrNotEmpty)
	}
	res, err := h.Unlink(ctx, p)
	if err != nil {
		return NewError(OpRmdir, p, err)
	}
	v.afterRemoval(ctx, h, p, res.WasLastItem)
	return nil
}

// Unlink deletes the file at p. When it was the last entry of its
// directory, the directory is kept as a virtual one.
func (v *VFS) Unlink(ctx context.Context, p Path) error {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return err
	}
	if p == h.mountPath {
		return NewError(OpUnlink, p, ErrBusy)
	}
	res, err := h.Unlink(ctx, p)
	if err != nil {
		return NewError(OpUnlink, p, err)
	}
	v.afterRemoval(ctx, h, p, res.WasLastItem)
	return nil
}

// afterRemoval invalidates caches for a removed entry and keeps its parent
// directory alive when the container dropped it.
func (v *VFS) afterRemoval(ctx context.Context, h *Handler, p Path, wasLastItem bool) {
	parent := p.Parent()
	v.mu.Lock()
	v.overlay.Invalidate(h, h.rel(p))
	if wasLastItem && parent != h.mountPath && h.mountPath.Contains(parent) {
		v.overlay.Mkdir(parent)
	}
	v.mu.Unlock()
	if wasLastItem {
		v.preserveAncestors(ctx, h, parent.Parent())
	}
}

// preserveAncestors walks upward from p re-creating virtual directories
// until an ancestor still exists in the container or the mount path is
// reached.
func (v *VFS) preserveAncestors(ctx context.Context, h *Handler, p Path) {
	for q := p; q != h.mountPath && h.mountPath.Contains(q); q = q.Parent() {
		if v.probeReal(ctx, h, q) {
			return
		}
		v.mu.Lock()
		v.overlay.Mkdir(q)
		v.overlay.Invalidate(h, h.rel(q))
		v.mu.Unlock()
		vfsLogger.Trace("Preserved emptied directory %s", q)
	}
}

// probeReal asks the container alone whether p exists. Errors other than
// ErrNotFound count as existing so that nothing is shadowed by mistake.
func (v *VFS) probeReal(ctx context.Context, h *Handler, p Path) bool {
	_, err := h.Attributes(ctx, p, 0)
	return err == nil || !errors.Is(err, ErrNotFound)
}

// Rename moves p to newPath. Virtual directories are renamed locally;
// everything else is renamed by the container, which must be the same on
// both sides.
func (v *VFS) Rename(ctx context.Context, p, newPath Path) error {
	if p.IsRoot() || newPath.IsRoot() {
		return NewError(OpRename, p, ErrBusy)
	}
	if p == newPath {
		return nil
	}
	if p.Contains(newPath) {
		return NewError(OpRename, p, ErrInvalidPath)
	}

	v.mu.Lock()
	_, srcMounted := v.paths.Get(p)
	_, dstMounted := v.paths.Get(newPath)
	if srcMounted || dstMounted {
		v.mu.Unlock()
		return NewError(OpRename, p, ErrBusy)
	}
	if v.overlay.IsVirtual(p) {
		defer v.mu.Unlock()
		return v.renameVirtualLocked(p, newPath)
	}
	v.mu.Unlock()

	h, err := v.Resolve(ctx, p)
	if err != nil {
		return NewError(OpRename, p, err)
	}
	target, err := v.Resolve(ctx, newPath.Parent())
	if err != nil {
		return NewError(OpRename, newPath, err)
	}
	if target != h {
		return NewError(OpRename, p, ErrCrossMount)
	}
	if p == h.mountPath {
		return NewError(OpRename, p, ErrBusy)
	}

	v.mu.Lock()
	dstVirtual := v.overlay.IsVirtual(newPath)
	dstOccupied := v.overlay.HasVirtualDescendant(newPath)
	v.mu.Unlock()
	if dstOccupied {
		return NewError(OpRename, newPath, ErrNotEmpty)
	}
	if dstVirtual {
		// a file cannot replace a directory, virtual or not
		attrs, err := h.Attributes(ctx, p, 0)
		if err != nil {
			return NewError(OpRename, p, err)
		}
		if attrs.IsFile {
			return NewError(OpRename, newPath, ErrIsDir)
		}
	}

	res, err := h.Rename(ctx, p, newPath)
	if err != nil {
		return NewError(OpRename, p, err)
	}

	parent := p.Parent()
	v.mu.Lock()
	v.overlay.Invalidate(h, h.rel(p))
	v.overlay.Invalidate(h, h.rel(newPath))
	// virtual subdirectories travel with a renamed real directory
	v.overlay.Rename(p, newPath)
	v.overlay.Remove(newPath)
	v.overlay.ClearAncestors(newPath)
	if res.WasLastItem && parent != h.mountPath && h.mountPath.Contains(parent) {
		v.overlay.Mkdir(parent)
	}
	v.mu.Unlock()

	if res.WasLastItem {
		v.preserveAncestors(ctx, h, parent.Parent())
	}
	return nil
}

func (v *VFS) renameVirtualLocked(p, newPath Path) error {
	src, _, err := v.locateLocked(p)
	if err != nil {
		return NewError(OpRename, p, err)
	}
	dst, req, err := v.locateLocked(newPath)
	if err != nil || req != nil || dst.kind != kindContainer {
		return NewError(OpRename, newPath, ErrCrossMount)
	}
	if v.overlay.HasVirtualDescendant(newPath) {
		return NewError(OpRename, newPath, ErrNotEmpty)
	}
	if v.knownRealLocked(dst, newPath) {
		return NewError(OpRename, newPath, ErrAlreadyExists)
	}
	v.overlay.Rename(p, newPath)
	v.overlay.Invalidate(src, src.rel(p))
	v.overlay.Invalidate(dst, dst.rel(newPath))
	vfsLogger.Debug("Renamed virtual directory %s to %s", p, newPath)
	return nil
}

// knownRealLocked reports whether the cache already holds a real entry at p.
// It never calls the container.
func (v *VFS) knownRealLocked(h *Handler, p Path) bool {
	if v.overlay.IsVirtual(p) {
		return false
	}
	if _, ok := v.overlay.CachedAttributes(h, h.rel(p)); ok {
		return true
	}
	names, ok := v.overlay.CachedListing(h, h.rel(p.Parent()))
	if !ok {
		return false
	}
	for _, name := range names {
		if name == p.Base() {
			return true
		}
	}
	return false
}

// Create creates and opens a new file at p.
func (v *VFS) Create(ctx context.Context, p Path, flags int) (container.FD, error) {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return 0, NewError(OpCreate, p, err)
	}
	v.mu.Lock()
	virtual := v.overlay.IsVirtual(p)
	v.mu.Unlock()
	if virtual {
		return 0, NewError(OpCreate, p, ErrIsDir)
	}
	vfsLogger.Trace("Creating %s as %s", p, accessMode(flags))
	fd, err := h.Create(ctx, p)
	if err != nil {
		return 0, NewError(OpCreate, p, err)
	}
	return fd, nil
}

// Open opens the file at p.
func (v *VFS) Open(ctx context.Context, p Path, flags int) (container.FD, error) {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return 0, NewError(OpOpen, p, err)
	}
	v.mu.Lock()
	virtual := v.overlay.IsVirtual(p)
	v.mu.Unlock()
	if virtual {
		return 0, NewError(OpOpen, p, ErrIsDir)
	}
	fd, err := h.Open(ctx, p, flags)
	if err != nil {
		return 0, NewError(OpOpen, p, err)
	}
	return fd, nil
}

// Read reads from an open file.
func (v *VFS) Read(ctx context.Context, p Path, fd container.FD, buf []byte, off int64) (int, error) {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return 0, NewError(OpRead, p, err)
	}
	n, err := h.Read(ctx, p, fd, buf, off)
	if err != nil {
		return 0, NewError(OpRead, p, err)
	}
	return n, nil
}

// Write writes to an open file.
func (v *VFS) Write(ctx context.Context, p Path, fd container.FD, buf []byte, off int64) (int, error) {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return 0, NewError(OpWrite, p, err)
	}
	n, err := h.Write(ctx, p, fd, buf, off)
	if err != nil {
		return 0, NewError(OpWrite, p, err)
	}
	v.invalidate(h, p)
	return n, nil
}

// Release closes fd. Once the file is committed its directory is real, so
// any virtual directories above it are dropped.
func (v *VFS) Release(ctx context.Context, p Path, fd container.FD) error {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return NewError(OpRelease, p, err)
	}
	if err := h.Close(ctx, p, fd); err != nil {
		return NewError(OpRelease, p, err)
	}
	v.mu.Lock()
	v.overlay.ClearAncestors(p)
	v.overlay.Invalidate(h, h.rel(p))
	v.mu.Unlock()
	return nil
}

// Truncate resizes the file at p.
func (v *VFS) Truncate(ctx context.Context, p Path, size int64) error {
	return v.truncate(ctx, OpTruncate, p, 0, size)
}

// Ftruncate resizes the open file fd.
func (v *VFS) Ftruncate(ctx context.Context, p Path, fd container.FD, size int64) error {
	return v.truncate(ctx, OpFtruncate, p, fd, size)
}

func (v *VFS) truncate(ctx context.Context, op string, p Path, fd container.FD, size int64) error {
	if size < 0 {
		return NewError(op, p, ErrInvalidPath)
	}
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return NewError(op, p, err)
	}
	if err := h.Truncate(ctx, p, fd, size); err != nil {
		return NewError(op, p, err)
	}
	v.invalidate(h, p)
	return nil
}

// Statfs reports filesystem capacity as seen from p.
func (v *VFS) Statfs(ctx context.Context, p Path) (Statfs, error) {
	h, err := v.Resolve(ctx, p)
	if err != nil {
		return Statfs{}, NewError(OpStatfs, p, err)
	}
	return h.Statfs(), nil
}

// Utimens accepts timestamp updates for existing paths without storing
// them; containers keep their own timestamps.
func (v *VFS) Utimens(ctx context.Context, p Path) error {
	if _, err := v.Getattr(ctx, p); err != nil {
		return NewError(OpUtimens, p, err)
	}
	return nil
}

// Link is not supported.
func (v *VFS) Link(_ context.Context, p, _ Path) error {
	return NewError(OpLink, p, ErrUnsupported)
}

// Symlink is not supported.
func (v *VFS) Symlink(_ context.Context, _ string, p Path) error {
	return NewError(OpSymlink, p, ErrUnsupported)
}

func (v *VFS) invalidate(h *Handler, p Path) {
	v.mu.Lock()
	v.overlay.Invalidate(h, h.rel(p))
	v.mu.Unlock()
}
