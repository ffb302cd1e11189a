package vfs

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"safedrive/internal/container"
	"safedrive/internal/logging"
)

var (
	handlerLogger = logging.GetLogger().WithPrefix("handler")
)

type handlerKind int

const (
	// kindRoot owns no container; it serves the mount table itself and
	// decides automounts.
	kindRoot handlerKind = iota
	kindContainer
)

// MountRequest describes a handler that must be materialized before a path
// can be served.
type MountRequest struct {
	Path Path
	Ref  container.Ref
}

// Handler binds one mount path to one container. Paths are translated to
// container relative paths before delegation.
type Handler struct {
	vfs       *VFS
	kind      handlerKind
	mountPath Path
	ref       container.Ref
	lazy      bool

	mu     sync.Mutex
	handle container.Handle
}

func newRootHandler(v *VFS) *Handler {
	h := &Handler{vfs: v, kind: kindRoot, mountPath: Root}
	h.handle = &rootContainer{vfs: v}
	return h
}

func newContainerHandler(v *VFS, mountPath Path, ref container.Ref, handle container.Handle, lazy bool) *Handler {
	return &Handler{
		vfs:       v,
		kind:      kindContainer,
		mountPath: mountPath,
		ref:       ref,
		lazy:      lazy,
		handle:    handle,
	}
}

// MountPath returns the path the handler is mounted at.
func (h *Handler) MountPath() Path {
	return h.mountPath
}

// Ref returns the container reference, zero for the root handler.
func (h *Handler) Ref() container.Ref {
	return h.ref
}

// IsRoot reports whether h is the session root handler.
func (h *Handler) IsRoot() bool {
	return h.kind == kindRoot
}

func (h *Handler) cacheable() bool {
	return h.kind == kindContainer
}

func (h *Handler) rel(p Path) string {
	return p.Rel(h.mountPath)
}

// handlerFor returns the handler serving p, or the mount needed to serve it.
// It never mutates state; the VFS lock must be held.
func (h *Handler) handlerFor(p Path) (*Handler, *MountRequest, error) {
	if p == h.mountPath || h.kind == kindContainer {
		return h, nil, nil
	}

	opts := h.vfs.opts
	segs := p.Segments()
	switch {
	case len(segs) == 1 && opts.isDefaultContainer(segs[0]):
		return nil, &MountRequest{Path: p, Ref: container.Ref{Name: segs[0]}}, nil
	case len(segs) == 1 && segs[0] == opts.WebNamespace:
		return h, nil, nil
	case h.vfs.paths.IsPartOfMountedPath(p):
		return h, nil, nil
	case len(segs) == 2 && segs[0] == opts.WebNamespace:
		return nil, &MountRequest{Path: p, Ref: container.Ref{Locator: opts.WebScheme + segs[1]}}, nil
	}
	return nil, nil, NewError(OpResolve, p, ErrNotFound)
}

// container returns the handle, materializing a lazy mount on first use. A
// failed initialization removes the handler from the mount table.
func (h *Handler) container(ctx context.Context) (container.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handle != nil {
		return h.handle, nil
	}

	handlerLogger.Debug("Initializing lazy mount %s (%s)", h.mountPath, h.ref)
	handle, err := h.vfs.opts.Provider.Materialize(ctx, h.ref)
	if err != nil {
		handlerLogger.Warn("Lazy mount %s failed: %v", h.mountPath, err)
		h.vfs.purge(h)
		return nil, NewError(OpMount, h.mountPath, remote(err))
	}
	h.handle = handle
	return handle, nil
}

// Prune removes the handler and everything mounted beneath it.
func (h *Handler) Prune() {
	h.vfs.purge(h)
}

// accessMode collapses open flags onto the remote open modes.
func accessMode(flags int) container.AccessMode {
	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		return container.ModeAppend
	case syscall.O_RDWR:
		return container.ModeAppend | container.ModeRead
	default:
		return container.ModeRead
	}
}

// List returns the entry names of the directory at p.
func (h *Handler) List(ctx context.Context, p Path) ([]string, error) {
	c, err := h.container(ctx)
	if err != nil {
		return nil, err
	}
	names, err := c.ListFolder(ctx, h.rel(p))
	return names, remote(err)
}

// Attributes returns the attributes of p, reading through fd when non-zero.
func (h *Handler) Attributes(ctx context.Context, p Path, fd container.FD) (container.Attributes, error) {
	c, err := h.container(ctx)
	if err != nil {
		return container.Attributes{}, err
	}
	a, err := c.ItemAttributes(ctx, h.rel(p), fd)
	return a, remote(err)
}

// Open opens p with the access mode derived from flags.
func (h *Handler) Open(ctx context.Context, p Path, flags int) (container.FD, error) {
	c, err := h.container(ctx)
	if err != nil {
		return 0, err
	}
	mode := accessMode(flags)
	handlerLogger.Trace("Opening %s with flags %#o as %s", p, flags, mode)
	fd, err := c.OpenFile(ctx, h.rel(p), mode)
	return fd, remote(err)
}

// Close commits and closes fd.
func (h *Handler) Close(ctx context.Context, p Path, fd container.FD) error {
	c, err := h.container(ctx)
	if err != nil {
		return err
	}
	return remote(c.CloseFile(ctx, h.rel(p), fd))
}

// Read fills buf from offset off of the open file.
func (h *Handler) Read(ctx context.Context, p Path, fd container.FD, buf []byte, off int64) (int, error) {
	c, err := h.container(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.ReadFileBuf(ctx, h.rel(p), fd, buf, off)
	return n, remote(err)
}

// Write stores buf at offset off of the open file.
func (h *Handler) Write(ctx context.Context, p Path, fd container.FD, buf []byte, off int64) (int, error) {
	c, err := h.container(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.WriteFileBuf(ctx, h.rel(p), fd, buf, off)
	return n, remote(err)
}

// Create creates p and records a synthetic empty-file snapshot so that the
// file is visible before its first close commits it.
func (h *Handler) Create(ctx context.Context, p Path) (container.FD, error) {
	c, err := h.container(ctx)
	if err != nil {
		return 0, err
	}
	rel := h.rel(p)
	fd, err := c.CreateFile(ctx, rel)
	if err != nil {
		return 0, remote(err)
	}

	now := time.Now()
	h.vfs.mu.Lock()
	h.vfs.overlay.Invalidate(h, rel)
	if h.cacheable() {
		h.vfs.overlay.StoreAttributes(h, rel, container.Attributes{
			Modified:  now,
			Accessed:  now,
			Created:   now,
			IsFile:    true,
			EntryType: container.EntryNewFile,
		})
	}
	h.vfs.mu.Unlock()
	return fd, nil
}

// Truncate resizes p, through fd when non-zero.
func (h *Handler) Truncate(ctx context.Context, p Path, fd container.FD, size int64) error {
	c, err := h.container(ctx)
	if err != nil {
		return err
	}
	return remote(c.TruncateFile(ctx, h.rel(p), fd, size))
}

// Unlink deletes p.
func (h *Handler) Unlink(ctx context.Context, p Path) (container.DeleteResult, error) {
	c, err := h.container(ctx)
	if err != nil {
		return container.DeleteResult{}, err
	}
	res, err := c.DeleteFile(ctx, h.rel(p))
	return res, remote(err)
}

// Rename moves p to newPath inside this handler's container.
func (h *Handler) Rename(ctx context.Context, p, newPath Path) (container.RenameResult, error) {
	if !newPath.Within(h.mountPath) {
		return container.RenameResult{}, NewError(OpRename, newPath, ErrCrossMount)
	}
	c, err := h.container(ctx)
	if err != nil {
		return container.RenameResult{}, err
	}
	res, err := c.RenameFile(ctx, h.rel(p), h.rel(newPath), newPath.String())
	return res, remote(err)
}

// Statfs describes the capacity of the filesystem.
type Statfs struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
}

const (
	statfsBlockSize = 4096
	statfsFiles     = 1000000
)

// Statfs reports the configured capacity. The remote store has no quota
// query, so every block is reported free.
func (h *Handler) Statfs() Statfs {
	blocks := h.vfs.opts.Capacity / statfsBlockSize
	if blocks == 0 {
		blocks = statfsFiles
	}
	return Statfs{
		Blocks:  blocks,
		Bfree:   blocks,
		Bavail:  blocks,
		Files:   statfsFiles,
		Ffree:   statfsFiles,
		Bsize:   statfsBlockSize,
		Namelen: 255,
		Frsize:  statfsBlockSize,
	}
}

func (h *Handler) String() string {
	if h.kind == kindRoot {
		return "root"
	}
	return fmt.Sprintf("%s@%s", h.ref, h.mountPath)
}
