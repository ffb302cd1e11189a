// Package vfs maps filesystem paths onto remote containers.
//
// A VFS owns the mount table (PathMap) and the Overlay. Every operation
// resolves its path to a Handler, mounting default containers and web sites
// on first access, and then delegates to the handler's container. The
// Overlay supplies directories the containers cannot represent, such as a
// freshly created empty directory or a directory whose last file was
// removed, and memoizes attribute and listing results.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"safedrive/internal/container"
	"safedrive/internal/logging"

	"golang.org/x/sync/singleflight"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// Options configures a VFS.
type Options struct {
	Provider container.Provider

	// DefaultContainers are mounted at /<name> on first access.
	DefaultContainers []string

	// WebNamespace is the top-level directory under which web sites are
	// mounted on access, /<WebNamespace>/<host> resolving to WebScheme+host.
	WebNamespace string
	WebScheme    string

	// Capacity in bytes reported by statfs.
	Capacity uint64
}

func (o Options) isDefaultContainer(name string) bool {
	for _, n := range o.DefaultContainers {
		if n == name {
			return true
		}
	}
	return false
}

// MountInfo describes one entry of the mount table.
type MountInfo struct {
	Path Path
	Ref  container.Ref
	Lazy bool
}

// VFS is one filesystem session.
type VFS struct {
	opts Options

	// mu guards paths, overlay and started. It is never held across a
	// container call.
	mu        sync.Mutex
	paths     *PathMap
	overlay   *Overlay
	started   bool
	startedAt time.Time

	flight singleflight.Group
}

// New creates a VFS. Start must be called before use.
func New(opts Options) *VFS {
	if opts.WebScheme == "" {
		opts.WebScheme = "safe://"
	}
	return &VFS{
		opts:    opts,
		paths:   NewPathMap(),
		overlay: NewOverlay(),
	}
}

// Start begins a session by installing the root handler.
func (v *VFS) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started {
		return errors.New("session already started")
	}
	if v.opts.Provider == nil {
		return errors.New("no container provider configured")
	}
	v.startedAt = time.Now()
	v.paths.Set(Root, newRootHandler(v))
	v.started = true
	vfsLogger.Info("Session started with %d default containers", len(v.opts.DefaultContainers))
	return nil
}

// Close ends the session, dropping every mount, virtual directory and
// cached result.
func (v *VFS) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paths.Clear()
	v.overlay.Reset()
	v.started = false
	vfsLogger.Info("Session closed")
}

// Locate finds the handler for p without mounting anything. When an
// automount is needed it returns the request instead of a handler.
func (v *VFS) Locate(p Path) (*Handler, *MountRequest, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.locateLocked(p)
}

func (v *VFS) locateLocked(p Path) (*Handler, *MountRequest, error) {
	if h, ok := v.paths.Get(p); ok {
		return h.handlerFor(p)
	}
	if p.IsRoot() {
		return nil, nil, NewError(OpResolve, p, fmt.Errorf("%w: session not started", ErrNotFound))
	}
	parent, req, err := v.locateLocked(p.Parent())
	if err != nil || req != nil {
		return nil, req, err
	}
	return parent.handlerFor(p)
}

// Materialize performs a mount request. It is idempotent: a request for a
// path already mounted with the same reference returns that handler, while a
// different reference fails with ErrConflict. Nothing is inserted unless
// the container materializes.
func (v *VFS) Materialize(ctx context.Context, req MountRequest) (*Handler, error) {
	v.mu.Lock()
	existing, ok := v.paths.Get(req.Path)
	v.mu.Unlock()
	if ok {
		return sameMount(existing, req)
	}

	// shared by every waiter
	mountCtx := context.WithoutCancel(ctx)
	res, err, _ := v.flight.Do(req.Path.String(), func() (interface{}, error) {
		vfsLogger.Debug("Mounting %s at %s", req.Ref, req.Path)
		handle, err := v.opts.Provider.Materialize(mountCtx, req.Ref)
		if err != nil {
			return nil, NewError(OpMount, req.Path, remote(err))
		}

		v.mu.Lock()
		defer v.mu.Unlock()
		if existing, ok := v.paths.Get(req.Path); ok {
			return sameMount(existing, req)
		}
		h := newContainerHandler(v, req.Path, req.Ref, handle, false)
		v.paths.Set(req.Path, h)
		vfsLogger.Info("Mounted %s at %s", req.Ref, req.Path)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Handler), nil
}

func sameMount(existing *Handler, req MountRequest) (*Handler, error) {
	if existing.kind == kindContainer && existing.ref == req.Ref {
		return existing, nil
	}
	return nil, NewError(OpMount, req.Path, ErrConflict)
}

// Resolve returns the handler for p, automounting as needed. A failed
// automount leaves no mount behind and reports ErrNotFound.
func (v *VFS) Resolve(ctx context.Context, p Path) (*Handler, error) {
	for i := 0; i <= len(p.Segments())+1; i++ {
		h, req, err := v.Locate(p)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return h, nil
		}
		if _, err := v.Materialize(ctx, *req); err != nil {
			vfsLogger.Warn("Automount of %s at %s failed: %v", req.Ref, req.Path, err)
			return nil, NewError(OpResolve, p, fmt.Errorf("%w: %v", ErrNotFound, err))
		}
	}
	return nil, NewError(OpResolve, p, ErrNotFound)
}

// Mount mounts ref at p. A lazy mount defers materialization until first
// use. Mounting at an occupied path fails with ErrConflict.
func (v *VFS) Mount(ctx context.Context, p Path, ref container.Ref, lazy bool) (*Handler, error) {
	if ref.IsZero() {
		return nil, NewError(OpMount, p, ErrInvalidPath)
	}
	v.mu.Lock()
	_, occupied := v.paths.Get(p)
	v.mu.Unlock()
	if occupied || p.IsRoot() {
		return nil, NewError(OpMount, p, ErrConflict)
	}

	var handle container.Handle
	if !lazy {
		var err error
		handle, err = v.opts.Provider.Materialize(ctx, ref)
		if err != nil {
			vfsLogger.Warn("Mount of %s at %s failed: %v", ref, p, err)
			return nil, NewError(OpMount, p, remote(err))
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, occupied := v.paths.Get(p); occupied {
		return nil, NewError(OpMount, p, ErrConflict)
	}
	h := newContainerHandler(v, p, ref, handle, lazy)
	v.paths.Set(p, h)
	vfsLogger.Info("Mounted %s at %s (lazy=%v)", ref, p, lazy)
	return h, nil
}

// Unmount removes the mount at p together with every mount beneath it.
func (v *VFS) Unmount(p Path) error {
	if p.IsRoot() {
		return NewError(OpUnmount, p, ErrBusy)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.paths.Get(p)
	if !ok {
		return NewError(OpUnmount, p, ErrNotFound)
	}
	v.removeLocked(h)
	vfsLogger.Info("Unmounted %s", p)
	return nil
}

// purge removes h if it is still mounted.
func (v *VFS) purge(h *Handler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if current, ok := v.paths.Get(h.mountPath); ok && current == h {
		v.removeLocked(h)
		vfsLogger.Debug("Purged mount %s", h.mountPath)
	}
}

func (v *VFS) removeLocked(h *Handler) {
	var nested []*Handler
	v.paths.Descendants(h.mountPath, func(_ Path, d *Handler) bool {
		nested = append(nested, d)
		return true
	})
	for _, d := range append(nested, h) {
		v.paths.Delete(d.mountPath)
		v.overlay.Forget(d)
	}
	v.overlay.RemoveBeneath(h.mountPath)
}

// Mounts returns the container mounts in path order.
func (v *VFS) Mounts() []MountInfo {
	v.mu.Lock()
	defer v.mu.Unlock()
	var mounts []MountInfo
	v.paths.Ascend(func(p Path, h *Handler) bool {
		if h.kind == kindContainer {
			mounts = append(mounts, MountInfo{Path: p, Ref: h.ref, Lazy: h.lazy})
		}
		return true
	})
	return mounts
}

// VirtualDirectories returns the virtual directories in path order.
func (v *VFS) VirtualDirectories() []Path {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.overlay.Paths()
}

// RestoreVirtualDirectories re-creates virtual directories from a previous
// session. Paths that now exist in their container are skipped.
func (v *VFS) RestoreVirtualDirectories(ctx context.Context, paths []Path) int {
	restored := 0
	for _, p := range paths {
		if p.IsRoot() {
			continue
		}
		if err := v.Mkdir(ctx, p); err != nil {
			vfsLogger.Debug("Not restoring virtual directory %s: %v", p, err)
			continue
		}
		restored++
	}
	return restored
}
