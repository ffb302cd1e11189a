package vfs

import (
	"context"

	"safedrive/internal/container"
)

// rootContainer is the handle behind the "/" handler. Its contents are the
// mount table: the top-level names of every mount and the web namespace.
type rootContainer struct {
	vfs *VFS
}

func (r *rootContainer) ListFolder(_ context.Context, rel string) ([]string, error) {
	p := NewPath(rel)
	r.vfs.mu.Lock()
	defer r.vfs.mu.Unlock()

	if p.IsRoot() {
		names := r.vfs.paths.TopLevelNames()
		if ns := r.vfs.opts.WebNamespace; ns != "" {
			seen := false
			for _, n := range names {
				if n == ns {
					seen = true
					break
				}
			}
			if !seen {
				names = append(names, ns)
			}
		}
		return names, nil
	}
	if p == r.webNamespace() || r.vfs.paths.IsPartOfMountedPath(p) {
		names := r.vfs.paths.ChildNames(p)
		if names == nil {
			names = []string{}
		}
		return names, nil
	}
	return nil, container.ErrNotFound
}

func (r *rootContainer) ItemAttributes(_ context.Context, rel string, _ container.FD) (container.Attributes, error) {
	p := NewPath(rel)
	r.vfs.mu.Lock()
	defer r.vfs.mu.Unlock()

	if p.IsRoot() || p == r.webNamespace() || r.vfs.paths.IsPartOfMountedPath(p) {
		return dirAttributes(r.vfs.startedAt, container.EntryFakeContainer), nil
	}
	if _, ok := r.vfs.paths.Get(p); ok {
		return dirAttributes(r.vfs.startedAt, container.EntryContainer), nil
	}
	return container.Attributes{EntryType: container.EntryNotFound}, container.ErrNotFound
}

func (r *rootContainer) webNamespace() Path {
	if r.vfs.opts.WebNamespace == "" {
		return ""
	}
	return Root.Join(r.vfs.opts.WebNamespace)
}

func (r *rootContainer) OpenFile(context.Context, string, container.AccessMode) (container.FD, error) {
	return 0, container.ErrUnsupported
}

func (r *rootContainer) CloseFile(context.Context, string, container.FD) error {
	return container.ErrUnsupported
}

func (r *rootContainer) ReadFileBuf(context.Context, string, container.FD, []byte, int64) (int, error) {
	return 0, container.ErrUnsupported
}

func (r *rootContainer) WriteFileBuf(context.Context, string, container.FD, []byte, int64) (int, error) {
	return 0, container.ErrUnsupported
}

func (r *rootContainer) CreateFile(context.Context, string) (container.FD, error) {
	return 0, container.ErrUnsupported
}

func (r *rootContainer) DeleteFile(context.Context, string) (container.DeleteResult, error) {
	return container.DeleteResult{}, container.ErrUnsupported
}

func (r *rootContainer) RenameFile(context.Context, string, string, string) (container.RenameResult, error) {
	return container.RenameResult{}, container.ErrUnsupported
}

func (r *rootContainer) TruncateFile(context.Context, string, container.FD, int64) error {
	return container.ErrUnsupported
}
