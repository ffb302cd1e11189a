package fs

import (
	"context"
	"syscall"

	"safedrive/internal/container"
	"safedrive/internal/logging"
	"safedrive/internal/vfs"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a directory node: the root, a mounted container, a directory inside
// one, or a virtual directory.
type Dir struct {
	fs   *FileSystem
	path vfs.Path
}

func (d *Dir) getattr(ctx context.Context, p vfs.Path) (container.Attributes, error) {
	payload, err := d.fs.await(ctx, func(reply vfs.Reply) {
		d.fs.ops.Getattr(ctx, p.String(), reply)
	})
	if err != nil {
		return container.Attributes{}, err
	}
	return payload.(container.Attributes), nil
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path)
	attrs, err := d.getattr(ctx, d.path)
	if err != nil {
		return err
	}
	d.fs.fillAttr(a, attrs)
	return nil
}

// Setattr accepts timestamp changes on directories.
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		return fuse.Errno(syscall.EISDIR)
	}
	if _, err := d.fs.await(ctx, func(reply vfs.Reply) {
		d.fs.ops.Utimens(ctx, d.path.String(), reply)
	}); err != nil {
		return err
	}
	return d.Attr(ctx, &resp.Attr)
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	childPath := d.path.Join(name)
	dirLogger.Debug("Looking up %q", childPath)

	attrs, err := d.getattr(ctx, childPath)
	if err != nil {
		return nil, err
	}
	if attrs.IsFile {
		return &File{fs: d.fs, path: childPath}, nil
	}
	return &Dir{fs: d.fs, path: childPath}, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path)
	payload, err := d.fs.await(ctx, func(reply vfs.Reply) {
		d.fs.ops.Readdir(ctx, d.path.String(), reply)
	})
	if err != nil {
		return nil, err
	}
	names := payload.([]string)

	entries := make([]fuse.Dirent, 0, len(names)+2)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, name := range names {
		dirent := fuse.Dirent{Name: name, Type: fuse.DT_Unknown}
		if attrs, err := d.getattr(ctx, d.path.Join(name)); err == nil {
			dirent.Type = direntType(attrs)
		}
		entries = append(entries, dirent)
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path, len(names))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a virtual directory.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	newPath := d.path.Join(req.Name)
	dirLogger.Info("Creating directory %q", newPath)

	if _, err := d.fs.await(ctx, func(reply vfs.Reply) {
		d.fs.ops.Mkdir(ctx, newPath.String(), reply)
	}); err != nil {
		return nil, err
	}
	return &Dir{fs: d.fs, path: newPath}, nil
}

// Create implements the NodeCreater interface.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	newPath := d.path.Join(req.Name)
	dirLogger.Info("Creating file %q", newPath)

	payload, err := d.fs.await(ctx, func(reply vfs.Reply) {
		d.fs.ops.Create(ctx, newPath.String(), int(req.Flags), reply)
	})
	if err != nil {
		return nil, nil, err
	}

	file := &File{fs: d.fs, path: newPath}
	handle := file.track(payload.(container.FD))
	resp.Flags |= fuse.OpenDirectIO
	return file, handle, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	childPath := d.path.Join(req.Name)
	dirLogger.Info("Removing %q (isDir=%v)", childPath, req.Dir)

	_, err := d.fs.await(ctx, func(reply vfs.Reply) {
		if req.Dir {
			d.fs.ops.Rmdir(ctx, childPath.String(), reply)
		} else {
			d.fs.ops.Unlink(ctx, childPath.String(), reply)
		}
	})
	return err
}

// Rename implements the NodeRenamer interface, renaming/moving a file or directory.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Target is not a valid directory type")
		return fuse.Errno(syscall.EINVAL)
	}

	oldPath := d.path.Join(req.OldName)
	newPath := target.path.Join(req.NewName)
	dirLogger.Info("Renaming %q to %q", oldPath, newPath)

	_, err := d.fs.await(ctx, func(reply vfs.Reply) {
		d.fs.ops.Rename(ctx, oldPath.String(), newPath.String(), reply)
	})
	return err
}

// Link implements the NodeLinker interface. Hard links are not supported.
func (d *Dir) Link(ctx context.Context, req *fuse.LinkRequest, old fusefs.Node) (fusefs.Node, error) {
	oldPath := vfs.Root
	switch n := old.(type) {
	case *File:
		oldPath = n.path
	case *Dir:
		oldPath = n.path
	}
	_, err := d.fs.await(ctx, func(reply vfs.Reply) {
		d.fs.ops.Link(ctx, oldPath.String(), d.path.Join(req.NewName).String(), reply)
	})
	return nil, err
}

// Symlink implements the NodeSymlinker interface. Symbolic links are not
// supported.
func (d *Dir) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fusefs.Node, error) {
	_, err := d.fs.await(ctx, func(reply vfs.Reply) {
		d.fs.ops.Symlink(ctx, req.Target, d.path.Join(req.NewName).String(), reply)
	})
	return nil, err
}
