package fs

import (
	"context"
	"sync"

	"safedrive/internal/container"
	"safedrive/internal/logging"
	"safedrive/internal/vfs"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is a file node.
type File struct {
	fs   *FileSystem
	path vfs.Path

	mu      sync.Mutex
	handles []*FileHandle
}

// track registers a newly opened descriptor with the node.
func (f *File) track(fd container.FD) *FileHandle {
	h := &FileHandle{file: f, fd: fd}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h
}

func (f *File) untrack(h *FileHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, open := range f.handles {
		if open == h {
			f.handles = append(f.handles[:i], f.handles[i+1:]...)
			return
		}
	}
}

// latest returns the most recently opened handle, if any.
func (f *File) latest() *FileHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

// Attr implements the Node interface, returning the file's attributes. An
// open handle is consulted first so pending writes are reflected.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.path)

	var payload interface{}
	var err error
	if h := f.latest(); h != nil {
		payload, err = f.fs.await(ctx, func(reply vfs.Reply) {
			f.fs.ops.Fgetattr(ctx, f.path.String(), h.fd, reply)
		})
	} else {
		payload, err = f.fs.await(ctx, func(reply vfs.Reply) {
			f.fs.ops.Getattr(ctx, f.path.String(), reply)
		})
	}
	if err != nil {
		return err
	}
	f.fs.fillAttr(a, payload.(container.Attributes))
	return nil
}

// Setattr handles truncation. Timestamps are accepted and ignored.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		size := int64(req.Size)
		fileLogger.Debug("Truncating %q to %d bytes", f.path, size)
		_, err := f.fs.await(ctx, func(reply vfs.Reply) {
			if h := f.latest(); h != nil {
				f.fs.ops.Ftruncate(ctx, f.path.String(), h.fd, size, reply)
			} else {
				f.fs.ops.Truncate(ctx, f.path.String(), size, reply)
			}
		})
		if err != nil {
			return err
		}
	} else if req.Valid.Mtime() || req.Valid.Atime() {
		if _, err := f.fs.await(ctx, func(reply vfs.Reply) {
			f.fs.ops.Utimens(ctx, f.path.String(), reply)
		}); err != nil {
			return err
		}
	}
	return f.Attr(ctx, &resp.Attr)
}

// Open implements the NodeOpener interface.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	fileLogger.Debug("Opening file %q with flags %v", f.path, req.Flags)

	payload, err := f.fs.await(ctx, func(reply vfs.Reply) {
		f.fs.ops.Open(ctx, f.path.String(), flags, reply)
	})
	if err != nil {
		return nil, err
	}

	// content is never cached in the kernel
	resp.Flags |= fuse.OpenDirectIO
	return f.track(payload.(container.FD)), nil
}

// Fsync implements the NodeFsyncer interface. Data is committed on release.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	return nil
}

// FileHandle is one open descriptor of a File.
type FileHandle struct {
	file *File
	fd   container.FD
}

// Read implements the HandleReader interface.
func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	f := fh.file
	fileLogger.Trace("Reading %d bytes from file %q at offset %d", req.Size, f.path, req.Offset)

	buf := make([]byte, req.Size)
	payload, err := f.fs.await(ctx, func(reply vfs.Reply) {
		f.fs.ops.Read(ctx, f.path.String(), fh.fd, buf, req.Offset, reply)
	})
	if err != nil {
		return err
	}
	resp.Data = buf[:payload.(int)]
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	f := fh.file
	fileLogger.Trace("Writing %d bytes to file %q at offset %d", len(req.Data), f.path, req.Offset)

	data := append([]byte(nil), req.Data...)
	payload, err := f.fs.await(ctx, func(reply vfs.Reply) {
		f.fs.ops.Write(ctx, f.path.String(), fh.fd, data, req.Offset, reply)
	})
	if err != nil {
		return err
	}
	resp.Size = payload.(int)
	return nil
}

// Flush implements the HandleFlusher interface.
func (fh *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	return nil
}

// Release implements the HandleReleaser interface, committing and closing
// the descriptor.
func (fh *FileHandle) Release(ctx context.Context, _ *fuse.ReleaseRequest) error {
	f := fh.file
	defer f.untrack(fh)
	fileLogger.Debug("Closing file %q", f.path)

	// the descriptor must be closed even if the request is interrupted
	rctx := context.WithoutCancel(ctx)
	_, err := f.fs.await(rctx, func(reply vfs.Reply) {
		f.fs.ops.Release(rctx, f.path.String(), fh.fd, reply)
	})
	return err
}
