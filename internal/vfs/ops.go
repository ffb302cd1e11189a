package vfs

import (
	"context"
	"runtime/debug"
	"sync"
	"syscall"

	"safedrive/internal/container"
	"safedrive/internal/logging"
)

var (
	opsLogger = logging.GetLogger().WithPrefix("ops")
)

// Result is the outcome of one dispatched operation. Code is 0 on success
// and a negated errno otherwise.
type Result struct {
	Code    int
	Payload interface{}
}

// Err returns the result as an error, nil on success.
func (r Result) Err() error {
	if r.Code == 0 {
		return nil
	}
	return syscall.Errno(-r.Code)
}

// Reply receives the result of an operation. It is called exactly once.
type Reply func(Result)

// Dispatcher runs VFS operations asynchronously on behalf of a driver and
// completes each through its Reply. Panics become EIO.
type Dispatcher struct {
	vfs *VFS
	wg  sync.WaitGroup
}

// NewDispatcher creates a dispatcher for v.
func NewDispatcher(v *VFS) *Dispatcher {
	return &Dispatcher{vfs: v}
}

// Wait blocks until every dispatched operation has replied.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, op string, p Path, reply Reply, fn func(context.Context) (interface{}, error)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		var once sync.Once
		send := func(r Result) {
			once.Do(func() { reply(r) })
		}
		defer func() {
			if r := recover(); r != nil {
				opsLogger.Error("%s %s panicked: %v\n%s", op, p, r, debug.Stack())
				send(Result{Code: -int(syscall.EIO)})
			}
		}()

		payload, err := fn(ctx)
		if err != nil {
			code := Code(err)
			if isExpected(err) {
				opsLogger.Debug("%s %s: %v", op, p, err)
			} else {
				opsLogger.Warn("%s %s: %v", op, p, err)
			}
			send(Result{Code: code})
			return
		}
		opsLogger.Trace("%s %s ok", op, p)
		send(Result{Payload: payload})
	}()
}

// Readdir replies with []string.
func (d *Dispatcher) Readdir(ctx context.Context, p string, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpReaddir, path, reply, func(ctx context.Context) (interface{}, error) {
		return d.vfs.Readdir(ctx, path)
	})
}

// Getattr replies with container.Attributes.
func (d *Dispatcher) Getattr(ctx context.Context, p string, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpGetattr, path, reply, func(ctx context.Context) (interface{}, error) {
		return d.vfs.Getattr(ctx, path)
	})
}

// Fgetattr replies with container.Attributes.
func (d *Dispatcher) Fgetattr(ctx context.Context, p string, fd container.FD, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpFgetattr, path, reply, func(ctx context.Context) (interface{}, error) {
		return d.vfs.Fgetattr(ctx, path, fd)
	})
}

// Open replies with the container.FD.
func (d *Dispatcher) Open(ctx context.Context, p string, flags int, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpOpen, path, reply, func(ctx context.Context) (interface{}, error) {
		return d.vfs.Open(ctx, path, flags)
	})
}

// Create replies with the container.FD.
func (d *Dispatcher) Create(ctx context.Context, p string, flags int, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpCreate, path, reply, func(ctx context.Context) (interface{}, error) {
		return d.vfs.Create(ctx, path, flags)
	})
}

// Read fills buf and replies with the byte count.
func (d *Dispatcher) Read(ctx context.Context, p string, fd container.FD, buf []byte, off int64, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpRead, path, reply, func(ctx context.Context) (interface{}, error) {
		return d.vfs.Read(ctx, path, fd, buf, off)
	})
}

// Write replies with the byte count.
func (d *Dispatcher) Write(ctx context.Context, p string, fd container.FD, buf []byte, off int64, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpWrite, path, reply, func(ctx context.Context) (interface{}, error) {
		return d.vfs.Write(ctx, path, fd, buf, off)
	})
}

// Release replies with no payload.
func (d *Dispatcher) Release(ctx context.Context, p string, fd container.FD, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpRelease, path, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Release(ctx, path, fd)
	})
}

// Truncate replies with no payload.
func (d *Dispatcher) Truncate(ctx context.Context, p string, size int64, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpTruncate, path, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Truncate(ctx, path, size)
	})
}

// Ftruncate replies with no payload.
func (d *Dispatcher) Ftruncate(ctx context.Context, p string, fd container.FD, size int64, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpFtruncate, path, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Ftruncate(ctx, path, fd, size)
	})
}

// Unlink replies with no payload.
func (d *Dispatcher) Unlink(ctx context.Context, p string, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpUnlink, path, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Unlink(ctx, path)
	})
}

// Rename replies with no payload.
func (d *Dispatcher) Rename(ctx context.Context, p, newPath string, reply Reply) {
	from, to := NewPath(p), NewPath(newPath)
	d.run(ctx, OpRename, from, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Rename(ctx, from, to)
	})
}

// Mkdir replies with no payload.
func (d *Dispatcher) Mkdir(ctx context.Context, p string, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpMkdir, path, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Mkdir(ctx, path)
	})
}

// Rmdir replies with no payload.
func (d *Dispatcher) Rmdir(ctx context.Context, p string, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpRmdir, path, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Rmdir(ctx, path)
	})
}

// Statfs replies with Statfs.
func (d *Dispatcher) Statfs(ctx context.Context, p string, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpStatfs, path, reply, func(ctx context.Context) (interface{}, error) {
		return d.vfs.Statfs(ctx, path)
	})
}

// Utimens replies with no payload.
func (d *Dispatcher) Utimens(ctx context.Context, p string, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpUtimens, path, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Utimens(ctx, path)
	})
}

// Link always replies EOPNOTSUPP.
func (d *Dispatcher) Link(ctx context.Context, p, newPath string, reply Reply) {
	from, to := NewPath(p), NewPath(newPath)
	d.run(ctx, OpLink, from, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Link(ctx, from, to)
	})
}

// Symlink always replies EOPNOTSUPP.
func (d *Dispatcher) Symlink(ctx context.Context, target, p string, reply Reply) {
	path := NewPath(p)
	d.run(ctx, OpSymlink, path, reply, func(ctx context.Context) (interface{}, error) {
		return nil, d.vfs.Symlink(ctx, target, path)
	})
}
