package fs

import (
	"context"
	"syscall"

	"safedrive/internal/vfs"

	"bazil.org/fuse"
)

// await dispatches one operation and blocks until it replies or the kernel
// interrupts the request. The reply channel is buffered, so a late reply
// after an interrupt is dropped.
func (f *FileSystem) await(ctx context.Context, invoke func(vfs.Reply)) (interface{}, error) {
	ch := make(chan vfs.Result, 1)
	invoke(func(r vfs.Result) {
		ch <- r
	})

	select {
	case r := <-ch:
		if r.Code != 0 {
			return nil, toFuseError(r.Code)
		}
		return r.Payload, nil
	case <-ctx.Done():
		return nil, fuse.Errno(syscall.EINTR)
	}
}

// toFuseError converts a negated errno into an error bazil reports verbatim.
func toFuseError(code int) error {
	if code == 0 {
		return nil
	}
	if code > 0 {
		code = -code
	}
	return fuse.Errno(syscall.Errno(-code))
}
