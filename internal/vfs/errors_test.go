package vfs

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"safedrive/internal/container"
)

func TestErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"not found", ErrNotFound, syscall.ENOENT},
		{"wrapped not found", NewError(OpGetattr, "/a", ErrNotFound), syscall.ENOENT},
		{"double wrapped", NewError(OpMkdir, "/a", NewError(OpGetattr, "/", ErrNotDir)), syscall.ENOTDIR},
		{"conflict", ErrConflict, syscall.EEXIST},
		{"cross mount", ErrCrossMount, syscall.EXDEV},
		{"busy", ErrBusy, syscall.EBUSY},
		{"unsupported", ErrUnsupported, syscall.EOPNOTSUPP},
		{"remote", remote(errors.New("timeout")), syscall.EREMOTEIO},
		{"container not found", remote(container.ErrNotFound), syscall.ENOENT},
		{"container not empty", remote(fmt.Errorf("rmdir a: %w", container.ErrNotEmpty)), syscall.ENOTEMPTY},
		{"container bad fd", remote(container.ErrBadFD), syscall.EBADF},
		{"raw errno", syscall.EACCES, syscall.EACCES},
		{"unknown", errors.New("boom"), syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Errno(tt.err); got != tt.want {
				t.Errorf("Errno(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if got := Code(tt.err); got != -int(tt.want) {
				t.Errorf("Code(%v) = %d, want %d", tt.err, got, -int(tt.want))
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError(OpRename, "/a/b", ErrCrossMount)
	want := "operation rename on /a/b failed: rename across mounts"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrCrossMount) {
		t.Error("Error does not unwrap to its cause")
	}
	if got := NewError(OpResolve, "", ErrNotFound).Error(); got != "operation resolve failed: not found" {
		t.Errorf("Error() without path = %q", got)
	}
}
