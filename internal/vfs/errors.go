package vfs

import (
	"errors"
	"fmt"
	"syscall"

	"safedrive/internal/container"
	"safedrive/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrNotFound indicates no handler, container or entry resolves
	ErrNotFound = errors.New("not found")

	// ErrRemoteIO indicates a container call failed
	ErrRemoteIO = errors.New("remote i/o error")

	// ErrConflict indicates a mount was requested at an occupied path
	ErrConflict = errors.New("mount path already occupied")

	// ErrAlreadyExists indicates the path already exists
	ErrAlreadyExists = errors.New("path already exists")

	// ErrNotEmpty indicates a directory still has entries
	ErrNotEmpty = errors.New("directory not empty")

	// ErrUnsupported indicates an intentionally unimplemented operation
	ErrUnsupported = errors.New("operation not supported")

	// ErrInvalidPath indicates an invalid path argument
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotDir indicates a directory operation on a file
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir indicates a file operation on a directory
	ErrIsDir = errors.New("is a directory")

	// ErrCrossMount indicates a rename between two mounted containers
	ErrCrossMount = errors.New("rename across mounts")

	// ErrBusy indicates the path is a mount point
	ErrBusy = errors.New("mount point busy")

	// ErrBadDescriptor indicates an unknown file descriptor
	ErrBadDescriptor = errors.New("bad file descriptor")
)

// Error wraps errors with the operation and path that produced them.
type Error struct {
	Op   string // Operation that failed (e.g., "getattr", "rename")
	Path string // Affected path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op string, p Path, err error) *Error {
	e := &Error{
		Op:   op,
		Path: p.String(),
		Err:  err,
	}
	errLogger.Trace("Created new error: %v", e)
	return e
}

var errnos = []struct {
	err   error
	errno syscall.Errno
}{
	{ErrNotFound, syscall.ENOENT},
	{ErrRemoteIO, syscall.EREMOTEIO},
	{ErrConflict, syscall.EEXIST},
	{ErrAlreadyExists, syscall.EEXIST},
	{ErrNotEmpty, syscall.ENOTEMPTY},
	{ErrUnsupported, syscall.EOPNOTSUPP},
	{ErrInvalidPath, syscall.EINVAL},
	{ErrNotDir, syscall.ENOTDIR},
	{ErrIsDir, syscall.EISDIR},
	{ErrCrossMount, syscall.EXDEV},
	{ErrBusy, syscall.EBUSY},
	{ErrBadDescriptor, syscall.EBADF},
}

// Errno converts an error to the platform error number reported to the
// driver. Unknown errors become EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	errLogger.Debug("Unknown error type, returning EIO: %v", err)
	return syscall.EIO
}

// Code returns 0 for nil and the negated errno otherwise.
func Code(err error) int {
	if err == nil {
		return 0
	}
	return -int(Errno(err))
}

// remote classifies an error returned by a container handle.
func remote(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, container.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, container.ErrExists):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, container.ErrNotDir):
		return fmt.Errorf("%w: %v", ErrNotDir, err)
	case errors.Is(err, container.ErrIsDir):
		return fmt.Errorf("%w: %v", ErrIsDir, err)
	case errors.Is(err, container.ErrNotEmpty):
		return fmt.Errorf("%w: %v", ErrNotEmpty, err)
	case errors.Is(err, container.ErrBadFD):
		return fmt.Errorf("%w: %v", ErrBadDescriptor, err)
	case errors.Is(err, container.ErrUnsupported):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return fmt.Errorf("%w: %w", ErrRemoteIO, err)
}

// isExpected reports errors that are part of normal filesystem traffic.
func isExpected(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrNotEmpty) ||
		errors.Is(err, ErrUnsupported)
}

// Common operation names for consistent logging and error reporting
const (
	OpResolve   = "resolve"
	OpMount     = "mount"
	OpUnmount   = "unmount"
	OpReaddir   = "readdir"
	OpGetattr   = "getattr"
	OpFgetattr  = "fgetattr"
	OpOpen      = "open"
	OpCreate    = "create"
	OpRead      = "read"
	OpWrite     = "write"
	OpRelease   = "release"
	OpTruncate  = "truncate"
	OpFtruncate = "ftruncate"
	OpUnlink    = "unlink"
	OpRename    = "rename"
	OpMkdir     = "mkdir"
	OpRmdir     = "rmdir"
	OpStatfs    = "statfs"
	OpUtimens   = "utimens"
	OpLink      = "link"
	OpSymlink   = "symlink"
)
