// Package container defines the contract between the virtual filesystem and
// a remote storage container, together with helpers shared by concrete
// backends.
//
// A container stores files under slash-separated relative paths. The empty
// path is the container root. Directories exist only as long as some file
// lives beneath them, so a backend never reports an empty directory other
// than the root.
package container

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the entry or container does not exist
	ErrNotFound = errors.New("entry not found")

	// ErrExists indicates the target entry already exists
	ErrExists = errors.New("entry already exists")

	// ErrNotDir indicates a path component is a file
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir indicates a file operation was attempted on a directory
	ErrIsDir = errors.New("is a directory")

	// ErrNotEmpty indicates a directory still holds entries
	ErrNotEmpty = errors.New("directory not empty")

	// ErrBadFD indicates an unknown or already closed file descriptor
	ErrBadFD = errors.New("bad file descriptor")

	// ErrUnsupported indicates the container does not implement the operation
	ErrUnsupported = errors.New("operation not supported")
)

// EntryType classifies what lives at a path inside a container.
type EntryType int

const (
	EntryNotFound EntryType = iota
	EntryFile
	// EntryNewFile is a file created but not yet committed by close.
	EntryNewFile
	EntryFakeContainer
	EntryContainer
	EntryVirtual
	EntryDeleted
)

var entryTypeNames = map[EntryType]string{
	EntryNotFound:      "not-found",
	EntryFile:          "file",
	EntryNewFile:       "new-file",
	EntryFakeContainer: "fake-container",
	EntryContainer:     "container",
	EntryVirtual:       "virtual",
	EntryDeleted:       "deleted",
}

func (t EntryType) String() string {
	if name, ok := entryTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("entry(%d)", int(t))
}

// AccessMode is the remote open mode. Values combine as a bit set.
type AccessMode int

const (
	ModeOverwrite AccessMode = 1
	ModeAppend    AccessMode = 2
	ModeRead      AccessMode = 4
)

func (m AccessMode) String() string {
	var parts []string
	if m&ModeOverwrite != 0 {
		parts = append(parts, "overwrite")
	}
	if m&ModeAppend != 0 {
		parts = append(parts, "append")
	}
	if m&ModeRead != 0 {
		parts = append(parts, "read")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// FD identifies an open file. Zero means "no descriptor".
type FD uint64

// Attributes describes one entry.
type Attributes struct {
	Modified  time.Time
	Accessed  time.Time
	Created   time.Time
	Size      uint64
	IsFile    bool
	EntryType EntryType
}

// DeleteResult reports the outcome of DeleteFile.
type DeleteResult struct {
	// WasLastItem is true when the parent directory holds no entries after
	// the delete and the parent is not the container root.
	WasLastItem bool
}

// RenameResult reports the outcome of RenameFile. WasLastItem refers to the
// parent of the source path and follows the DeleteResult rule.
type RenameResult struct {
	WasLastItem bool
}

// Handle is one remote container. Every call may block on the network and
// may fail independently.
type Handle interface {
	ListFolder(ctx context.Context, rel string) ([]string, error)
	ItemAttributes(ctx context.Context, rel string, fd FD) (Attributes, error)
	OpenFile(ctx context.Context, rel string, mode AccessMode) (FD, error)
	CloseFile(ctx context.Context, rel string, fd FD) error
	ReadFileBuf(ctx context.Context, rel string, fd FD, buf []byte, off int64) (int, error)
	WriteFileBuf(ctx context.Context, rel string, fd FD, buf []byte, off int64) (int, error)
	CreateFile(ctx context.Context, rel string) (FD, error)
	DeleteFile(ctx context.Context, rel string) (DeleteResult, error)
	RenameFile(ctx context.Context, rel, newRel, newAbs string) (RenameResult, error)
	TruncateFile(ctx context.Context, rel string, fd FD, size int64) error
}

// Ref names a container to materialize: either a symbolic default
// container name or a locator such as "safe://blog".
type Ref struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Locator string `json:"locator,omitempty" yaml:"locator,omitempty"`
}

func (r Ref) String() string {
	if r.Locator != "" {
		return r.Locator
	}
	return r.Name
}

// IsZero reports whether the ref names nothing.
func (r Ref) IsZero() bool {
	return r.Name == "" && r.Locator == ""
}

// Provider materializes container handles.
type Provider interface {
	Materialize(ctx context.Context, ref Ref) (Handle, error)
}

// ParseLocator splits "scheme://host" into its parts. The host must be a
// single non-empty path segment.
func ParseLocator(locator string) (scheme, host string, err error) {
	scheme, host, ok := strings.Cut(locator, "://")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("locator %q has no scheme", locator)
	}
	host = strings.TrimSuffix(host, "/")
	if host == "" || strings.Contains(host, "/") {
		return "", "", fmt.Errorf("locator %q has an invalid host", locator)
	}
	return scheme, host, nil
}

// CleanRel normalizes a relative path: no leading or trailing slash, "" for
// the container root.
func CleanRel(rel string) string {
	cleaned := path.Clean("/" + rel)
	if cleaned == "/" {
		return ""
	}
	return strings.TrimPrefix(cleaned, "/")
}

// ParentRel returns the parent of a relative path, "" for top-level entries.
func ParentRel(rel string) string {
	parent := path.Dir(CleanRel(rel))
	if parent == "." || parent == "/" {
		return ""
	}
	return parent
}
