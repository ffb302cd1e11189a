package fs

import (
	"os"
	"time"

	"safedrive/internal/container"

	"bazil.org/fuse"
)

const (
	fileMode os.FileMode = 0644
	dirMode              = os.ModeDir | 0755
)

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// fillAttr converts container attributes into a fuse.Attr.
func (f *FileSystem) fillAttr(a *fuse.Attr, attrs container.Attributes) {
	a.Valid = f.opts.AttrValid
	a.Uid = f.uid
	a.Gid = f.gid
	a.Mtime = attrs.Modified
	a.Atime = attrs.Accessed
	a.Ctime = attrs.Modified
	a.Crtime = attrs.Created
	if a.Mtime.IsZero() {
		now := time.Now()
		a.Mtime, a.Atime, a.Ctime, a.Crtime = now, now, now, now
	}

	if attrs.IsFile {
		a.Mode = fileMode
		a.Nlink = 1
		a.Size = attrs.Size
		a.BlockSize = 4096
		a.Blocks = (attrs.Size + 511) / 512
		return
	}
	a.Mode = dirMode
	a.Nlink = 2
}

func direntType(attrs container.Attributes) fuse.DirentType {
	if attrs.IsFile {
		return fuse.DT_File
	}
	return fuse.DT_Dir
}
