package fs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"safedrive/internal/logging"
	"safedrive/internal/vfs"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/dustin/go-humanize"
)

var (
	fsLogger = logging.GetLogger().WithPrefix("fuse")
)

// Options configures the mounted filesystem.
type Options struct {
	// AllowOther lets users other than the mounting user access the mount.
	AllowOther bool
	// AttrValid is how long the kernel may cache attributes and entries.
	AttrValid time.Duration
}

// FileSystem exposes a vfs.VFS through bazil.org/fuse. Every request is
// forwarded through a vfs.Dispatcher and answered from its reply.
type FileSystem struct {
	vfs  *vfs.VFS
	ops  *vfs.Dispatcher
	opts Options
	uid  uint32 // User ID reported for every node
	gid  uint32 // Group ID reported for every node

	mu   sync.Mutex
	conn *fuse.Conn
	done chan struct{}
}

// New creates a filesystem for v.
func New(v *vfs.VFS, opts Options) *FileSystem {
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			fsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			fsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}
	if opts.AttrValid == 0 {
		opts.AttrValid = time.Second
	}

	return &FileSystem{
		vfs:  v,
		ops:  vfs.NewDispatcher(v),
		opts: opts,
		uid:  uid,
		gid:  gid,
	}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (f *FileSystem) Root() (fusefs.Node, error) {
	return &Dir{fs: f, path: vfs.Root}, nil
}

// Statfs implements fusefs.FSStatfser.
func (f *FileSystem) Statfs(ctx context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	payload, err := f.await(ctx, func(reply vfs.Reply) {
		f.ops.Statfs(ctx, "/", reply)
	})
	if err != nil {
		return err
	}
	st := payload.(vfs.Statfs)
	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = st.Bsize
	resp.Namelen = st.Namelen
	resp.Frsize = st.Frsize
	fsLogger.Trace("Statfs: %s capacity", humanize.Bytes(st.Blocks*uint64(st.Bsize)))
	return nil
}

// Mount mounts the filesystem at mountPoint and serves it in the
// background. Done is closed when serving stops.
func (f *FileSystem) Mount(mountPoint string) error {
	fsLogger.Info("Mounting filesystem at %s", mountPoint)
	fsLogger.Debug("UID: %d, GID: %d", f.uid, f.gid)

	mountOpts := []fuse.MountOption{
		fuse.FSName("safedrive"),
		fuse.Subtype("safedrive"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	}
	if f.opts.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}

	f.mu.Lock()
	f.conn = c
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	go func() {
		defer close(done)
		if err := fusefs.Serve(c, f); err != nil {
			fsLogger.Error("FUSE server error: %v", err)
		}
		f.ops.Wait()
		fsLogger.Debug("FUSE server stopped")
	}()

	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	fsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Done is closed once the server has stopped. It is nil before Mount.
func (f *FileSystem) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Unmount cleanly unmounts the filesystem.
func (f *FileSystem) Unmount(mountPoint string) error {
	f.mu.Lock()
	c := f.conn
	f.conn = nil
	f.mu.Unlock()
	if c == nil {
		return nil
	}

	fsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if err := fuse.Unmount(mountPoint); err != nil {
		fsLogger.Error("Unmount failed: %v", err)
		return err
	}
	return c.Close()
}

func waitForMount(mountPoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountPoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}
