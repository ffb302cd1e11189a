package state

import (
	"context"

	"safedrive/internal/container"
	"safedrive/internal/vfs"
)

// Capture records the mounts and virtual directories of a running session.
func Capture(v *vfs.VFS) *FSState {
	st := NewFSState()
	for _, m := range v.Mounts() {
		st.Mounts[m.Path.String()] = MountRecord{
			Name:    m.Ref.Name,
			Locator: m.Ref.Locator,
			Lazy:    m.Lazy,
		}
	}
	for _, p := range v.VirtualDirectories() {
		st.VirtualDirectories = append(st.VirtualDirectories, p.String())
	}
	return st
}

// Restore re-creates persisted mounts and virtual directories in a started
// session. Mounts are restored lazily so that an unreachable container does
// not block startup. It returns the number of mounts and directories
// restored.
func Restore(ctx context.Context, v *vfs.VFS, st *FSState) (mounts, dirs int) {
	for p, rec := range st.Mounts {
		ref := container.Ref{Name: rec.Name, Locator: rec.Locator}
		if _, err := v.Mount(ctx, vfs.NewPath(p), ref, true); err != nil {
			logger.Warn("Not restoring mount %s: %v", p, err)
			continue
		}
		mounts++
	}

	paths := make([]vfs.Path, 0, len(st.VirtualDirectories))
	for _, p := range st.VirtualDirectories {
		paths = append(paths, vfs.NewPath(p))
	}
	dirs = v.RestoreVirtualDirectories(ctx, paths)
	logger.Info("Restored %d mounts and %d virtual directories", mounts, dirs)
	return mounts, dirs
}
