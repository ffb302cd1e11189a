// Package aferostore implements containers on top of an afero filesystem.
//
// Default containers live under containers/<name> and are created on first
// use. Web sites live under sites/<host> and must be published beforehand
// with CreateSite.
package aferostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"time"

	"safedrive/internal/container"
	"safedrive/internal/logging"

	"github.com/spf13/afero"
)

const (
	containersDir = "/containers"
	sitesDir      = "/sites"
)

var (
	logger = logging.GetLogger().WithPrefix("aferostore")
)

// Store hands out containers backed by directories of one afero filesystem.
type Store struct {
	fs    afero.Fs
	files *container.OpenFiles
}

// New creates a store on fs.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs, files: container.NewOpenFiles()}
}

// NewMemory creates a store on an in-memory filesystem.
func NewMemory() *Store {
	return New(afero.NewMemMapFs())
}

// NewDir creates a store rooted at a directory of the host filesystem.
func NewDir(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", root, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

// CreateSite publishes an empty site so that a locator for host can be
// materialized.
func (s *Store) CreateSite(host string) error {
	return s.fs.MkdirAll(path.Join(sitesDir, host), 0755)
}

// Materialize implements container.Provider.
func (s *Store) Materialize(_ context.Context, ref container.Ref) (container.Handle, error) {
	var dir string
	switch {
	case ref.Locator != "":
		_, host, err := container.ParseLocator(ref.Locator)
		if err != nil {
			return nil, err
		}
		dir = path.Join(sitesDir, host)
		ok, err := afero.DirExists(s.fs, dir)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Debug("No site published for %s", ref.Locator)
			return nil, fmt.Errorf("%s: %w", ref.Locator, container.ErrNotFound)
		}
	case ref.Name != "":
		dir = path.Join(containersDir, ref.Name)
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("empty container reference: %w", container.ErrNotFound)
	}

	logger.Debug("Materialized %s at %s", ref, dir)
	return &Container{
		owner: dir,
		fs:    afero.NewBasePathFs(s.fs, dir),
		files: s.files,
	}, nil
}

// Container is one directory tree of the store.
type Container struct {
	owner string
	fs    afero.Fs
	files *container.OpenFiles
}

func abs(rel string) string {
	return "/" + container.CleanRel(rel)
}

func mapErr(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%v: %w", err, container.ErrNotFound)
	}
	return err
}

// ListFolder implements container.Handle.
func (c *Container) ListFolder(_ context.Context, rel string) ([]string, error) {
	info, err := c.fs.Stat(abs(rel))
	if err != nil {
		return nil, mapErr(err)
	}
	if !info.IsDir() {
		return nil, container.ErrNotDir
	}
	infos, err := afero.ReadDir(c.fs, abs(rel))
	if err != nil {
		return nil, mapErr(err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ItemAttributes implements container.Handle.
func (c *Container) ItemAttributes(_ context.Context, rel string, fd container.FD) (container.Attributes, error) {
	rel = container.CleanRel(rel)
	if fd != 0 {
		f, err := c.files.Get(c.owner, rel, fd)
		if err != nil {
			return container.Attributes{}, err
		}
		return f.Attributes(), nil
	}
	if f, ok := c.files.Pending(c.owner, rel); ok {
		return f.Attributes(), nil
	}

	info, err := c.fs.Stat(abs(rel))
	if err != nil {
		return container.Attributes{EntryType: container.EntryNotFound}, mapErr(err)
	}
	attrs := container.Attributes{
		Modified: info.ModTime(),
		Accessed: info.ModTime(),
		Created:  info.ModTime(),
	}
	if info.IsDir() {
		attrs.EntryType = container.EntryContainer
		return attrs, nil
	}
	attrs.IsFile = true
	attrs.EntryType = container.EntryFile
	if info.Size() > 0 {
		attrs.Size = uint64(info.Size())
	}
	return attrs, nil
}

// OpenFile implements container.Handle.
func (c *Container) OpenFile(_ context.Context, rel string, mode container.AccessMode) (container.FD, error) {
	rel = container.CleanRel(rel)
	info, err := c.fs.Stat(abs(rel))
	if err != nil {
		return 0, mapErr(err)
	}
	if info.IsDir() {
		return 0, container.ErrIsDir
	}

	f := &container.OpenFile{
		Owner:   c.owner,
		Path:    rel,
		Mode:    mode,
		Created: info.ModTime(),
	}
	if mode&container.ModeOverwrite == 0 {
		data, err := afero.ReadFile(c.fs, abs(rel))
		if err != nil {
			return 0, mapErr(err)
		}
		f.Data = data
	} else {
		f.Dirty = true
	}
	return c.files.Add(f), nil
}

// CloseFile implements container.Handle. Dirty buffers are committed here.
func (c *Container) CloseFile(_ context.Context, _ string, fd container.FD) error {
	f, err := c.files.Remove(c.owner, fd)
	if err != nil {
		return err
	}
	data, dirty := f.Contents()
	if !dirty {
		return nil
	}
	if err := c.fs.MkdirAll(abs(container.ParentRel(f.Path)), 0755); err != nil {
		return err
	}
	logger.Trace("Committing %d bytes to %s%s", len(data), c.owner, abs(f.Path))
	return afero.WriteFile(c.fs, abs(f.Path), data, 0644)
}

// ReadFileBuf implements container.Handle.
func (c *Container) ReadFileBuf(_ context.Context, rel string, fd container.FD, buf []byte, off int64) (int, error) {
	f, err := c.files.Get(c.owner, rel, fd)
	if err != nil {
		return 0, err
	}
	return f.ReadAt(buf, off), nil
}

// WriteFileBuf implements container.Handle.
func (c *Container) WriteFileBuf(_ context.Context, rel string, fd container.FD, buf []byte, off int64) (int, error) {
	f, err := c.files.Get(c.owner, rel, fd)
	if err != nil {
		return 0, err
	}
	return f.WriteAt(buf, off), nil
}

// CreateFile implements container.Handle. Missing parents are created when
// the file is committed.
func (c *Container) CreateFile(_ context.Context, rel string) (container.FD, error) {
	rel = container.CleanRel(rel)
	if rel == "" {
		return 0, container.ErrIsDir
	}
	if _, err := c.fs.Stat(abs(rel)); err == nil {
		return 0, container.ErrExists
	}
	for parent := container.ParentRel(rel); parent != ""; parent = container.ParentRel(parent) {
		if info, err := c.fs.Stat(abs(parent)); err == nil && !info.IsDir() {
			return 0, container.ErrNotDir
		}
	}
	return c.files.Add(&container.OpenFile{
		Owner:   c.owner,
		Path:    rel,
		Mode:    container.ModeOverwrite | container.ModeRead,
		Dirty:   true,
		New:     true,
		Created: time.Now(),
	}), nil
}

// DeleteFile implements container.Handle.
func (c *Container) DeleteFile(_ context.Context, rel string) (container.DeleteResult, error) {
	rel = container.CleanRel(rel)
	if rel == "" {
		return container.DeleteResult{}, container.ErrIsDir
	}
	info, err := c.fs.Stat(abs(rel))
	if err != nil {
		return container.DeleteResult{}, mapErr(err)
	}
	if info.IsDir() {
		entries, err := afero.ReadDir(c.fs, abs(rel))
		if err != nil {
			return container.DeleteResult{}, mapErr(err)
		}
		if len(entries) > 0 {
			return container.DeleteResult{}, container.ErrNotEmpty
		}
	}
	if err := c.fs.Remove(abs(rel)); err != nil {
		return container.DeleteResult{}, mapErr(err)
	}
	last, err := c.prune(container.ParentRel(rel))
	return container.DeleteResult{WasLastItem: last}, err
}

// RenameFile implements container.Handle.
func (c *Container) RenameFile(_ context.Context, rel, newRel, _ string) (container.RenameResult, error) {
	rel = container.CleanRel(rel)
	newRel = container.CleanRel(newRel)
	if rel == "" || newRel == "" {
		return container.RenameResult{}, container.ErrIsDir
	}
	info, err := c.fs.Stat(abs(rel))
	if err != nil {
		return container.RenameResult{}, mapErr(err)
	}
	if target, err := c.fs.Stat(abs(newRel)); err == nil && target.IsDir() {
		return container.RenameResult{}, container.ErrIsDir
	}
	if err := c.fs.MkdirAll(abs(container.ParentRel(newRel)), 0755); err != nil {
		return container.RenameResult{}, err
	}

	if info.IsDir() {
		err = c.moveTree(rel, newRel)
	} else {
		err = c.fs.Rename(abs(rel), abs(newRel))
	}
	if err != nil {
		return container.RenameResult{}, mapErr(err)
	}
	c.files.Rename(c.owner, rel, newRel)

	last, err := c.prune(container.ParentRel(rel))
	return container.RenameResult{WasLastItem: last}, err
}

// moveTree moves a directory file by file so it behaves the same on every
// afero implementation.
func (c *Container) moveTree(rel, newRel string) error {
	var files []string
	err := afero.Walk(c.fs, abs(rel), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	oldPrefix := abs(rel)
	for _, p := range files {
		dest := abs(newRel) + p[len(oldPrefix):]
		if err := c.fs.MkdirAll(path.Dir(dest), 0755); err != nil {
			return err
		}
		if err := c.fs.Rename(p, dest); err != nil {
			return err
		}
	}
	return c.fs.RemoveAll(oldPrefix)
}

// prune removes dir and its ancestors while they are empty, mirroring a
// remote store that has no notion of an empty directory. It reports whether
// dir itself was left empty.
func (c *Container) prune(dir string) (bool, error) {
	if dir == "" {
		return false, nil
	}
	entries, err := afero.ReadDir(c.fs, abs(dir))
	if err != nil {
		return false, mapErr(err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	for d := dir; d != ""; d = container.ParentRel(d) {
		entries, err := afero.ReadDir(c.fs, abs(d))
		if err != nil || len(entries) > 0 {
			break
		}
		if err := c.fs.Remove(abs(d)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// TruncateFile implements container.Handle.
func (c *Container) TruncateFile(_ context.Context, rel string, fd container.FD, size int64) error {
	if fd != 0 {
		f, err := c.files.Get(c.owner, rel, fd)
		if err != nil {
			return err
		}
		f.Truncate(size)
		return nil
	}

	rel = container.CleanRel(rel)
	info, err := c.fs.Stat(abs(rel))
	if err != nil {
		return mapErr(err)
	}
	if info.IsDir() {
		return container.ErrIsDir
	}
	data, err := afero.ReadFile(c.fs, abs(rel))
	if err != nil {
		return mapErr(err)
	}
	f := &container.OpenFile{Data: data}
	f.Truncate(size)
	return afero.WriteFile(c.fs, abs(rel), f.Data, 0644)
}
