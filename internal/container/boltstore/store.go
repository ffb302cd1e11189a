// Package boltstore implements containers in a bolt database.
//
// Every container is a bucket whose keys are the relative paths of its
// files. Directories are implied by key prefixes, the same way the remote
// store models them, so a directory disappears with its last file.
package boltstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"safedrive/internal/container"
	"safedrive/internal/logging"

	"github.com/boltdb/bolt"
)

var (
	logger = logging.GetLogger().WithPrefix("boltstore")
)

const (
	containerBucketPrefix = "container/"
	siteBucketPrefix      = "site/"
)

// Store is a bolt backed container provider.
type Store struct {
	db    *bolt.DB
	codec *codec
	files *container.OpenFiles
}

// Open opens or creates the database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", dbPath, err)
	}
	c, err := newCodec()
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("Opened bolt database %s", dbPath)
	return &Store{db: db, codec: c, files: container.NewOpenFiles()}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.codec.close()
	return s.db.Close()
}

// CreateSite publishes an empty site for host.
func (s *Store) CreateSite(host string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(siteBucketPrefix + host))
		if err != nil {
			return fmt.Errorf("create bucket: %s", err)
		}
		return nil
	})
}

// Materialize implements container.Provider.
func (s *Store) Materialize(_ context.Context, ref container.Ref) (container.Handle, error) {
	switch {
	case ref.Locator != "":
		_, host, err := container.ParseLocator(ref.Locator)
		if err != nil {
			return nil, err
		}
		bucket := []byte(siteBucketPrefix + host)
		err = s.db.View(func(tx *bolt.Tx) error {
			if tx.Bucket(bucket) == nil {
				return fmt.Errorf("%s: %w", ref.Locator, container.ErrNotFound)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Container{store: s, bucket: bucket}, nil
	case ref.Name != "":
		bucket := []byte(containerBucketPrefix + ref.Name)
		err := s.db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return fmt.Errorf("create bucket: %s", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Container{store: s, bucket: bucket}, nil
	}
	return nil, fmt.Errorf("empty container reference: %w", container.ErrNotFound)
}

// Container is one bucket.
type Container struct {
	store  *Store
	bucket []byte
}

func (c *Container) owner() string {
	return string(c.bucket)
}

// kind classifies a path inside a bucket.
type kind int

const (
	kindMissing kind = iota
	kindFile
	kindDir
)

func dirPrefix(rel string) []byte {
	if rel == "" {
		return nil
	}
	return []byte(rel + "/")
}

// classify reports whether rel is a file key, a key prefix, or neither.
func classify(b *bolt.Bucket, rel string) kind {
	if rel == "" {
		return kindDir
	}
	if b.Get([]byte(rel)) != nil {
		return kindFile
	}
	prefix := dirPrefix(rel)
	k, _ := b.Cursor().Seek(prefix)
	if k != nil && bytes.HasPrefix(k, prefix) {
		return kindDir
	}
	return kindMissing
}

// hasEntries reports whether any key lives beneath dir.
func hasEntries(b *bolt.Bucket, dir string) bool {
	prefix := dirPrefix(dir)
	k, _ := b.Cursor().Seek(prefix)
	return k != nil && bytes.HasPrefix(k, prefix)
}

func (c *Container) bucketOf(tx *bolt.Tx) (*bolt.Bucket, error) {
	b := tx.Bucket(c.bucket)
	if b == nil {
		return nil, fmt.Errorf("bucket %s: %w", c.bucket, container.ErrNotFound)
	}
	return b, nil
}

// ListFolder implements container.Handle.
func (c *Container) ListFolder(_ context.Context, rel string) ([]string, error) {
	rel = container.CleanRel(rel)
	var names []string
	err := c.store.db.View(func(tx *bolt.Tx) error {
		b, err := c.bucketOf(tx)
		if err != nil {
			return err
		}
		switch classify(b, rel) {
		case kindMissing:
			return container.ErrNotFound
		case kindFile:
			return container.ErrNotDir
		}

		prefix := dirPrefix(rel)
		seen := make(map[string]bool)
		cur := b.Cursor()
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			name, _, _ := strings.Cut(string(k[len(prefix):]), "/")
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// ItemAttributes implements container.Handle.
func (c *Container) ItemAttributes(_ context.Context, rel string, fd container.FD) (container.Attributes, error) {
	rel = container.CleanRel(rel)
	if fd != 0 {
		f, err := c.store.files.Get(c.owner(), rel, fd)
		if err != nil {
			return container.Attributes{}, err
		}
		return f.Attributes(), nil
	}
	if f, ok := c.store.files.Pending(c.owner(), rel); ok {
		return f.Attributes(), nil
	}

	var attrs container.Attributes
	err := c.store.db.View(func(tx *bolt.Tx) error {
		b, err := c.bucketOf(tx)
		if err != nil {
			return err
		}
		switch classify(b, rel) {
		case kindMissing:
			attrs.EntryType = container.EntryNotFound
			return container.ErrNotFound
		case kindFile:
			rec, err := c.store.codec.decodeMeta(b.Get([]byte(rel)))
			if err != nil {
				return err
			}
			attrs = container.Attributes{
				Modified:  rec.Modified,
				Accessed:  rec.Modified,
				Created:   rec.Created,
				Size:      uint64(rec.Size),
				IsFile:    true,
				EntryType: container.EntryFile,
			}
		case kindDir:
			attrs.EntryType = container.EntryContainer
			prefix := dirPrefix(rel)
			cur := b.Cursor()
			for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
				rec, err := c.store.codec.decodeMeta(v)
				if err != nil {
					continue
				}
				if rec.Modified.After(attrs.Modified) {
					attrs.Modified = rec.Modified
				}
				if attrs.Created.IsZero() || rec.Created.Before(attrs.Created) {
					attrs.Created = rec.Created
				}
			}
			attrs.Accessed = attrs.Modified
		}
		return nil
	})
	return attrs, err
}

// OpenFile implements container.Handle.
func (c *Container) OpenFile(_ context.Context, rel string, mode container.AccessMode) (container.FD, error) {
	rel = container.CleanRel(rel)
	f := &container.OpenFile{Owner: c.owner(), Path: rel, Mode: mode}
	err := c.store.db.View(func(tx *bolt.Tx) error {
		b, err := c.bucketOf(tx)
		if err != nil {
			return err
		}
		switch classify(b, rel) {
		case kindMissing:
			return container.ErrNotFound
		case kindDir:
			return container.ErrIsDir
		}
		rec, data, err := c.store.codec.decode(b.Get([]byte(rel)))
		if err != nil {
			return err
		}
		f.Created = rec.Created
		if mode&container.ModeOverwrite == 0 {
			f.Data = data
		} else {
			f.Dirty = true
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return c.store.files.Add(f), nil
}

// CloseFile implements container.Handle.
func (c *Container) CloseFile(_ context.Context, _ string, fd container.FD) error {
	f, err := c.store.files.Remove(c.owner(), fd)
	if err != nil {
		return err
	}
	data, dirty := f.Contents()
	if !dirty {
		return nil
	}
	return c.store.db.Update(func(tx *bolt.Tx) error {
		b, err := c.bucketOf(tx)
		if err != nil {
			return err
		}
		created := f.Created
		if created.IsZero() {
			created = time.Now()
		}
		raw, err := c.store.codec.encode(data, created, time.Now())
		if err != nil {
			return err
		}
		logger.Trace("Committing %d bytes to %s:%s", len(data), c.bucket, f.Path)
		return b.Put([]byte(f.Path), raw)
	})
}

// ReadFileBuf implements container.Handle.
func (c *Container) ReadFileBuf(_ context.Context, rel string, fd container.FD, buf []byte, off int64) (int, error) {
	f, err := c.store.files.Get(c.owner(), rel, fd)
	if err != nil {
		return 0, err
	}
	return f.ReadAt(buf, off), nil
}

// WriteFileBuf implements container.Handle.
func (c *Container) WriteFileBuf(_ context.Context, rel string, fd container.FD, buf []byte, off int64) (int, error) {
	f, err := c.store.files.Get(c.owner(), rel, fd)
	if err != nil {
		return 0, err
	}
	return f.WriteAt(buf, off), nil
}

// CreateFile implements container.Handle.
func (c *Container) CreateFile(_ context.Context, rel string) (container.FD, error) {
	rel = container.CleanRel(rel)
	if rel == "" {
		return 0, container.ErrIsDir
	}
	err := c.store.db.View(func(tx *bolt.Tx) error {
		b, err := c.bucketOf(tx)
		if err != nil {
			return err
		}
		if classify(b, rel) != kindMissing {
			return container.ErrExists
		}
		for parent := container.ParentRel(rel); parent != ""; parent = container.ParentRel(parent) {
			if classify(b, parent) == kindFile {
				return container.ErrNotDir
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return c.store.files.Add(&container.OpenFile{
		Owner:   c.owner(),
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
	var res container.DeleteResult
	err := c.store.db.Update(func(tx *bolt.Tx) error {
		b, err := c.bucketOf(tx)
		if err != nil {
			return err
		}
		switch classify(b, rel) {
		case kindMissing:
			return container.ErrNotFound
		case kindDir:
			return container.ErrNotEmpty
		}
		if err := b.Delete([]byte(rel)); err != nil {
			return err
		}
		parent := container.ParentRel(rel)
		res.WasLastItem = parent != "" && !hasEntries(b, parent)
		return nil
	})
	return res, err
}

// RenameFile implements container.Handle. Renaming a directory moves every
// key beneath it.
func (c *Container) RenameFile(_ context.Context, rel, newRel, _ string) (container.RenameResult, error) {
	rel = container.CleanRel(rel)
	newRel = container.CleanRel(newRel)
	var res container.RenameResult
	err := c.store.db.Update(func(tx *bolt.Tx) error {
		b, err := c.bucketOf(tx)
		if err != nil {
			return err
		}
		if rel == "" || newRel == "" {
			return container.ErrIsDir
		}
		if newRel == rel || strings.HasPrefix(newRel, rel+"/") {
			return fmt.Errorf("cannot move %s into itself: %w", rel, container.ErrExists)
		}
		if classify(b, newRel) == kindDir {
			return container.ErrIsDir
		}

		switch classify(b, rel) {
		case kindMissing:
			return container.ErrNotFound
		case kindFile:
			if err := moveKey(b, []byte(rel), []byte(newRel)); err != nil {
				return err
			}
		case kindDir:
			if classify(b, newRel) == kindFile {
				return container.ErrNotDir
			}
			prefix := dirPrefix(rel)
			var keys [][]byte
			cur := b.Cursor()
			for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			for _, k := range keys {
				dest := append([]byte(newRel+"/"), k[len(prefix):]...)
				if err := moveKey(b, k, dest); err != nil {
					return err
				}
			}
		}

		parent := container.ParentRel(rel)
		res.WasLastItem = parent != "" && !hasEntries(b, parent)
		return nil
	})
	if err != nil {
		return container.RenameResult{}, err
	}
	c.store.files.Rename(c.owner(), rel, newRel)
	return res, nil
}

func moveKey(b *bolt.Bucket, from, to []byte) error {
	v := b.Get(from)
	if v == nil {
		return container.ErrNotFound
	}
	value := append([]byte(nil), v...)
	if err := b.Put(to, value); err != nil {
		return err
	}
	return b.Delete(from)
}

// TruncateFile implements container.Handle.
func (c *Container) TruncateFile(_ context.Context, rel string, fd container.FD, size int64) error {
	if fd != 0 {
		f, err := c.store.files.Get(c.owner(), rel, fd)
		if err != nil {
			return err
		}
		f.Truncate(size)
		return nil
	}

	rel = container.CleanRel(rel)
	return c.store.db.Update(func(tx *bolt.Tx) error {
		b, err := c.bucketOf(tx)
		if err != nil {
			return err
		}
		switch classify(b, rel) {
		case kindMissing:
			return container.ErrNotFound
		case kindDir:
			return container.ErrIsDir
		}
		rec, data, err := c.store.codec.decode(b.Get([]byte(rel)))
		if err != nil {
			return err
		}
		f := &container.OpenFile{Data: data}
		f.Truncate(size)
		raw, err := c.store.codec.encode(f.Data, rec.Created, time.Now())
		if err != nil {
			return err
		}
		return b.Put([]byte(rel), raw)
	})
}

