package vfs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"safedrive/internal/container"
)

// fakeContainer keeps files in a map; directories are implied by paths.
// Every call is counted.
type fakeContainer struct {
	mu      sync.Mutex
	files   map[string][]byte
	open    map[container.FD]*fakeOpen
	nextFD  container.FD
	calls   int
	failErr error
	panics  bool
}

type fakeOpen struct {
	path    string
	data    []byte
	created bool
}

func newFakeContainer() *fakeContainer {
	return &fakeContainer{
		files: make(map[string][]byte),
		open:  make(map[container.FD]*fakeOpen),
	}
}

func (c *fakeContainer) put(rel, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[rel] = []byte(data)
}

func (c *fakeContainer) has(rel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[rel]
	return ok
}

func (c *fakeContainer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeContainer) enter() error {
	c.calls++
	if c.panics {
		panic("fake container exploded")
	}
	return c.failErr
}

func (c *fakeContainer) isDir(rel string) bool {
	if rel == "" {
		return true
	}
	for k := range c.files {
		if strings.HasPrefix(k, rel+"/") {
			return true
		}
	}
	return false
}

func (c *fakeContainer) ListFolder(_ context.Context, rel string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return nil, err
	}
	if _, ok := c.files[rel]; ok {
		return nil, container.ErrNotDir
	}
	if !c.isDir(rel) {
		return nil, container.ErrNotFound
	}
	prefix := ""
	if rel != "" {
		prefix = rel + "/"
	}
	seen := make(map[string]bool)
	names := []string{}
	for k := range c.files {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(k, prefix), "/")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *fakeContainer) ItemAttributes(_ context.Context, rel string, fd container.FD) (container.Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return container.Attributes{}, err
	}
	now := time.Now()
	if fd != 0 {
		f, ok := c.open[fd]
		if !ok {
			return container.Attributes{}, container.ErrBadFD
		}
		return container.Attributes{Modified: now, Size: uint64(len(f.data)), IsFile: true, EntryType: container.EntryNewFile}, nil
	}
	for _, f := range c.open {
		if f.created && f.path == rel {
			return container.Attributes{Modified: now, Size: uint64(len(f.data)), IsFile: true, EntryType: container.EntryNewFile}, nil
		}
	}
	if data, ok := c.files[rel]; ok {
		return container.Attributes{Modified: now, Size: uint64(len(data)), IsFile: true, EntryType: container.EntryFile}, nil
	}
	if c.isDir(rel) {
		return container.Attributes{Modified: now, EntryType: container.EntryContainer}, nil
	}
	return container.Attributes{}, container.ErrNotFound
}

func (c *fakeContainer) OpenFile(_ context.Context, rel string, mode container.AccessMode) (container.FD, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return 0, err
	}
	data, ok := c.files[rel]
	if !ok {
		if c.isDir(rel) {
			return 0, container.ErrIsDir
		}
		return 0, container.ErrNotFound
	}
	f := &fakeOpen{path: rel}
	if mode&container.ModeOverwrite == 0 {
		f.data = append([]byte(nil), data...)
	}
	c.nextFD++
	c.open[c.nextFD] = f
	return c.nextFD, nil
}

func (c *fakeContainer) CloseFile(_ context.Context, _ string, fd container.FD) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return err
	}
	f, ok := c.open[fd]
	if !ok {
		return container.ErrBadFD
	}
	delete(c.open, fd)
	c.files[f.path] = f.data
	return nil
}

func (c *fakeContainer) ReadFileBuf(_ context.Context, _ string, fd container.FD, buf []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return 0, err
	}
	f, ok := c.open[fd]
	if !ok {
		return 0, container.ErrBadFD
	}
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(buf, f.data[off:]), nil
}

func (c *fakeContainer) WriteFileBuf(_ context.Context, _ string, fd container.FD, buf []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return 0, err
	}
	f, ok := c.open[fd]
	if !ok {
		return 0, container.ErrBadFD
	}
	if end := int(off) + len(buf); end > len(f.data) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:], buf)
	return len(buf), nil
}

func (c *fakeContainer) CreateFile(_ context.Context, rel string) (container.FD, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return 0, err
	}
	if _, ok := c.files[rel]; ok || c.isDir(rel) {
		return 0, container.ErrExists
	}
	c.nextFD++
	c.open[c.nextFD] = &fakeOpen{path: rel, created: true}
	return c.nextFD, nil
}

func (c *fakeContainer) lastItem(rel string) bool {
	parent := container.ParentRel(rel)
	return parent != "" && !c.isDir(parent)
}

func (c *fakeContainer) DeleteFile(_ context.Context, rel string) (container.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return container.DeleteResult{}, err
	}
	if _, ok := c.files[rel]; !ok {
		if c.isDir(rel) {
			return container.DeleteResult{}, container.ErrNotEmpty
		}
		return container.DeleteResult{}, container.ErrNotFound
	}
	delete(c.files, rel)
	return container.DeleteResult{WasLastItem: c.lastItem(rel)}, nil
}

func (c *fakeContainer) RenameFile(_ context.Context, rel, newRel, _ string) (container.RenameResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return container.RenameResult{}, err
	}
	if data, ok := c.files[rel]; ok {
		delete(c.files, rel)
		c.files[newRel] = data
		return container.RenameResult{WasLastItem: c.lastItem(rel)}, nil
	}
	if !c.isDir(rel) {
		return container.RenameResult{}, container.ErrNotFound
	}
	for k, data := range c.files {
		if strings.HasPrefix(k, rel+"/") {
			delete(c.files, k)
			c.files[newRel+strings.TrimPrefix(k, rel)] = data
		}
	}
	return container.RenameResult{WasLastItem: c.lastItem(rel)}, nil
}

func (c *fakeContainer) TruncateFile(_ context.Context, rel string, fd container.FD, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(); err != nil {
		return err
	}
	resize := func(data []byte) []byte {
		out := make([]byte, size)
		copy(out, data)
		return out
	}
	if fd != 0 {
		f, ok := c.open[fd]
		if !ok {
			return container.ErrBadFD
		}
		f.data = resize(f.data)
		return nil
	}
	data, ok := c.files[rel]
	if !ok {
		return container.ErrNotFound
	}
	c.files[rel] = resize(data)
	return nil
}

// fakeProvider hands out fake containers. Named containers are created on
// demand; locators must be published first.
type fakeProvider struct {
	mu           sync.Mutex
	containers   map[string]*fakeContainer
	sites        map[string]bool
	failNames    map[string]bool
	materialized int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		containers: make(map[string]*fakeContainer),
		sites:      make(map[string]bool),
		failNames:  make(map[string]bool),
	}
}

func (p *fakeProvider) publish(locator string) *fakeContainer {
	p.mu.Lock()
	p.sites[locator] = true
	p.mu.Unlock()
	return p.container(locator)
}

func (p *fakeProvider) container(key string) *fakeContainer {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.containers[key]
	if !ok {
		c = newFakeContainer()
		p.containers[key] = c
	}
	return c
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.materialized
}

func (p *fakeProvider) Materialize(ctx context.Context, ref container.Ref) (container.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	key := ref.String()
	switch {
	case ref.Locator != "" && !p.sites[key]:
		p.mu.Unlock()
		return nil, container.ErrNotFound
	case p.failNames[key]:
		p.mu.Unlock()
		return nil, errors.New("network unreachable")
	}
	p.materialized++
	p.mu.Unlock()
	return p.container(key), nil
}

func newTestVFS(t *testing.T) (*VFS, *fakeProvider) {
	t.Helper()
	provider := newFakeProvider()
	v := New(Options{
		Provider:          provider,
		DefaultContainers: []string{"_documents", "_public"},
		WebNamespace:      "_webMounts",
		WebScheme:         "safe://",
		Capacity:          1 << 30,
	})
	if err := v.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	t.Cleanup(v.Close)
	return v, provider
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
