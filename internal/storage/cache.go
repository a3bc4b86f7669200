package storage

import (
	"container/list"
	"os"
	"sync"
)

// FileCache indexes files materialized in the FileIO cache directory and
// keeps their total size under a budget by deleting the least recently used
// ones. A pinned file is never deleted, so the cache can run over budget
// while every candidate is in use.
type FileCache struct {
	budget int64

	mu    sync.Mutex
	used  int64
	files map[string]*cachedFile
	lru   *list.List // of *cachedFile, most recently used first
}

type cachedFile struct {
	location string
	path     string
	size     int64
	pins     int
	elem     *list.Element // nil once dropped from the index
}

// NewFileCache creates a cache bounded by budget bytes (10 GiB if <= 0).
func NewFileCache(budget int64) *FileCache {
	if budget <= 0 {
		budget = 10 << 30
	}
	return &FileCache{
		budget: budget,
		files:  make(map[string]*cachedFile),
		lru:    list.New(),
	}
}

// Get returns the indexed path for location, or "" when it is not cached
// or its file changed on disk.
func (c *FileCache) Get(location string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f := c.lookupLocked(location); f != nil {
		return f.path
	}
	return ""
}

// Acquire is Get plus a pin. The file stays on disk until release is
// called. release is nil when location is not cached.
func (c *FileCache) Acquire(location string) (path string, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.lookupLocked(location)
	if f == nil {
		return "", nil
	}
	f.pins++
	return f.path, c.releaser(f)
}

// Put indexes localPath as the file of location without pinning it.
func (c *FileCache) Put(location, localPath string) {
	if release := c.PutPinned(location, localPath); release != nil {
		release()
	}
}

// PutPinned indexes localPath as the file of location and pins it. It
// returns nil when localPath cannot be stat'ed.
func (c *FileCache) PutPinned(location, localPath string) func() {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[location]
	if ok {
		c.used += info.Size() - f.size
		f.path, f.size = localPath, info.Size()
		c.lru.MoveToFront(f.elem)
	} else {
		f = &cachedFile{location: location, path: localPath, size: info.Size()}
		f.elem = c.lru.PushFront(f)
		c.files[location] = f
		c.used += f.size
	}
	f.pins++
	c.shrinkLocked()
	return c.releaser(f)
}

func (c *FileCache) releaser(f *cachedFile) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			f.pins--
			c.shrinkLocked()
		})
	}
}

func (c *FileCache) lookupLocked(location string) *cachedFile {
	f, ok := c.files[location]
	if !ok {
		return nil
	}
	if info, err := os.Stat(f.path); err != nil || info.Size() != f.size {
		c.dropLocked(f, f.pins == 0)
		return nil
	}
	c.lru.MoveToFront(f.elem)
	return f
}

// shrinkLocked deletes unpinned files, oldest first, until the cache fits
// its budget.
func (c *FileCache) shrinkLocked() {
	for e := c.lru.Back(); e != nil && c.used > c.budget; {
		f := e.Value.(*cachedFile)
		e = e.Prev()
		if f.pins == 0 {
			c.dropLocked(f, true)
		}
	}
}

func (c *FileCache) dropLocked(f *cachedFile, removeFile bool) {
	c.lru.Remove(f.elem)
	f.elem = nil
	delete(c.files, f.location)
	c.used -= f.size
	if removeFile {
		os.Remove(f.path)
	}
}

// Size returns the total size of indexed files in bytes.
func (c *FileCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files)
}

// Pinned returns the number of indexed files currently pinned.
func (c *FileCache) Pinned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.files {
		if f.pins > 0 {
			n++
		}
	}
	return n
}

// Clear deletes every unpinned file. Pinned ones stay indexed.
func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.files {
		if f.pins == 0 {
			c.dropLocked(f, true)
		}
	}
}
