package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/snappy"

	cerrors "github.com/arkilian/compactor/internal/errors"
)

// SnappySuffix marks objects stored as a framed snappy stream. FileIO
// decodes them on the way into the local cache.
const SnappySuffix = ".snappy"

// FileIO resolves file locations named by scan tasks to local files.
// Each location is materialized at most once; concurrent opens of the same
// location wait for the first one. FileIO is safe for concurrent use.
type FileIO struct {
	store    ObjectStorage
	cacheDir string
	lru      *FileCache // nil when the cache is unbounded

	mu      sync.Mutex
	entries map[string]*fileEntry
}

type fileEntry struct {
	once      sync.Once
	localPath string
	err       error
}

// FileIOConfig holds configuration for the file I/O layer.
type FileIOConfig struct {
	// CacheDir is where objects are materialized
	CacheDir string

	// MaxCacheBytes bounds the cache directory; 0 means unbounded
	MaxCacheBytes int64
}

// NewFileIO creates a FileIO that caches objects from store.
func NewFileIO(store ObjectStorage, cfg FileIOConfig) (*FileIO, error) {
	if store == nil {
		return nil, cerrors.NewConfigError(cerrors.CodeInvalidJob, "file io requires an object store")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, cerrors.NewStorageError(cerrors.CodeDownloadFailed, "failed to create cache directory", err)
	}
	f := &FileIO{
		store:    store,
		cacheDir: cfg.CacheDir,
		entries:  make(map[string]*fileEntry),
	}
	if cfg.MaxCacheBytes > 0 {
		f.lru = NewFileCache(cfg.MaxCacheBytes)
	}
	return f, nil
}

// Open returns the local path of the file at location, downloading it on
// first use. The file stays on disk until release is called, even when a
// bounded cache is over budget. release is never nil.
func (f *FileIO) Open(ctx context.Context, location string) (localPath string, release func(), err error) {
	localPath, _, release, err = f.acquire(ctx, location)
	return localPath, release, err
}

// Fetch implements Fetcher. cached reports whether the location had already
// been materialized by an earlier call. The file is not pinned.
func (f *FileIO) Fetch(ctx context.Context, location string) (string, bool, error) {
	localPath, cached, release, err := f.acquire(ctx, location)
	if err != nil {
		return "", false, err
	}
	release()
	return localPath, cached, nil
}

func (f *FileIO) acquire(ctx context.Context, location string) (string, bool, func(), error) {
	for {
		f.mu.Lock()
		entry, ok := f.entries[location]
		if !ok {
			entry = &fileEntry{}
			f.entries[location] = entry
		}
		f.mu.Unlock()

		ran := false
		var release func()
		entry.once.Do(func() {
			ran = true
			entry.localPath, entry.err = f.materialize(ctx, location)
			if entry.err == nil && f.lru != nil {
				release = f.lru.PutPinned(location, entry.localPath)
			}
		})

		if entry.err != nil {
			// Drop the failed entry so a later call can try again.
			f.forget(location, entry)
			if !ran && isContextError(entry.err) && ctx.Err() == nil {
				// The caller that downloaded gave up; our ctx is still live.
				continue
			}
			return "", false, nil, entry.err
		}

		if f.lru != nil && !ran {
			var p string
			if p, release = f.lru.Acquire(location); p == "" {
				// Evicted since it was materialized.
				f.forget(location, entry)
				continue
			}
		}
		if release == nil {
			release = func() {}
		}
		return entry.localPath, !ran, release, nil
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (f *FileIO) forget(location string, entry *fileEntry) {
	f.mu.Lock()
	if f.entries[location] == entry {
		delete(f.entries, location)
	}
	f.mu.Unlock()
}

// Prefetch warms the cache for locations using up to concurrency parallel
// downloads. It returns the first failure in location order.
func (f *FileIO) Prefetch(ctx context.Context, locations []string, concurrency int) error {
	req := &BatchRequest{ObjectPaths: dedupe(locations)}
	result, err := NewBatchDownloader(f, concurrency).Download(ctx, req)
	if err != nil {
		return cerrors.NewStorageError(cerrors.CodeDownloadFailed, "prefetch failed", err)
	}
	return result.FirstError(req)
}

// Verify checks that every location exists in the object store without
// downloading it and returns the total size. Locations already materialized
// are not checked again.
func (f *FileIO) Verify(ctx context.Context, locations []string) (int64, error) {
	var total int64
	for _, l := range dedupe(locations) {
		f.mu.Lock()
		_, cached := f.entries[l]
		f.mu.Unlock()
		if cached {
			continue
		}
		info, err := f.store.Stat(ctx, l)
		if err != nil {
			return 0, err
		}
		total += info.Size
	}
	return total, nil
}

// CacheDir returns the local cache directory.
func (f *FileIO) CacheDir() string {
	return f.cacheDir
}

// Purge forgets every materialized location and, for a bounded cache,
// deletes the cached files.
func (f *FileIO) Purge() {
	f.mu.Lock()
	f.entries = make(map[string]*fileEntry)
	f.mu.Unlock()
	if f.lru != nil {
		f.lru.Clear()
	}
}

func (f *FileIO) materialize(ctx context.Context, location string) (string, error) {
	localPath := f.cachePath(location)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	if !strings.HasSuffix(location, SnappySuffix) {
		if err := f.download(ctx, location, localPath); err != nil {
			return "", err
		}
		return localPath, nil
	}

	compressed := localPath + SnappySuffix
	if err := f.download(ctx, location, compressed); err != nil {
		return "", err
	}
	defer os.Remove(compressed)

	if err := decodeSnappy(compressed, localPath); err != nil {
		os.Remove(localPath)
		return "", cerrors.NewStorageError(cerrors.CodeDownloadFailed,
			fmt.Sprintf("failed to decode %s", location), err)
	}
	return localPath, nil
}

func (f *FileIO) download(ctx context.Context, location, localPath string) error {
	// Download into a temp name so a crashed fetch never leaves a partial
	// file that a later stat would accept.
	tmp := localPath + ".tmp"
	if err := f.store.Download(ctx, location, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return cerrors.NewStorageError(cerrors.CodeDownloadFailed, location, err)
	}
	return nil
}

// cachePath maps a location to a stable file name inside the cache dir.
func (f *FileIO) cachePath(location string) string {
	sum := sha256.Sum256([]byte(location))
	base := strings.TrimSuffix(path.Base(location), SnappySuffix)
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8])+"_"+base)
}

func decodeSnappy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, snappy.NewReader(in)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func dedupe(locations []string) []string {
	seen := make(map[string]struct{}, len(locations))
	out := make([]string, 0, len(locations))
	for _, l := range locations {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
