package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Fetcher materializes an object locally and reports whether it was
// already cached.
type Fetcher interface {
	Fetch(ctx context.Context, objectPath string) (localPath string, cached bool, err error)
}

// BatchDownloader coordinates parallel fetches through a Fetcher.
// It supports priority-based ordering; caching is the Fetcher's concern.
type BatchDownloader struct {
	fetcher     Fetcher
	concurrency int
}

// BatchRequest specifies which objects to download with optional priorities.
type BatchRequest struct {
	ObjectPaths []string
	Priority    []int // 0=critical, 1=prefetch
}

// BatchResult contains the outcome of a batch download operation.
type BatchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int
}

// FirstError returns the error of the first failed object in request order.
func (r *BatchResult) FirstError(req *BatchRequest) error {
	for _, p := range req.ObjectPaths {
		if err, ok := r.Errors[p]; ok {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// NewBatchDownloader creates a downloader running at most concurrency
// fetches at once.
func NewBatchDownloader(fetcher Fetcher, concurrency int) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchDownloader{fetcher: fetcher, concurrency: concurrency}
}

// Download fetches every object of req. Fetches start in ascending priority,
// request order within a priority. Per-object failures land in
// BatchResult.Errors; the returned error is reserved for a malformed request.
func (b *BatchDownloader) Download(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	n := len(req.ObjectPaths)
	if len(req.Priority) != 0 && len(req.Priority) != n {
		return nil, fmt.Errorf("priority array length must match object paths count")
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if len(req.Priority) != 0 {
		sort.SliceStable(order, func(i, j int) bool {
			return req.Priority[order[i]] < req.Priority[order[j]]
		})
	}

	result := &BatchResult{
		LocalPaths: make(map[string]string, n),
		Errors:     make(map[string]error),
	}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(b.concurrency))
	)
	record := func(path, local string, cached bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			result.Errors[path] = err
		case cached:
			result.LocalPaths[path] = local
			result.CacheHits++
		default:
			result.LocalPaths[path] = local
			result.Downloads++
		}
	}

	for _, i := range order {
		path := req.ObjectPaths[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			record(path, "", false, fmt.Errorf("semaphore acquire failed: %w", err))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			local, cached, err := b.fetcher.Fetch(ctx, path)
			record(path, local, cached, err)
		}()
	}
	wg.Wait()
	return result, nil
}
