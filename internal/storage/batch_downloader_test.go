package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeFetcher records fetch order and concurrency.
type fakeFetcher struct {
	mu       sync.Mutex
	order    []string
	cached   map[string]bool
	failures map[string]error

	active    int32
	maxActive int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, objectPath string) (string, bool, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxActive, m, n) {
			break
		}
	}

	f.mu.Lock()
	f.order = append(f.order, objectPath)
	f.mu.Unlock()

	if err := f.failures[objectPath]; err != nil {
		return "", false, err
	}
	return "/local/" + objectPath, f.cached[objectPath], nil
}

func TestBatchDownloader_BasicDownload(t *testing.T) {
	fetcher := &fakeFetcher{cached: map[string]bool{"obj3": true}}
	downloader := NewBatchDownloader(fetcher, 3)

	var paths []string
	for i := 0; i < 10; i++ {
		paths = append(paths, fmt.Sprintf("obj%d", i))
	}

	result, err := downloader.Download(context.Background(), &BatchRequest{ObjectPaths: paths})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	if len(result.LocalPaths) != len(paths) {
		t.Errorf("expected %d local paths, got %d", len(paths), len(result.LocalPaths))
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if result.CacheHits != 1 {
		t.Errorf("expected 1 cache hit, got %d", result.CacheHits)
	}
	if result.Downloads != len(paths)-1 {
		t.Errorf("expected %d downloads, got %d", len(paths)-1, result.Downloads)
	}
	if got := result.LocalPaths["obj7"]; got != "/local/obj7" {
		t.Errorf("unexpected local path %q", got)
	}
	if fetcher.maxActive > 3 {
		t.Errorf("concurrency limit exceeded: %d", fetcher.maxActive)
	}
}

func TestBatchDownloader_PriorityOrdering(t *testing.T) {
	fetcher := &fakeFetcher{}
	downloader := NewBatchDownloader(fetcher, 1)

	req := &BatchRequest{
		ObjectPaths: []string{"low1", "high1", "low2", "high2"},
		Priority:    []int{1, 0, 1, 0},
	}
	if _, err := downloader.Download(context.Background(), req); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	want := []string{"high1", "high2", "low1", "low2"}
	for i, p := range want {
		if fetcher.order[i] != p {
			t.Fatalf("fetch order = %v, want %v", fetcher.order, want)
		}
	}
}

func TestBatchDownloader_PriorityLengthMismatch(t *testing.T) {
	downloader := NewBatchDownloader(&fakeFetcher{}, 2)
	_, err := downloader.Download(context.Background(), &BatchRequest{
		ObjectPaths: []string{"a", "b"},
		Priority:    []int{0},
	})
	if err == nil {
		t.Fatal("expected error for mismatched priority length")
	}
}

func TestBatchDownloader_PartialFailure(t *testing.T) {
	boom := errors.New("boom")
	fetcher := &fakeFetcher{failures: map[string]error{"b": boom}}
	downloader := NewBatchDownloader(fetcher, 2)

	req := &BatchRequest{ObjectPaths: []string{"a", "b", "c"}}
	result, err := downloader.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if len(result.LocalPaths) != 2 {
		t.Errorf("expected 2 successes, got %d", len(result.LocalPaths))
	}
	if !errors.Is(result.FirstError(req), boom) {
		t.Errorf("expected first error to wrap boom, got %v", result.FirstError(req))
	}
}

func TestBatchDownloader_Empty(t *testing.T) {
	result, err := NewBatchDownloader(&fakeFetcher{}, 0).Download(context.Background(), &BatchRequest{})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if len(result.LocalPaths) != 0 || result.FirstError(&BatchRequest{}) != nil {
		t.Errorf("expected empty result, got %+v", result)
	}
}
