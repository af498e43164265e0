package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchWriter applies many puts or deletes to a BlobStore in parallel.
// The filesystem engine uses it to flush dirty clusters on sync and to drop
// every cluster of a deleted file.
type BatchWriter struct {
	store       BlobStore
	concurrency int
}

// BatchResult contains the outcome of a batch operation.
type BatchResult struct {
	Errors    map[string]error
	Completed int
}

// Err returns the error of the lexically first failed blob, or nil.
func (r *BatchResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("%s: %w", names[0], r.Errors[names[0]])
}

// NewBatchWriter creates a new batch writer.
// concurrency is the maximum number of requests in flight (minimum 1).
func NewBatchWriter(store BlobStore, concurrency int) *BatchWriter {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchWriter{
		store:       store,
		concurrency: concurrency,
	}
}

// Put uploads every blob in blobs. Failures are collected per blob; the
// remaining uploads still run.
func (b *BatchWriter) Put(ctx context.Context, blobs map[string][]byte) *BatchResult {
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)

	return b.run(ctx, names, func(name string) error {
		return b.store.Put(ctx, name, blobs[name])
	})
}

// Delete removes every named blob.
func (b *BatchWriter) Delete(ctx context.Context, names []string) *BatchResult {
	return b.run(ctx, names, func(name string) error {
		return b.store.Delete(ctx, name)
	})
}

func (b *BatchWriter) run(ctx context.Context, names []string, op func(name string) error) *BatchResult {
	result := &BatchResult{
		Errors: make(map[string]error),
	}
	if len(names) == 0 {
		return result
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, name := range names {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[name] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string) {
			defer sem.Release(1)
			defer wg.Done()

			err := op(name)

			mu.Lock()
			if err != nil {
				result.Errors[name] = err
			} else {
				result.Completed++
			}
			mu.Unlock()
		}(name)
	}

	wg.Wait()
	return result
}
