// Package storage provides the blob stores that back filesystem devices.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// BlobStore abstracts a flat namespace of immutable-on-write blobs.
// Implementations include an in-memory store, the local filesystem, S3 and
// MinIO. Implementations must be safe for concurrent use.
type BlobStore interface {
	// Get returns the full contents of a blob.
	// Returns ErrObjectNotFound if the blob does not exist.
	Get(ctx context.Context, name string) ([]byte, error)

	// ReadAt reads len(p) bytes of a blob starting at off.
	// A read that reaches the end of the blob returns io.EOF with the bytes read.
	ReadAt(ctx context.Context, name string, p []byte, off int64) (int, error)

	// Put replaces a blob atomically.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// Exists checks if a blob exists.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the names of all blobs under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
