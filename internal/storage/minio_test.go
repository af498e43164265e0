package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinioStorage_Integration requires a running MinIO instance.
// Set BLOBBENCH_MINIO_ENDPOINT (and optionally credentials) to enable it.
func TestMinioStorage_Integration(t *testing.T) {
	endpoint := os.Getenv("BLOBBENCH_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("BLOBBENCH_MINIO_ENDPOINT not set")
	}
	accessKey := os.Getenv("BLOBBENCH_MINIO_ACCESS_KEY")
	if accessKey == "" {
		accessKey = "minioadmin"
	}
	secretKey := os.Getenv("BLOBBENCH_MINIO_SECRET_KEY")
	if secretKey == "" {
		secretKey = "minioadmin"
	}

	ctx := context.Background()
	store, err := NewMinioStorage(ctx, "blobbench-test", MinioConfig{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Prefix:    "it/",
	})
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	require.NoError(t, store.Put(ctx, "files/a/0", []byte("hello minio world")))

	got, err := store.Get(ctx, "files/a/0")
	require.NoError(t, err)
	assert.Equal(t, "hello minio world", string(got))

	buf := make([]byte, 5)
	n, err := store.ReadAt(ctx, "files/a/0", buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(buf[:n]))

	n, err = store.ReadAt(ctx, "files/a/0", buf, 15)
	assert.True(t, errors.Is(err, io.EOF))
	assert.Equal(t, 2, n)

	names, err := store.List(ctx, "files/")
	require.NoError(t, err)
	assert.Contains(t, names, "files/a/0")

	require.NoError(t, store.Delete(ctx, "files/a/0"))
	ok, err := store.Exists(ctx, "files/a/0")
	require.NoError(t, err)
	assert.False(t, ok)
}
