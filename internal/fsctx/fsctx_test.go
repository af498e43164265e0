package fsctx

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobfs/blobbench/internal/config"
	"github.com/blobfs/blobbench/internal/engine"
	berrors "github.com/blobfs/blobbench/internal/errors"
)

func newManager(t *testing.T) (*engine.Engine, *Manager) {
	t.Helper()
	e, err := engine.Start(context.Background(), config.DefaultConfig(), "Malloc0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e, NewManager(e, nil)
}

func TestAcquire_SecondAcquireRejected(t *testing.T) {
	_, m := newManager(t)

	c, err := m.Acquire("writer-0")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.ID())
	assert.Equal(t, "writer-0", c.Worker())

	again, err := m.Acquire("writer-0")
	assert.Nil(t, again)
	assert.ErrorIs(t, err, berrors.ErrContextActive)
	assert.Equal(t, 1, m.Live())

	other, err := m.Acquire("writer-1")
	require.NoError(t, err)
	assert.Greater(t, other.ID(), c.ID())
	assert.Equal(t, 2, m.Live())

	require.NoError(t, c.Release())
	require.NoError(t, other.Release())
	assert.Equal(t, 0, m.Live())

	// Once released, the identity can acquire again.
	c2, err := m.Acquire("writer-0")
	require.NoError(t, err)
	require.NoError(t, c2.Release())
}

func TestRelease_Twice(t *testing.T) {
	e, m := newManager(t)

	c, err := m.Acquire("worker")
	require.NoError(t, err)
	require.NoError(t, c.Release())

	err = c.Release()
	assert.ErrorIs(t, err, berrors.ErrContextReleased)
	assert.Equal(t, 0, m.Live())

	// Engine state is intact: a new context works and shutdown succeeds.
	c2, err := m.Acquire("worker")
	require.NoError(t, err)
	f, err := c2.Open("after", true)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, c2.Release())
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestContext_UseAfterRelease(t *testing.T) {
	_, m := newManager(t)

	c, err := m.Acquire("worker")
	require.NoError(t, err)
	f, err := c.Open("file", true)
	require.NoError(t, err)
	require.NoError(t, c.Release())

	_, err = c.Open("file", false)
	assert.ErrorIs(t, err, berrors.ErrNilContext)
	assert.ErrorIs(t, f.WriteAt([]byte("x"), 0), berrors.ErrNilContext)

	var nilCtx *Context
	assert.ErrorIs(t, nilCtx.Release(), berrors.ErrNilContext)
}

func TestDeleteThenCreate(t *testing.T) {
	_, m := newManager(t)
	c, err := m.Acquire("setup")
	require.NoError(t, err)
	defer c.Release()

	err = c.Delete("never-existed")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, berrors.ErrCategoryIO, berrors.GetCategory(err))
	assert.False(t, berrors.IsFatal(err))

	f, err := c.Open("never-existed", true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.Length())

	exists, length, err := c.Stat("never-existed")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(0), length)

	exists, _, err = c.Stat("other")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOpen_MissingWithoutCreate(t *testing.T) {
	_, m := newManager(t)
	c, err := m.Acquire("reader")
	require.NoError(t, err)
	defer c.Release()

	_, err = c.Open("missing", false)
	assert.Equal(t, berrors.CodeOpenFailed, berrors.GetCode(err))
	assert.True(t, IsNotFound(err))
}

func TestFile_SharedHandleAcrossWorkers(t *testing.T) {
	_, m := newManager(t)

	setup, err := m.Acquire("setup")
	require.NoError(t, err)
	shared, err := setup.Open("shared", true)
	require.NoError(t, err)

	const workers = 8
	const block = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Acquire(fmt.Sprintf("worker-%d", i))
			if !assert.NoError(t, err) {
				return
			}
			defer c.Release()

			buf := make([]byte, block)
			for j := range buf {
				buf[j] = byte(i)
			}
			h := shared.Bind(c)
			assert.NoError(t, h.WriteAt(buf, uint64(i*block)))
			assert.NoError(t, h.Sync())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*block), shared.Length())

	buf := make([]byte, workers*block)
	n, err := shared.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, workers*block, n)
	for i := 0; i < workers; i++ {
		for j := 0; j < block; j++ {
			if buf[i*block+j] != byte(i) {
				t.Fatalf("byte %d = %d, want %d", i*block+j, buf[i*block+j], i)
			}
		}
	}

	require.NoError(t, shared.Close())
	require.NoError(t, setup.Release())
}

func TestAcquire_AfterShutdown(t *testing.T) {
	e, m := newManager(t)
	require.NoError(t, e.Shutdown(context.Background()))

	_, err := m.Acquire("late")
	assert.ErrorIs(t, err, berrors.ErrEngineStopped)
	assert.True(t, berrors.IsFatal(err))
	assert.Equal(t, 0, m.Live())
}

func TestShutdown_WaitsForRelease(t *testing.T) {
	e, m := newManager(t)

	c, err := m.Acquire("straggler")
	require.NoError(t, err)

	assert.ErrorIs(t, e.Shutdown(context.Background()), berrors.ErrContextsOutstanding)

	require.NoError(t, c.Release())
	require.NoError(t, e.Shutdown(context.Background()))
}
