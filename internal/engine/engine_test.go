package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobfs/blobbench/internal/blobfs"
	"github.com/blobfs/blobbench/internal/config"
	"github.com/blobfs/blobbench/internal/device"
	berrors "github.com/blobfs/blobbench/internal/errors"
	"github.com/blobfs/blobbench/internal/logging"
	"github.com/blobfs/blobbench/internal/storage"
)

func onReactor(t *testing.T, e *Engine, fn func(fs *blobfs.Filesystem)) {
	t.Helper()
	fs, err := e.FS()
	require.NoError(t, err)
	done := make(chan struct{})
	require.NoError(t, e.Reactor().Send(func() {
		fn(fs)
		close(done)
	}))
	<-done
}

func TestStart_FormatsBlankDevice(t *testing.T) {
	cfg := config.DefaultConfig()
	e, err := Start(context.Background(), cfg, "Malloc0", logging.Noop())
	require.NoError(t, err)

	fs, err := e.FS()
	require.NoError(t, err)
	assert.NotNil(t, fs)
	assert.Equal(t, "Malloc0", e.Device())

	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()), "second shutdown is a no-op")

	select {
	case <-e.Reactor().Done():
	default:
		t.Fatal("reactor still running after shutdown")
	}
}

func TestStart_UnknownDevice(t *testing.T) {
	cfg := config.DefaultConfig()
	e, err := Start(context.Background(), cfg, "Nvme0n1", nil)
	assert.Nil(t, e)
	require.Error(t, err)

	assert.Equal(t, berrors.ErrCategoryStartup, berrors.GetCategory(err))
	assert.Equal(t, berrors.CodeDeviceNotFound, berrors.GetCode(err))
	assert.True(t, berrors.IsFatal(err))
	assert.True(t, errors.Is(err, device.ErrDeviceNotFound))
}

func TestStart_BlankDeviceWithoutFormat(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.FormatIfBlank = false

	_, err := Start(context.Background(), cfg, "Malloc0", nil)
	require.Error(t, err)
	assert.Equal(t, berrors.CodeLoadFailed, berrors.GetCode(err))
	assert.ErrorIs(t, err, blobfs.ErrNoSuperblock)
}

func TestStart_ReloadsExistingFilesystem(t *testing.T) {
	cfg := config.DefaultConfig()
	reg := device.NewRegistry(cfg.Devices)
	ctx := context.Background()

	e, err := StartWithRegistry(ctx, cfg, reg, "Malloc0", nil)
	require.NoError(t, err)
	fs, _ := e.FS()
	id := fs.ID()

	onReactor(t, e, func(fs *blobfs.Filesystem) {
		ch := fs.AllocChannel("setup")
		fs.OpenFile(ch, "helloworld", blobfs.OpenCreate, func(f *blobfs.File, err error) {
			if !assert.NoError(t, err) {
				return
			}
			f.Write(ch, []byte("hello world"), 0, func(err error) { assert.NoError(t, err) })
			f.Close(ch, func(err error) { assert.NoError(t, err) })
		})
		fs.FreeChannel(ch)
	})
	require.NoError(t, e.Shutdown(ctx))

	cfg.Engine.FormatIfBlank = false
	e2, err := StartWithRegistry(ctx, cfg, reg, "Malloc0", nil)
	require.NoError(t, err)
	defer e2.Shutdown(ctx)

	fs2, _ := e2.FS()
	assert.Equal(t, id, fs2.ID())
	onReactor(t, e2, func(fs *blobfs.Filesystem) {
		assert.Equal(t, []string{"helloworld"}, fs.Files())
	})
}

func TestShutdown_RefusesWithLiveChannels(t *testing.T) {
	e, err := Start(context.Background(), config.DefaultConfig(), "Malloc0", nil)
	require.NoError(t, err)

	var ch *blobfs.Channel
	onReactor(t, e, func(fs *blobfs.Filesystem) {
		ch = fs.AllocChannel("worker-0")
	})

	err = e.Shutdown(context.Background())
	assert.ErrorIs(t, err, berrors.ErrContextsOutstanding)
	assert.True(t, berrors.IsFatal(err))

	// The engine is still usable and shuts down once the channel is freed.
	onReactor(t, e, func(fs *blobfs.Filesystem) {
		fs.FreeChannel(ch)
	})
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestFS_NilEngine(t *testing.T) {
	var e *Engine
	_, err := e.FS()
	assert.ErrorIs(t, err, berrors.ErrNilFilesystem)
	assert.Equal(t, berrors.ErrCategoryResource, berrors.GetCategory(err))
}

// gatedStore blocks every Get until release is closed.
type gatedStore struct {
	*storage.MemoryStore
	release chan struct{}
}

func (s *gatedStore) Get(ctx context.Context, name string) ([]byte, error) {
	<-s.release
	return s.MemoryStore.Get(ctx, name)
}

func TestStart_TimesOut(t *testing.T) {
	store := &gatedStore{MemoryStore: storage.NewMemoryStore(), release: make(chan struct{})}
	t.Cleanup(func() { close(store.release) })

	cfg := config.DefaultConfig()
	cfg.Engine.StartTimeout = 50 * time.Millisecond
	reg := device.NewRegistry(nil)
	reg.Attach("slow0", store, config.DefaultClusterSize)

	start := time.Now()
	e, err := StartWithRegistry(context.Background(), cfg, reg, "slow0", nil)
	assert.Nil(t, e)
	require.Error(t, err)
	assert.Equal(t, berrors.CodeStartTimeout, berrors.GetCode(err))
	assert.True(t, berrors.IsFatal(err))
	assert.GreaterOrEqual(t, time.Since(start), cfg.Engine.StartTimeout)
}

func TestShutdown_RetryAfterInterruptedWait(t *testing.T) {
	e, err := Start(context.Background(), config.DefaultConfig(), "Malloc0", nil)
	require.NoError(t, err)

	// Hold the reactor so the unload stays queued behind this message.
	gate := make(chan struct{})
	require.NoError(t, e.Reactor().Send(func() { <-gate }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = e.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The queued unload still runs and stops the reactor.
	close(gate)
	e.Reactor().Wait()

	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))
}
