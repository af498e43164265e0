package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobfs/blobbench/internal/bench"
	"github.com/blobfs/blobbench/internal/config"
	berrors "github.com/blobfs/blobbench/internal/errors"
	"github.com/blobfs/blobbench/internal/logging"
	"github.com/blobfs/blobbench/internal/storage"
)

func TestShutdownManager_LIFOAndOnce(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())

	var order []string
	var reasons []string
	sm.OnShutdownStart(func(reason string) { reasons = append(reasons, reason) })
	for _, name := range []string{"first", "second", "third"} {
		sm.RegisterCloser(name, CloserFunc(func(context.Context) error {
			order = append(order, name)
			return nil
		}))
	}

	assert.False(t, sm.IsShuttingDown())
	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	require.NoError(t, sm.Shutdown(context.Background(), "again"))

	assert.True(t, sm.IsShuttingDown())
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Equal(t, []string{"test"}, reasons)
}

func TestShutdownManager_FirstErrorWins(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{})
	boom := errors.New("boom")

	closed := 0
	sm.RegisterCloser("ok", CloserFunc(func(context.Context) error { closed++; return nil }))
	sm.RegisterCloser("bad", CloserFunc(func(context.Context) error { closed++; return boom }))

	err := sm.Shutdown(context.Background(), "test")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 2, closed)
	assert.ErrorIs(t, sm.Shutdown(context.Background(), "again"), boom)
}

func TestApp_RunRecordsHistory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Report.HistoryPath = filepath.Join(t.TempDir(), "history", "runs.db")

	a, err := New(cfg, "Malloc0", logging.Noop())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()), "second start is rejected")

	res, err := a.Run(context.Background(), bench.ScenarioB())
	require.NoError(t, err)
	assert.True(t, res.OK())

	runs, err := a.History().Recent(context.Background(), "b", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].OK)
	assert.Equal(t, "Malloc0", runs[0].Device)
	assert.Len(t, runs[0].Phases, 3)

	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
}

func TestApp_UnknownDevice(t *testing.T) {
	a, err := New(config.DefaultConfig(), "Nvme0n1", logging.Noop())
	require.NoError(t, err)

	err = a.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, berrors.CodeDeviceNotFound, berrors.GetCode(err))
	assert.True(t, berrors.IsFatal(err))
	require.NoError(t, a.Stop(context.Background()))
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Level = "loud"
	_, err := New(cfg, "Malloc0", nil)
	assert.Error(t, err)
}

func TestApp_RunBeforeStart(t *testing.T) {
	a, err := New(config.DefaultConfig(), "Malloc0", logging.Noop())
	require.NoError(t, err)
	_, err = a.Run(context.Background(), bench.ScenarioB())
	assert.Error(t, err)
}

func TestApp_RunAfterStop(t *testing.T) {
	a, err := New(config.DefaultConfig(), "Malloc0", logging.Noop())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background()))

	_, err = a.Run(context.Background(), bench.ScenarioB())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutting down")
}

func TestApp_AttachedDevice(t *testing.T) {
	a, err := New(config.DefaultConfig(), "scratch0", logging.Noop())
	require.NoError(t, err)

	_, ok := a.Registry().Lookup("scratch0")
	require.False(t, ok)
	a.Registry().Attach("scratch0", storage.NewMemoryStore(), 4096)
	d, ok := a.Registry().Lookup("scratch0")
	require.True(t, ok)
	assert.Equal(t, int64(4096), d.ClusterSize)
	assert.Contains(t, a.Registry().Names(), "scratch0")

	require.NoError(t, a.Start(context.Background()))
	res, err := a.Run(context.Background(), bench.ScenarioB())
	require.NoError(t, err)
	assert.True(t, res.OK())
	require.NoError(t, a.Stop(context.Background()))
}
