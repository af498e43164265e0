// Package engine starts the filesystem reactor, loads the filesystem from a
// named device and tears both down again.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blobfs/blobbench/internal/blobfs"
	"github.com/blobfs/blobbench/internal/config"
	"github.com/blobfs/blobbench/internal/device"
	berrors "github.com/blobfs/blobbench/internal/errors"
	"github.com/blobfs/blobbench/internal/logging"
)

// Engine owns the reactor goroutine and the filesystem loaded on it.
type Engine struct {
	reactor *blobfs.Reactor
	device  string
	log     *logging.Logger

	// fs is written on the reactor before the load result is signalled and
	// never changes afterwards.
	fs *blobfs.Filesystem

	mu      sync.Mutex
	stopped bool

	// unloadErr is written by the unload callback before the reactor stops.
	unloadErr error
}

type loadResult struct {
	fs        *blobfs.Filesystem
	formatted bool
	err       error
}

// Start launches the reactor and loads the filesystem from deviceName,
// resolved against the devices in cfg.
func Start(ctx context.Context, cfg *config.Config, deviceName string, logger *logging.Logger) (*Engine, error) {
	return StartWithRegistry(ctx, cfg, device.NewRegistry(cfg.Devices), deviceName, logger)
}

// StartWithRegistry is Start with an explicit device registry. Memory
// devices keep their contents across engines started from the same registry.
func StartWithRegistry(ctx context.Context, cfg *config.Config, reg *device.Registry, deviceName string, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.Noop()
	}

	e := &Engine{
		reactor: blobfs.NewReactor("blobfs"),
		device:  deviceName,
		log:     logger,
	}

	opts := blobfs.DefaultOptions()
	opts.CacheSizeMB = cfg.Engine.CacheSizeMB
	opts.Logger = logger

	// Written exactly once, by the load callback or a failure before it.
	ready := make(chan loadResult, 1)

	e.reactor.Start()
	err := e.reactor.Send(func() {
		dev, err := reg.Open(ctx, deviceName)
		if err != nil {
			ready <- loadResult{err: err}
			return
		}
		opts.ClusterSize = dev.ClusterSize

		blobfs.Load(dev.Store, opts, func(fs *blobfs.Filesystem, err error) {
			if errors.Is(err, blobfs.ErrNoSuperblock) && cfg.Engine.FormatIfBlank {
				blobfs.Init(dev.Store, opts, func(fs *blobfs.Filesystem, err error) {
					e.fs = fs
					ready <- loadResult{fs: fs, formatted: true, err: err}
				})
				return
			}
			e.fs = fs
			ready <- loadResult{fs: fs, err: err}
		})
	})
	if err != nil {
		return nil, berrors.NewStartupError(berrors.CodeEngineStart, "failed to dispatch filesystem load", err)
	}

	var timeout <-chan time.Time
	if d := cfg.Engine.StartTimeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	var res loadResult
	select {
	case res = <-ready:
	case <-timeout:
		e.abandon()
		return nil, berrors.NewStartupError(berrors.CodeStartTimeout,
			fmt.Sprintf("filesystem load on %s did not finish within %v", deviceName, cfg.Engine.StartTimeout), nil)
	case <-ctx.Done():
		e.abandon()
		return nil, berrors.NewStartupError(berrors.CodeEngineStart, "startup cancelled", ctx.Err())
	}

	if res.err != nil || res.fs == nil {
		e.stopReactor()
		code := berrors.CodeLoadFailed
		if errors.Is(res.err, device.ErrDeviceNotFound) {
			code = berrors.CodeDeviceNotFound
		}
		return nil, berrors.NewStartupError(code, fmt.Sprintf("failed to load filesystem from %s", deviceName), res.err)
	}

	logger.Info("engine started",
		"device", deviceName,
		"fs_id", res.fs.ID(),
		"formatted", res.formatted,
		"cache_mb", opts.CacheSizeMB,
	)
	return e, nil
}

// FS returns the loaded filesystem. The handle is only usable on the reactor.
func (e *Engine) FS() (*blobfs.Filesystem, error) {
	if e == nil || e.fs == nil {
		return nil, berrors.ErrNilFilesystem
	}
	return e.fs, nil
}

// Reactor returns the engine's reactor.
func (e *Engine) Reactor() *blobfs.Reactor {
	return e.reactor
}

// Device returns the name of the device the filesystem was loaded from.
func (e *Engine) Device() string {
	return e.device
}

// Logger returns the engine logger.
func (e *Engine) Logger() *logging.Logger {
	return e.log
}

// Shutdown unloads the filesystem and stops the reactor. Every context must
// have been released first; otherwise Shutdown fails with
// ErrContextsOutstanding and leaves the engine running. Calling it again
// after success, or after an interrupted call whose unload went on to
// finish, returns the unload result.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil
	}
	select {
	case <-e.reactor.Done():
		return e.finishShutdown()
	default:
	}

	done := make(chan int, 1)
	err := e.reactor.Send(func() {
		if n := e.fs.Channels(); n > 0 {
			done <- n
			return
		}
		e.fs.Unload(func(err error) {
			e.unloadErr = err
			e.reactor.Stop()
		})
	})
	if err != nil {
		// Stopped between the check above and Send.
		e.reactor.Wait()
		return e.finishShutdown()
	}

	select {
	case n := <-done:
		return berrors.ErrContextsOutstanding.WithDetails(map[string]interface{}{
			"contexts": n,
		})
	case <-e.reactor.Done():
		return e.finishShutdown()
	case <-ctx.Done():
		return berrors.NewInternalError("shutdown interrupted", ctx.Err())
	}
}

// finishShutdown records that the reactor has exited and reports the unload
// result. The caller holds e.mu.
func (e *Engine) finishShutdown() error {
	e.stopped = true
	if e.unloadErr != nil {
		e.log.Error("filesystem unload failed", "device", e.device, "error", e.unloadErr)
		return berrors.NewIOError(berrors.CodeSyncFailed, "failed to flush filesystem on unload", e.unloadErr)
	}
	e.log.Info("engine stopped", "device", e.device)
	return nil
}

// stopReactor stops and joins the reactor after a failed load.
func (e *Engine) stopReactor() {
	if err := e.reactor.Send(e.reactor.Stop); err == nil {
		e.reactor.Wait()
	}
	e.stopped = true
}

// abandon stops the reactor once the pending load finishes, without waiting.
func (e *Engine) abandon() {
	_ = e.reactor.Send(e.reactor.Stop)
	e.stopped = true
}
