// Package app wires configuration, the filesystem engine, execution contexts
// and run history into one benchmark lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/blobfs/blobbench/internal/bench"
	"github.com/blobfs/blobbench/internal/config"
	"github.com/blobfs/blobbench/internal/device"
	"github.com/blobfs/blobbench/internal/engine"
	"github.com/blobfs/blobbench/internal/fsctx"
	"github.com/blobfs/blobbench/internal/logging"
	"github.com/blobfs/blobbench/internal/report"
)

// App owns the resources of one benchmark process.
type App struct {
	cfg        *config.Config
	deviceName string
	log        *logging.Logger
	registry   *device.Registry

	engine   *engine.Engine
	manager  *fsctx.Manager
	history  *report.History
	shutdown *ShutdownManager

	mu      sync.Mutex
	running bool
}

// New creates a new App for the named device.
func New(cfg *config.Config, deviceName string, logger *logging.Logger) (*App, error) {
	// Resolve paths and validate
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	if logger == nil {
		logger = logging.FromConfig(cfg.Log.Level, cfg.Log.Format)
	}

	return &App{
		cfg:        cfg,
		deviceName: deviceName,
		log:        logger,
		registry:   device.NewRegistry(cfg.Devices),
	}, nil
}

// Registry returns the device registry the engine is loaded from.
func (a *App) Registry() *device.Registry {
	return a.registry
}

// Start loads the filesystem and opens the run history.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	a.shutdown = NewShutdownManager(DefaultShutdownConfig())
	a.shutdown.OnShutdownStart(func(reason string) {
		a.log.Info("shutting down", "reason", reason)
	})

	e, err := engine.StartWithRegistry(ctx, a.cfg, a.registry, a.deviceName, a.log)
	if err != nil {
		a.markStopped()
		return err
	}
	a.engine = e
	a.manager = fsctx.NewManager(e, a.log)
	a.shutdown.RegisterCloser("engine", CloserFunc(e.Shutdown))

	if path := a.cfg.Report.HistoryPath; path != "" {
		h, err := report.Open(path)
		if err != nil {
			// History is best effort; the benchmark runs without it.
			a.log.Warn("run history disabled", "path", path, "error", err)
		} else {
			a.history = h
			a.shutdown.RegisterCloser("history", CloserFunc(func(context.Context) error {
				return h.Close()
			}))
		}
	}

	return nil
}

func (a *App) markStopped() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// Manager returns the execution context manager of the running engine.
func (a *App) Manager() *fsctx.Manager {
	return a.manager
}

// History returns the run history, or nil when it is disabled.
func (a *App) History() *report.History {
	return a.history
}

// Run executes sc, records it in the history and logs a summary.
func (a *App) Run(ctx context.Context, sc bench.Scenario) (bench.ScenarioResult, error) {
	if a.manager == nil {
		return bench.ScenarioResult{}, fmt.Errorf("app is not running")
	}
	if a.shutdown.IsShuttingDown() {
		return bench.ScenarioResult{}, fmt.Errorf("app is shutting down")
	}

	// A concurrent Stop cancels the run instead of unloading under it.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.shutdown.ShutdownCh():
			cancel()
		case <-runCtx.Done():
		}
	}()

	res, err := bench.RunScenario(runCtx, a.manager, sc)
	if err != nil {
		return res, err
	}

	for _, p := range res.Stats.Phases() {
		a.log.Info("phase summary",
			"phase", p.Phase,
			"workers", p.Workers,
			"ops", p.Ops,
			"failures", p.Failures,
			"elapsed", p.Elapsed,
			"ops_per_sec", p.OpsPerSec(),
			"mib_per_sec", p.MiBPerSec(),
		)
	}

	if a.history != nil {
		id, err := a.history.Record(ctx, report.FromScenario(res, a.deviceName))
		if err != nil {
			a.log.Warn("failed to record run", "error", err)
		} else {
			a.log.Info("run recorded", "run_id", id, "path", a.history.Path())
		}
	}
	return res, nil
}

// Stop closes the history and unloads the filesystem. It is safe to call
// more than once.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "run complete")
	a.markStopped()
	return err
}
