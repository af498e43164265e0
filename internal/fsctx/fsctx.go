// Package fsctx lets ordinary blocking goroutines use the filesystem. Each
// worker acquires a Context; every call on it is sent to the reactor as one
// message and the caller blocks until the completion callback has run.
// Calls are awaited unconditionally: there is no timeout or cancellation.
package fsctx

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blobfs/blobbench/internal/blobfs"
	"github.com/blobfs/blobbench/internal/engine"
	berrors "github.com/blobfs/blobbench/internal/errors"
	"github.com/blobfs/blobbench/internal/logging"
)

// Manager hands out execution contexts, at most one live context per worker.
type Manager struct {
	engine *engine.Engine
	log    *logging.Logger

	mu     sync.Mutex
	live   map[string]*Context
	nextID uint64
}

// NewManager creates a context manager for a running engine.
func NewManager(e *engine.Engine, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Manager{
		engine: e,
		log:    logger,
		live:   make(map[string]*Context),
	}
}

// Acquire registers worker with the engine and returns its context. A worker
// that already holds a live context is rejected with ErrContextActive.
func (m *Manager) Acquire(worker string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[worker]; ok {
		return nil, berrors.ErrContextActive.WithDetails(map[string]interface{}{"worker": worker})
	}

	fs, err := m.engine.FS()
	if err != nil {
		return nil, err
	}

	m.nextID++
	c := &Context{
		id:      m.nextID,
		worker:  worker,
		manager: m,
		fs:      fs,
		reactor: m.engine.Reactor(),
	}

	err = c.dispatch(func(done func()) {
		c.ch = fs.AllocChannel(worker)
		done()
	})
	if err != nil {
		return nil, err
	}
	if c.ch == nil {
		return nil, berrors.ErrEngineStopped
	}

	m.live[worker] = c
	m.log.Debug("context acquired", "worker", worker, "context_id", c.id, "channel", c.ch.ID())
	return c, nil
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *logging.Logger {
	return m.log
}

// Live returns the number of contexts not yet released.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) forget(c *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[c.worker] == c {
		delete(m.live, c.worker)
	}
}

// Context is one worker's registration with the engine. It must be used
// by a single goroutine and released before that goroutine exits.
type Context struct {
	id      uint64
	worker  string
	manager *Manager
	fs      *blobfs.Filesystem
	reactor *blobfs.Reactor
	ch      *blobfs.Channel

	mu       sync.Mutex
	released bool
}

// ID returns the context number, unique within the manager.
func (c *Context) ID() uint64 { return c.id }

// Worker returns the worker identity the context was acquired for.
func (c *Context) Worker() string { return c.worker }

// Release unregisters the context. A second call returns
// ErrContextReleased and leaves the engine untouched.
func (c *Context) Release() error {
	if c == nil {
		return berrors.ErrNilContext
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return berrors.ErrContextReleased
	}

	err := c.dispatch(func(done func()) {
		c.fs.FreeChannel(c.ch)
		done()
	})
	c.released = true
	c.manager.forget(c)
	if err != nil {
		return err
	}

	c.manager.log.Debug("context released", "worker", c.worker, "context_id", c.id)
	return nil
}

func (c *Context) usable() error {
	if c == nil {
		return berrors.ErrNilContext
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return berrors.ErrNilContext
	}
	return nil
}

// dispatch runs op on the reactor and blocks until op calls done.
func (c *Context) dispatch(op func(done func())) error {
	finished := make(chan struct{})
	if err := c.reactor.Send(func() { op(func() { close(finished) }) }); err != nil {
		return berrors.ErrEngineStopped
	}

	select {
	case <-finished:
		return nil
	case <-c.reactor.Done():
		// The reactor may have run op just before it exited.
		select {
		case <-finished:
			return nil
		default:
			return berrors.ErrEngineStopped
		}
	}
}

// Open opens name, creating it when create is set.
func (c *Context) Open(name string, create bool) (*File, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	var flags blobfs.OpenFlags
	if create {
		flags |= blobfs.OpenCreate
	}

	var f *blobfs.File
	var opErr error
	err := c.dispatch(func(done func()) {
		c.fs.OpenFile(c.ch, name, flags, func(file *blobfs.File, err error) {
			f, opErr = file, err
			done()
		})
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, ioError(berrors.CodeOpenFailed, "open", name, opErr)
	}
	return &File{file: f, ctx: c}, nil
}

// Delete removes name.
func (c *Context) Delete(name string) error {
	if err := c.usable(); err != nil {
		return err
	}

	var opErr error
	err := c.dispatch(func(done func()) {
		c.fs.DeleteFile(c.ch, name, func(err error) {
			opErr = err
			done()
		})
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return ioError(berrors.CodeDeleteFailed, "delete", name, opErr)
	}
	return nil
}

// Stat reports whether name exists and its length.
func (c *Context) Stat(name string) (bool, uint64, error) {
	if err := c.usable(); err != nil {
		return false, 0, err
	}

	var st blobfs.FileStat
	var opErr error
	err := c.dispatch(func(done func()) {
		c.fs.StatFile(c.ch, name, func(s blobfs.FileStat, err error) {
			st, opErr = s, err
			done()
		})
	})
	if err != nil {
		return false, 0, err
	}
	if errors.Is(opErr, blobfs.ErrNotFound) {
		return false, 0, nil
	}
	if opErr != nil {
		return false, 0, ioError(berrors.CodeStatFailed, "stat", name, opErr)
	}
	return true, st.Length, nil
}

// IsNotFound reports whether err is an I/O error caused by a missing file.
func IsNotFound(err error) bool {
	return errors.Is(err, blobfs.ErrNotFound)
}

func ioError(code, op, name string, cause error) error {
	return berrors.NewIOError(code, fmt.Sprintf("%s %s", op, name), cause).
		WithDetails(map[string]interface{}{"file": name})
}
