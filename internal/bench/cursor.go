// Package bench implements the write, verify and random read benchmarks
// run against the filesystem through execution contexts.
package bench

import (
	"sync"
	"sync/atomic"
)

// Cursor is the shared append offset of a write phase. The offset is handed
// out under one lock together with the work that uses it, so concurrent
// writers never receive overlapping ranges. It only moves forward.
type Cursor struct {
	mu  sync.Mutex
	off atomic.Uint64
}

// Load returns the current offset without taking the lock.
func (c *Cursor) Load() uint64 {
	return c.off.Load()
}

// Advance runs fn with the current offset while holding the lock and moves
// the cursor forward by size only if fn succeeds. It returns the offset fn
// was given.
func (c *Cursor) Advance(size uint64, fn func(off uint64) error) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	off := c.off.Load()
	if err := fn(off); err != nil {
		return off, err
	}
	c.off.Store(off + size)
	return off, nil
}

// Range is one byte range assigned by the cursor.
type Range struct {
	Writer int
	Offset uint64
	Length uint64
}

// End returns the first offset past the range.
func (r Range) End() uint64 {
	return r.Offset + r.Length
}
