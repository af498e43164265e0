package fsctx

import (
	"fmt"

	"github.com/blobfs/blobbench/internal/blobfs"
	berrors "github.com/blobfs/blobbench/internal/errors"
)

// File is an open file used through one context. Bind gives other
// workers their own view of the same handle.
type File struct {
	file *blobfs.File
	ctx  *Context
}

// Bind returns a view of the same open handle that issues its calls on c.
func (f *File) Bind(c *Context) *File {
	return &File{file: f.file, ctx: c}
}

// Name returns the file name.
func (f *File) Name() string { return f.file.Name() }

// Length returns the current file length without a reactor round trip.
func (f *File) Length() uint64 { return f.file.Length() }

// WriteAt writes all of buf at off.
func (f *File) WriteAt(buf []byte, off uint64) error {
	if err := f.ctx.usable(); err != nil {
		return err
	}

	var opErr error
	err := f.ctx.dispatch(func(done func()) {
		f.file.Write(f.ctx.ch, buf, off, func(err error) {
			opErr = err
			done()
		})
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return f.ioError(berrors.CodeWriteFailed, "write", off, opErr)
	}
	return nil
}

// ReadAt reads up to len(buf) bytes at off and returns the count read.
// Reading at or past the end of the file returns 0.
func (f *File) ReadAt(buf []byte, off uint64) (int, error) {
	if err := f.ctx.usable(); err != nil {
		return 0, err
	}

	var n int
	var opErr error
	err := f.ctx.dispatch(func(done func()) {
		f.file.Read(f.ctx.ch, buf, off, func(count int, err error) {
			n, opErr = count, err
			done()
		})
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		return n, f.ioError(berrors.CodeReadFailed, "read", off, opErr)
	}
	return n, nil
}

// Sync makes all written data durable.
func (f *File) Sync() error {
	if err := f.ctx.usable(); err != nil {
		return err
	}

	var opErr error
	err := f.ctx.dispatch(func(done func()) {
		f.file.Sync(f.ctx.ch, func(err error) {
			opErr = err
			done()
		})
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return f.ioError(berrors.CodeSyncFailed, "sync", f.Length(), opErr)
	}
	return nil
}

// Close syncs and closes the handle. Every view returned by Bind is closed
// with it.
func (f *File) Close() error {
	if err := f.ctx.usable(); err != nil {
		return err
	}

	var opErr error
	err := f.ctx.dispatch(func(done func()) {
		f.file.Close(f.ctx.ch, func(err error) {
			opErr = err
			done()
		})
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return berrors.NewIOError(berrors.CodeCloseFailed, fmt.Sprintf("close %s", f.Name()), opErr)
	}
	return nil
}

func (f *File) ioError(code, op string, off uint64, cause error) error {
	return berrors.NewIOError(code, fmt.Sprintf("%s %s at offset %d", op, f.Name(), off), cause).
		WithDetails(map[string]interface{}{"file": f.Name(), "offset": off})
}
