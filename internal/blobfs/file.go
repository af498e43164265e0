package blobfs

import "fmt"

// File is an open handle. Several handles may refer to the same file.
type File struct {
	fs     *Filesystem
	ino    *inode
	closed bool
}

// Name returns the file name.
func (f *File) Name() string { return f.ino.name }

// Length returns the current file length, including data not yet synced.
// Safe to call from any goroutine.
func (f *File) Length() uint64 { return f.ino.length.Load() }

func (f *File) check(ch *Channel) error {
	if err := f.fs.checkChannel(ch); err != nil {
		return err
	}
	if f.closed {
		return ErrFileClosed
	}
	if f.ino.deleted {
		return fmt.Errorf("%w: %s", ErrFileDeleted, f.ino.name)
	}
	return nil
}

// Write writes buf at off, extending the file if needed. Data becomes
// durable on Sync.
func (f *File) Write(ch *Channel, buf []byte, off uint64, cb func(error)) {
	if err := f.check(ch); err != nil {
		cb(err)
		return
	}
	cb(f.write(buf, off))
}

func (f *File) write(buf []byte, off uint64) error {
	cs := uint64(f.fs.clusterSize)
	end := off + uint64(len(buf))

	for pos := off; pos < end; {
		idx := int64(pos / cs)
		start := pos % cs
		n := min(cs-start, end-pos)

		p, err := f.fs.page(f.ino, idx)
		if err != nil {
			return err
		}

		data := p.Data
		if need := start + n; uint64(len(data)) < need {
			data = data[:need]
		}
		copy(data[start:start+n], buf[pos-off:pos-off+n])
		f.fs.cache.Put(p.Key, data, true)
		f.ino.dirty[idx] = struct{}{}

		pos += n
	}

	if end > f.ino.length.Load() {
		f.ino.length.Store(end)
	}
	return nil
}

// Read reads up to len(buf) bytes at off and calls cb with the count. A
// read at or past the end of the file returns 0.
func (f *File) Read(ch *Channel, buf []byte, off uint64, cb func(int, error)) {
	if err := f.check(ch); err != nil {
		cb(0, err)
		return
	}
	cb(f.read(buf, off))
}

func (f *File) read(buf []byte, off uint64) (int, error) {
	length := f.ino.length.Load()
	if off >= length {
		return 0, nil
	}
	end := min(off+uint64(len(buf)), length)
	cs := uint64(f.fs.clusterSize)

	for pos := off; pos < end; {
		idx := int64(pos / cs)
		start := pos % cs
		n := min(cs-start, end-pos)

		p, err := f.fs.page(f.ino, idx)
		if err != nil {
			return int(pos - off), err
		}

		dst := buf[pos-off : pos-off+n]
		copied := 0
		if start < uint64(len(p.Data)) {
			copied = copy(dst, p.Data[start:])
		}
		clear(dst[copied:])

		pos += n
	}
	return int(end - off), nil
}

// Sync uploads the file's dirty clusters and records its length.
func (f *File) Sync(ch *Channel, cb func(error)) {
	if err := f.check(ch); err != nil {
		cb(err)
		return
	}
	if err := f.fs.flush(f.ino); err != nil {
		cb(err)
		return
	}
	cb(f.fs.persist())
}

// Close syncs the file and invalidates the handle. Other handles to the
// same file stay usable.
func (f *File) Close(ch *Channel, cb func(error)) {
	if err := f.check(ch); err != nil {
		cb(err)
		return
	}
	err := f.fs.flush(f.ino)
	if err == nil {
		err = f.fs.persist()
	}
	f.closed = true
	cb(err)
}
