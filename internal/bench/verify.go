package bench

import (
	"bytes"
	"context"
	"fmt"
	"time"

	berrors "github.com/blobfs/blobbench/internal/errors"
	"github.com/blobfs/blobbench/internal/fsctx"
	"github.com/blobfs/blobbench/internal/observability"
)

// VerifyResult is the outcome of a sequential verification pass.
type VerifyResult struct {
	File        string
	Length      uint64
	FinalOffset uint64
	Blocks      int

	// Err is the I/O or integrity failure that ended the walk early.
	Err error

	Stats observability.PhaseStats
}

// Complete reports whether the walk covered the whole file without failure.
func (r VerifyResult) Complete() bool {
	return r.Err == nil && r.FinalOffset == r.Length
}

// Verify walks name from offset 0 in steps of len(record) up to its length
// and compares every block with record. A trailing block shorter than the
// record is compared with the record's prefix. The walk stops at the first
// read error or mismatch, which is returned in the result. The returned
// error is non-nil only for fatal failures.
func Verify(ctx context.Context, m *fsctx.Manager, name string, record []byte) (VerifyResult, error) {
	log := m.Logger().WithPhase(PhaseVerify).WithFile(name)
	res := VerifyResult{File: name}
	started := time.Now()

	c, err := m.Acquire("verifier")
	if err != nil {
		return res, err
	}
	defer func() {
		if err := c.Release(); err != nil {
			log.Error("failed to release context", "error", err)
		}
	}()

	f, err := c.Open(name, false)
	if err != nil {
		if berrors.IsFatal(err) {
			return res, err
		}
		res.Err = err
		log.LogVerify(ctx, 0, 0, err)
		return res, nil
	}
	defer f.Close()

	size := uint64(len(record))
	res.Length = f.Length()
	buf := make([]byte, size)

	for off := uint64(0); off < res.Length && size > 0; off += size {
		want := record
		if remaining := res.Length - off; remaining < size {
			want = record[:remaining]
		}

		n, err := f.ReadAt(buf[:len(want)], off)
		if err != nil {
			if berrors.IsFatal(err) {
				return res, err
			}
			res.Err = err
			break
		}
		if n != len(want) {
			res.Err = berrors.NewIOError(berrors.CodeReadFailed,
				fmt.Sprintf("short read at offset %d: got %d bytes, want %d", off, n, len(want)), nil)
			break
		}
		if !bytes.Equal(buf[:n], want) {
			res.Err = berrors.NewIntegrityError(fmt.Sprintf("record mismatch at offset %d", off)).
				WithDetails(map[string]interface{}{"offset": off, "got": string(buf[:n])})
			break
		}

		res.Blocks++
		res.FinalOffset = off + uint64(n)
	}

	res.Stats = observability.PhaseStats{
		Phase:   PhaseVerify,
		Workers: 1,
		Ops:     int64(res.Blocks),
		Bytes:   int64(res.FinalOffset),
		Started: started,
		Elapsed: time.Since(started),
	}
	if res.Err != nil {
		res.Stats.Failures = 1
	}

	log.LogVerify(ctx, res.FinalOffset, res.Blocks, res.Err)
	log.LogPhase(ctx, PhaseVerify, res.Stats.Ops, res.Stats.Bytes, res.Stats.Elapsed)
	return res, nil
}
