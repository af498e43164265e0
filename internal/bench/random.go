package bench

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	berrors "github.com/blobfs/blobbench/internal/errors"
	"github.com/blobfs/blobbench/internal/fsctx"
	"github.com/blobfs/blobbench/internal/observability"
)

// RandomReadConfig configures a random read phase.
type RandomReadConfig struct {
	Readers        int
	ReadsPerReader int
	RecordSize     int

	// Seed makes offset sequences reproducible; reader i uses stream i.
	Seed uint64

	// TrackOffsets records every offset read in the result.
	TrackOffsets bool
}

// RandomReadResult is the outcome of a random read phase.
type RandomReadResult struct {
	File     string
	Reads    int64
	Bytes    int64
	Failures []WorkerFailure
	Offsets  []uint64
	Stats    observability.PhaseStats
}

// ClampOffset maps an offset drawn from [0, length) to a valid start for a
// read of size bytes: at most length-size, or 0 when the file is shorter
// than one read.
func ClampOffset(draw, length, size uint64) uint64 {
	if length < size {
		return 0
	}
	if limit := length - size; draw > limit {
		return limit
	}
	return draw
}

type readCollector struct {
	mu       sync.Mutex
	failures []WorkerFailure
	offsets  []uint64
}

// RandomRead runs cfg.Readers goroutines, each with its own context and
// handle, issuing cfg.ReadsPerReader reads of cfg.RecordSize bytes at
// uniformly drawn offsets. Content is not checked. The phase is timed once
// across the whole cohort. The returned error is non-nil only for fatal
// failures.
func RandomRead(ctx context.Context, m *fsctx.Manager, name string, cfg RandomReadConfig) (RandomReadResult, error) {
	log := m.Logger().WithPhase(PhaseRandomRead).WithFile(name)
	stats := observability.NewThroughputStats()
	progress := &rate.Sometimes{Interval: progressInterval}

	var col readCollector
	var g errgroup.Group

	stats.Begin(PhaseRandomRead, cfg.Readers)
	for i := 0; i < cfg.Readers; i++ {
		g.Go(func() error {
			return readWorker(m, name, cfg, i, &col, stats, progress)
		})
	}
	fatal := g.Wait()
	phase := stats.End(PhaseRandomRead)

	log.LogPhase(ctx, PhaseRandomRead, phase.Ops, phase.Bytes, phase.Elapsed)
	return RandomReadResult{
		File:     name,
		Reads:    phase.Ops,
		Bytes:    phase.Bytes,
		Failures: col.failures,
		Offsets:  col.offsets,
		Stats:    phase,
	}, fatal
}

func readWorker(m *fsctx.Manager, name string, cfg RandomReadConfig, i int,
	col *readCollector, stats *observability.ThroughputStats, progress *rate.Sometimes) error {
	worker := fmt.Sprintf("reader-%d", i)
	log := m.Logger().WithPhase(PhaseRandomRead).WithWorker(worker)

	c, err := m.Acquire(worker)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Release(); err != nil {
			log.Error("failed to release context", "error", err)
		}
	}()

	fail := func(f WorkerFailure) error {
		if berrors.IsFatal(f.Err) {
			return f.Err
		}
		log.Error("read failed, stopping worker", "offset", f.Offset, "reads", f.Records, "error", f.Err)
		col.mu.Lock()
		col.failures = append(col.failures, f)
		col.mu.Unlock()
		stats.AddFailure(PhaseRandomRead)
		return nil
	}

	f, err := c.Open(name, false)
	if err != nil {
		return fail(WorkerFailure{Worker: worker, Err: err})
	}
	defer f.Close()

	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
	size := uint64(cfg.RecordSize)
	buf := make([]byte, size)

	for j := 0; j < cfg.ReadsPerReader; j++ {
		length := f.Length()
		var draw uint64
		if length > 0 {
			draw = rng.Uint64N(length)
		}
		off := ClampOffset(draw, length, size)

		n, err := f.ReadAt(buf, off)
		if err != nil {
			return fail(WorkerFailure{Worker: worker, Offset: off, Records: j, Err: err})
		}

		stats.Add(PhaseRandomRead, 1, int64(n))
		if cfg.TrackOffsets {
			col.mu.Lock()
			col.offsets = append(col.offsets, off)
			col.mu.Unlock()
		}

		progress.Do(func() {
			log.Debug("read progress", "reads", j+1, "offset", off)
		})
	}
	return nil
}
