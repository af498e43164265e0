package bench

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	berrors "github.com/blobfs/blobbench/internal/errors"
	"github.com/blobfs/blobbench/internal/fsctx"
	"github.com/blobfs/blobbench/internal/observability"
)

// Phase names used in stats and logs.
const (
	PhaseWrite      = "write"
	PhaseVerify     = "verify"
	PhaseRandomRead = "random_read"
)

// progressInterval spaces out progress lines from busy workers.
const progressInterval = 5 * time.Second

// WriteConfig configures a write phase.
type WriteConfig struct {
	Writers          int
	RecordsPerWriter int
	Record           []byte

	// TrackRanges records every range assigned by the cursor in the result.
	TrackRanges bool

	// PerWriterHandle makes each writer open its own handle instead of
	// sharing the one passed to Write. Concurrent writers on separate
	// handles are not a supported mode; it exists for comparison runs.
	PerWriterHandle bool
}

// WorkerFailure describes a worker that stopped early on an I/O error.
type WorkerFailure struct {
	Worker  string
	Offset  uint64
	Records int
	Err     error
}

// WriteResult is the outcome of a write phase.
type WriteResult struct {
	File     string
	Cursor   uint64
	Records  int64
	Failures []WorkerFailure
	Ranges   []Range
	Stats    observability.PhaseStats
}

// Expected returns the file length a fully successful phase produces.
func (c WriteConfig) Expected() uint64 {
	return uint64(c.Writers) * uint64(c.RecordsPerWriter) * uint64(len(c.Record))
}

// PrepareFile deletes name if it exists and creates it empty, so a write
// phase never appends to data left by an earlier run.
func PrepareFile(c *fsctx.Context, name string) (*fsctx.File, error) {
	if err := c.Delete(name); err != nil && !fsctx.IsNotFound(err) {
		return nil, err
	}
	return c.Open(name, true)
}

type writeCollector struct {
	mu       sync.Mutex
	failures []WorkerFailure
	ranges   []Range
	records  int64
}

// Write runs cfg.Writers goroutines, each appending cfg.RecordsPerWriter
// copies of cfg.Record to file. Every record is written and synced at the
// cursor under the cursor lock. An I/O error stops only the writer that hit
// it. The returned error is non-nil only for fatal failures.
func Write(ctx context.Context, m *fsctx.Manager, cfg WriteConfig, file *fsctx.File) (WriteResult, error) {
	log := m.Logger().WithPhase(PhaseWrite).WithFile(file.Name())
	stats := observability.NewThroughputStats()
	progress := &rate.Sometimes{Interval: progressInterval}

	var cursor Cursor
	cursor.off.Store(file.Length())

	var col writeCollector
	var g errgroup.Group

	stats.Begin(PhaseWrite, cfg.Writers)
	for i := 0; i < cfg.Writers; i++ {
		g.Go(func() error {
			return writeWorker(ctx, m, cfg, file, i, &cursor, &col, stats, progress)
		})
	}
	fatal := g.Wait()
	phase := stats.End(PhaseWrite)

	res := WriteResult{
		File:     file.Name(),
		Cursor:   cursor.Load(),
		Records:  col.records,
		Failures: col.failures,
		Ranges:   col.ranges,
		Stats:    phase,
	}
	log.LogPhase(ctx, PhaseWrite, phase.Ops, phase.Bytes, phase.Elapsed)
	if len(res.Failures) > 0 {
		log.Warn("writers stopped early",
			"failed_writers", len(res.Failures),
			"cursor", res.Cursor,
			"expected", cfg.Expected(),
		)
	}
	return res, fatal
}

func writeWorker(ctx context.Context, m *fsctx.Manager, cfg WriteConfig, shared *fsctx.File, i int,
	cursor *Cursor, col *writeCollector, stats *observability.ThroughputStats, progress *rate.Sometimes) error {
	worker := fmt.Sprintf("writer-%d", i)
	log := m.Logger().WithPhase(PhaseWrite).WithWorker(worker)

	c, err := m.Acquire(worker)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Release(); err != nil {
			log.Error("failed to release context", "error", err)
		}
	}()

	h := shared.Bind(c)
	if cfg.PerWriterHandle {
		own, err := c.Open(shared.Name(), false)
		if err != nil {
			log.Error("failed to open own handle", "error", err)
			return col.fail(stats, WorkerFailure{Worker: worker, Err: err})
		}
		defer own.Close()
		h = own
	}

	size := uint64(len(cfg.Record))
	for k := 0; k < cfg.RecordsPerWriter; k++ {
		off, err := cursor.Advance(size, func(off uint64) error {
			if err := h.WriteAt(cfg.Record, off); err != nil {
				return err
			}
			return h.Sync()
		})
		if err != nil {
			log.LogWrite(ctx, off, k, err)
			return col.fail(stats, WorkerFailure{Worker: worker, Offset: off, Records: k, Err: err})
		}

		stats.Add(PhaseWrite, 1, int64(size))
		col.add(cfg.TrackRanges, Range{Writer: i, Offset: off, Length: size})

		progress.Do(func() {
			log.Debug("write progress", "records", k+1, "cursor", cursor.Load())
		})
	}
	return nil
}

func (c *writeCollector) add(track bool, r Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records++
	if track {
		c.ranges = append(c.ranges, r)
	}
}

// fail records a worker failure. Fatal errors are returned to end the phase;
// I/O errors end only the calling worker.
func (c *writeCollector) fail(stats *observability.ThroughputStats, f WorkerFailure) error {
	if berrors.IsFatal(f.Err) {
		return f.Err
	}
	c.mu.Lock()
	c.failures = append(c.failures, f)
	c.mu.Unlock()
	stats.AddFailure(PhaseWrite)
	return nil
}
