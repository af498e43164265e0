package bench

import (
	"context"
	"time"

	"github.com/blobfs/blobbench/internal/fsctx"
	"github.com/blobfs/blobbench/internal/observability"
)

// Scenario is one complete benchmark run: prepare, write, verify and random
// read against a single file.
type Scenario struct {
	Name             string
	File             string
	Writers          int
	RecordsPerWriter int
	Readers          int
	ReadsPerReader   int
	RecordSize       int

	// Preexisting seeds the file with this many bytes before the run, so
	// the prepare step has something to delete.
	Preexisting int

	PerWriterHandle bool
	Seed            uint64
}

// DefaultScenario is the workload run by the benchmark binary.
func DefaultScenario() Scenario {
	return Scenario{
		Name:             "default",
		File:             "helloworld2",
		Writers:          50,
		RecordsPerWriter: 10000,
		Readers:          100,
		ReadsPerReader:   1000,
		RecordSize:       DefaultRecordSize,
		Seed:             1,
	}
}

// ScenarioA is a small two-writer run producing 100000 bytes.
func ScenarioA() Scenario {
	return Scenario{
		Name:             "a",
		File:             "scenario-a",
		Writers:          2,
		RecordsPerWriter: 1000,
		Readers:          2,
		ReadsPerReader:   100,
		RecordSize:       DefaultRecordSize,
		Seed:             1,
	}
}

// ScenarioB replaces a 4096-byte file with a single record.
func ScenarioB() Scenario {
	return Scenario{
		Name:             "b",
		File:             "scenario-b",
		Writers:          1,
		RecordsPerWriter: 1,
		Readers:          1,
		ReadsPerReader:   10,
		RecordSize:       DefaultRecordSize,
		Preexisting:      4096,
		Seed:             1,
	}
}

// ScenarioResult collects the outcome of every phase of a scenario.
type ScenarioResult struct {
	Scenario Scenario
	Started  time.Time
	Elapsed  time.Duration

	Write  WriteResult
	Verify VerifyResult
	Random RandomReadResult
	Stats  *observability.ThroughputStats
}

// OK reports whether every phase completed without a worker or integrity
// failure and the file has the expected length.
func (r ScenarioResult) OK() bool {
	return len(r.Write.Failures) == 0 &&
		r.Verify.Complete() &&
		r.Verify.Length == r.Expected() &&
		len(r.Random.Failures) == 0
}

// Expected returns the file length a fully successful run produces.
func (r ScenarioResult) Expected() uint64 {
	sc := r.Scenario
	return uint64(sc.Writers) * uint64(sc.RecordsPerWriter) * uint64(sc.RecordSize)
}

// RunScenario runs sc to completion. Worker I/O failures and integrity
// failures are reported in the result; the returned error is non-nil only
// for fatal failures, after which the result is partial.
func RunScenario(ctx context.Context, m *fsctx.Manager, sc Scenario) (ScenarioResult, error) {
	log := m.Logger().With("scenario", sc.Name, "file", sc.File)
	res := ScenarioResult{
		Scenario: sc,
		Started:  time.Now(),
		Stats:    observability.NewThroughputStats(),
	}

	log.Info("scenario starting",
		"writers", sc.Writers,
		"records_per_writer", sc.RecordsPerWriter,
		"readers", sc.Readers,
		"record_size", sc.RecordSize,
	)

	record := NewRecord(sc.RecordSize)

	c, err := m.Acquire("main")
	if err != nil {
		return res, err
	}
	releaseMain := func() {
		if c == nil {
			return
		}
		if err := c.Release(); err != nil {
			log.Error("failed to release context", "error", err)
		}
		c = nil
	}
	defer releaseMain()

	if sc.Preexisting > 0 {
		if err := seedFile(c, sc.File, sc.Preexisting); err != nil {
			return res, err
		}
	}

	file, err := PrepareFile(c, sc.File)
	if err != nil {
		return res, err
	}

	res.Write, err = Write(ctx, m, WriteConfig{
		Writers:          sc.Writers,
		RecordsPerWriter: sc.RecordsPerWriter,
		Record:           record,
		PerWriterHandle:  sc.PerWriterHandle,
	}, file)
	if closeErr := file.Close(); closeErr != nil {
		log.Error("failed to close file", "error", closeErr)
	}
	if err != nil {
		return res, err
	}
	res.Stats.Record(res.Write.Stats)
	releaseMain()

	res.Verify, err = Verify(ctx, m, sc.File, record)
	if err != nil {
		return res, err
	}
	res.Stats.Record(res.Verify.Stats)

	res.Random, err = RandomRead(ctx, m, sc.File, RandomReadConfig{
		Readers:        sc.Readers,
		ReadsPerReader: sc.ReadsPerReader,
		RecordSize:     sc.RecordSize,
		Seed:           sc.Seed,
	})
	if err != nil {
		return res, err
	}
	res.Stats.Record(res.Random.Stats)
	res.Elapsed = time.Since(res.Started)

	log.Info("scenario finished",
		"ok", res.OK(),
		"length", res.Verify.Length,
		"expected", res.Expected(),
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// seedFile makes name exist with size bytes of filler.
func seedFile(c *fsctx.Context, name string, size int) error {
	f, err := c.Open(name, true)
	if err != nil {
		return err
	}
	if err := f.WriteAt(make([]byte, size), f.Length()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
