// Package main implements the blobfs benchmark binary. It loads a filesystem
// from a named device, runs concurrent writers against one shared file,
// verifies the result sequentially and measures random read throughput.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/blobfs/blobbench/internal/app"
	"github.com/blobfs/blobbench/internal/bench"
	"github.com/blobfs/blobbench/internal/config"
	berrors "github.com/blobfs/blobbench/internal/errors"
	"github.com/blobfs/blobbench/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		logLevel    string
		showVersion bool
		showHelp    bool
	)

	flags := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	flags.StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	flags.BoolVar(&showVersion, "version", false, "Show version information")
	flags.BoolVarP(&showHelp, "help", "h", false, "Show help message")
	flags.Usage = func() { usage(flags) }

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		usage(flags)
		os.Exit(1)
	}

	if showHelp {
		usage(flags)
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("blobfs-bench version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	args := flags.Args()
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <conffile> <bdevname>\n", os.Args[0])
		os.Exit(1)
	}
	configFile, deviceName := args[0], args[1]

	cfg, err := loadConfig(configFile, logLevel)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	sc := bench.DefaultScenario()
	printBanner(cfg, deviceName, sc)

	logger := logging.FromConfig(cfg.Log.Level, cfg.Log.Format)
	application, err := app.New(cfg, deviceName, logger)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	if _, ok := application.Registry().Lookup(deviceName); !ok {
		log.Fatalf("Unknown device %q (configured: %s)", deviceName, strings.Join(application.Registry().Names(), ", "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	res, runErr := application.Run(ctx, sc)
	if runErr != nil {
		log.Printf("Benchmark aborted: %v", runErr)
	}

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
	if runErr == nil {
		printSummary(res)
	}
	os.Exit(exitCode(runErr))
}

// exitCode maps a run error to the process status. I/O and integrity errors
// end the run with a report but are not fatal to the process.
func exitCode(runErr error) int {
	if runErr == nil {
		return 0
	}
	if berrors.IsFatal(runErr) {
		return 1
	}
	switch berrors.GetCategory(runErr) {
	case berrors.ErrCategoryIO, berrors.ErrCategoryIntegrity:
		return 0
	}
	return 1
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, logLevel string) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	// Apply command line flags (highest priority)
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	return cfg, nil
}

func usage(flags *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "blobfs-bench - concurrent write, verify and random read benchmark for blobfs\n\n")
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <conffile> <bdevname>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flags.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  blobfs-bench bench.yaml Malloc0\n")
	fmt.Fprintf(os.Stderr, "  blobfs-bench --log-level debug bench.yaml Nvme0n1\n")
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  BLOBBENCH_LOG_LEVEL               Log level (debug, info, warn, error)\n")
	fmt.Fprintf(os.Stderr, "  BLOBBENCH_CACHE_SIZE_MB           Page cache budget\n")
	fmt.Fprintf(os.Stderr, "  BLOBBENCH_HISTORY_PATH            SQLite run history\n")
	fmt.Fprintf(os.Stderr, "  BLOBBENCH_<DEVICE>_ACCESS_KEY     Device credentials (also read from .env)\n")
}

// printBanner prints the startup banner with the workload summary.
func printBanner(cfg *config.Config, deviceName string, sc bench.Scenario) {
	log.Printf("blobfs-bench %s", version)
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Device:     %s", deviceName)
	log.Printf("  Cache:      %d MB", cfg.Engine.CacheSizeMB)
	if cfg.Report.HistoryPath != "" {
		log.Printf("  History:    %s", cfg.Report.HistoryPath)
	}
	log.Printf("")
	log.Printf("Workload:")
	log.Printf("  File:       %s", sc.File)
	log.Printf("  Writers:    %d x %d records of %d bytes", sc.Writers, sc.RecordsPerWriter, sc.RecordSize)
	log.Printf("  Readers:    %d x %d reads", sc.Readers, sc.ReadsPerReader)
	log.Printf("")
}

func printSummary(res bench.ScenarioResult) {
	fmt.Printf("write:       %d records, cursor %d, %d failed writers\n",
		res.Write.Records, res.Write.Cursor, len(res.Write.Failures))
	if res.Verify.Err != nil {
		fmt.Printf("verify:      FAILED at offset %d after %d blocks: %v\n",
			res.Verify.FinalOffset, res.Verify.Blocks, res.Verify.Err)
	} else {
		fmt.Printf("verify:      %d blocks, %d bytes\n", res.Verify.Blocks, res.Verify.FinalOffset)
	}
	fmt.Printf("random read: %d reads, %.1f MiB/s\n", res.Random.Reads, res.Random.Stats.MiBPerSec())
	fmt.Printf("elapsed:     %v\n", res.Elapsed)
}
