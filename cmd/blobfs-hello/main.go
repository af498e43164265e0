// Package main implements a smoke test for blobfs: it writes "hello world"
// to a file, reads it back and unloads the filesystem.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/blobfs/blobbench/internal/app"
	"github.com/blobfs/blobbench/internal/config"
	"github.com/blobfs/blobbench/internal/fsctx"
	"github.com/blobfs/blobbench/internal/logging"
)

const (
	fileName = "helloworld"
	greeting = "hello world"
)

func main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	showHelp := flags.BoolP("help", "h", false, "Show help message")
	if err := flags.Parse(os.Args[1:]); err != nil || *showHelp || flags.NArg() < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <conffile> <bdevname>\n", os.Args[0])
		if *showHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.Load(flags.Arg(0))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg, flags.Arg(1), logging.FromConfig(cfg.Log.Level, cfg.Log.Format))
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	helloErr := hello(application.Manager())
	if err := application.Stop(ctx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	if helloErr != nil {
		log.Fatalf("hello failed: %v", helloErr)
	}
}

func hello(m *fsctx.Manager) error {
	c, err := m.Acquire("main")
	if err != nil {
		return err
	}
	defer c.Release()

	f, err := c.Open(fileName, true)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.WriteAt([]byte(greeting), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	fmt.Printf("length of file %s is %d\n", fileName, f.Length())

	buf := make([]byte, len(greeting))
	n, err := f.ReadAt(buf, 0)
	if err != nil {
		return err
	}
	fmt.Printf("read back: %q\n", buf[:n])
	return nil
}
