// Command statickg builds a static knowledge graph from a source repository by running an
// incremental ETL pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

func parseFlags(args []string) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("statickg", flag.ContinueOnError)
	fs.StringVar(&opts.ConfigPath, "config", "", "pipeline configuration file (required)")
	fs.StringVar(&opts.WorkDir, "workdir", "", "working directory holding outputs and state (required)")
	fs.StringVar(&opts.RepoDir, "repo", "", "source repository: a git checkout or a plain directory (required)")
	fs.StringVar(&opts.EnvFile, "env", ".env", "dotenv file loaded before the application configuration")
	fs.StringVar(&opts.AppConfig, "app-config", "", "application configuration file (logging, cache database, metrics)")
	fs.DurationVar(&opts.Watch, "watch", 0, "re-run the pipeline whenever the repository changes, checking at this interval")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.ConfigPath == "" || opts.WorkDir == "" || opts.RepoDir == "" {
		fs.Usage()
		return opts, fmt.Errorf("-config, -workdir and -repo are required")
	}
	if opts.Watch < 0 {
		return opts, fmt.Errorf("-watch must not be negative")
	}
	if opts.Watch > 0 && opts.Watch < time.Second {
		opts.Watch = time.Second
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Stopping the pipeline...", sig)
		cancel()
	}()

	app := fx.New(GetApplicationOptions(ctx, opts)...)
	app.Run()
	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}
