// Command postprocess runs the filter post-processing steps.
//
// Usage:
//
//	postprocess -mode snapshot   # before the filter: write file_stats.json
//	postprocess -mode run        # after the filter: replay, reconcile, write previous_actions.json
//	postprocess -mode stale      # list sources changed since the last run
//
// Paths come from POSTPROCESS_* environment variables (see
// postprocess.Config); flags override them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/meigma/postprocess"
)

const (
	modeRun      = "run"
	modeSnapshot = "snapshot"
	modeStale    = "stale"
)

type options struct {
	mode      string
	workDir   string
	algorithm string
	logLevel  string
	logFormat string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "postprocess: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := postprocess.LoadConfig()
	if err != nil {
		return err
	}

	var opts options
	flag.StringVar(&opts.mode, "mode", modeRun, "mode: run, snapshot or stale")
	flag.StringVar(&opts.workDir, "work-dir", cfg.WorkDir, "working tree the filter ran in")
	flag.StringVar(&opts.algorithm, "algorithm", cfg.Algorithm, "digest algorithm (sha256, sha384, sha512)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flag.Parse()

	cfg.WorkDir = opts.workDir
	cfg.Algorithm = opts.algorithm

	logger, err := newLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner, err := postprocess.New(cfg, postprocess.WithLogger(logger))
	if err != nil {
		return err
	}

	start := time.Now()
	switch opts.mode {
	case modeRun:
		report, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("post-processing finished",
			"commands", report.CommandsApplied,
			"deletions", len(report.Provenance.Deletions),
			"transformations", len(report.Provenance.Transformations),
			"elapsed", time.Since(start),
		)
	case modeSnapshot:
		snap, err := runner.Snapshot(ctx)
		if err != nil {
			return err
		}
		logger.Info("snapshot finished", "files", len(snap), "elapsed", time.Since(start))
	case modeStale:
		stale, err := runner.Stale()
		if err != nil {
			return err
		}
		for _, p := range stale {
			fmt.Println(p)
		}
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
	return nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	default:
		return nil, errors.New("log format must be text or json")
	}
}
