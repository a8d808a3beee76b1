// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command rustgraph builds code graphs from Rust sources.
//
// Usage:
//
//	rustgraph analyze src/lib.rs lib.graph.json
//	rustgraph analyze ./crate ./out --format yaml
//	rustgraph validate src/lib.rs
//	rustgraph stats ./crate
//	rustgraph snapshot save src/lib.rs --label before-refactor
//	rustgraph snapshot diff <base-id> <target-id> --unified
//	rustgraph export sqlite ./crate graph.db
//	rustgraph watch ./crate
//	rustgraph serve --addr :8080
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/rustgraph/services/trace/config"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
	"github.com/AleutianAI/rustgraph/services/trace/telemetry"
)

// errReported marks a failure whose details were already printed. It
// yields exit status 1 without an extra error line.
var errReported = errors.New("failure reported")

// app carries state shared by every command.
type app struct {
	projectRoot  string
	configPath   string
	logLevel     string
	traceMode    string
	otlpEndpoint string
	snapshotDir  string
	dumpMetrics  bool

	cfg      *config.Config
	logger   *slog.Logger
	shutdown telemetry.ShutdownFunc
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// newRootCmd builds the command tree writing to stdout and stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "rustgraph",
		Short:         "Build ID-addressable code graphs from Rust source files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context(), stderr)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.projectRoot, "project", ".", "Project root holding "+config.FileName)
	pf.StringVar(&a.configPath, "config", "", "Explicit config file (overrides --project lookup)")
	pf.StringVar(&a.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	pf.StringVar(&a.traceMode, "trace", "", "Export spans: stdout or otlp")
	pf.StringVar(&a.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector host:port")
	pf.StringVar(&a.snapshotDir, "snapshot-dir", "", "Snapshot store directory (overrides config)")
	pf.BoolVar(&a.dumpMetrics, "metrics", false, "Print collected metrics as JSON to stderr on exit")

	root.AddCommand(
		analyzeCmd(a),
		validateCmd(a),
		statsCmd(a),
		snapshotCmd(a),
		exportCmd(a),
		watchCmd(a),
		serveCmd(a),
		initCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context, stderr io.Writer) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
	}
	a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	opts := telemetry.Options{
		ServiceName:  "rustgraph",
		Traces:       a.traceMode,
		OTLPEndpoint: a.otlpEndpoint,
	}
	if a.dumpMetrics {
		opts.MetricsWriter = stderr
	}
	shutdown, err := telemetry.Setup(ctx, opts)
	a.shutdown = shutdown
	if err != nil {
		return err
	}

	if a.configPath != "" {
		a.cfg, err = config.LoadFile(ctx, a.configPath)
	} else {
		a.cfg, err = config.Load(ctx, a.projectRoot)
	}
	if err != nil {
		return err
	}
	if a.snapshotDir != "" {
		a.cfg.SnapshotDir = a.snapshotDir
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.shutdown == nil {
		return nil
	}
	if err := a.shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}

func (a *app) analyzer() *graph.Analyzer {
	return graph.NewAnalyzer(a.cfg.AnalyzerOptions(a.logger))
}

// openSnapshots opens the badger store. The caller must call the
// returned close function.
func (a *app) openSnapshots() (*graph.SnapshotManager, func(), error) {
	dir := a.cfg.SnapshotPath(a.projectRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	db, err := graph.OpenSnapshotDB(dir)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := graph.NewSnapshotManager(db, a.logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return mgr, func() {
		if err := db.Close(); err != nil {
			a.logger.Warn("closing snapshot store", slog.String("error", err.Error()))
		}
	}, nil
}
