// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command trace starts the code graph API server.
//
// The server builds Rust code graphs from posted source, stores them as
// snapshots in BadgerDB and answers symbol search and diff queries.
//
// Usage:
//
//	go run ./cmd/trace
//	go run ./cmd/trace -port 9090 -project /path/to/crate
//	go run ./cmd/trace -traces otlp -otlp-endpoint localhost:4317
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/codegraph/health
//
//	# Build a graph
//	curl -X POST http://localhost:8080/v1/codegraph/analyze \
//	  -H "Content-Type: application/json" \
//	  -d '{"path": "src/lib.rs", "content": "pub fn main() {}"}'
//
//	# Save a snapshot, then search it
//	curl -X POST http://localhost:8080/v1/codegraph/snapshots \
//	  -H "Content-Type: application/json" \
//	  -d '{"path": "src/lib.rs", "content": "pub fn main() {}", "label": "v1"}'
//	curl 'http://localhost:8080/v1/codegraph/snapshots/<id>/symbols?q=main'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/rustgraph/services/trace"
	"github.com/AleutianAI/rustgraph/services/trace/config"
	"github.com/AleutianAI/rustgraph/services/trace/graph"
	"github.com/AleutianAI/rustgraph/services/trace/telemetry"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	project := flag.String("project", ".", "Project root holding "+config.FileName)
	snapshotDir := flag.String("snapshot-dir", "", "Snapshot store directory (overrides config)")
	noSnapshots := flag.Bool("no-snapshots", false, "Run without a snapshot store")
	traces := flag.String("traces", "", "Span exporter: stdout or otlp")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP gRPC collector host:port")
	rateLimit := flag.Float64("rate-limit", 0, "Maximum API requests per second (0 = unlimited)")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		gin.SetMode(gin.DebugMode)
		level = slog.LevelDebug
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, options{
		port:         *port,
		debug:        *debug,
		project:      *project,
		snapshotDir:  *snapshotDir,
		noSnapshots:  *noSnapshots,
		traces:       *traces,
		otlpEndpoint: *otlpEndpoint,
		rateLimit:    *rateLimit,
	}); err != nil {
		logger.Error("code graph server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type options struct {
	port         int
	debug        bool
	project      string
	snapshotDir  string
	noSnapshots  bool
	traces       string
	otlpEndpoint string
	rateLimit    float64
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:  trace.DefaultServiceName,
		Traces:       opts.traces,
		OTLPEndpoint: opts.otlpEndpoint,
		Metrics:      true,
	})
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()
	if err != nil {
		return err
	}

	cfg, err := config.Load(ctx, opts.project)
	if err != nil {
		return err
	}
	if opts.snapshotDir != "" {
		cfg.SnapshotDir = opts.snapshotDir
	}

	// Snapshots degrade gracefully: without a store the snapshot routes
	// answer 503 and analysis still works.
	var snapshots *graph.SnapshotManager
	if !opts.noSnapshots {
		dir := cfg.SnapshotPath(opts.project)
		db, err := openStore(dir)
		if err != nil {
			logger.Warn("snapshot store unavailable, persistence disabled",
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
		} else {
			defer func() {
				if err := db.Close(); err != nil {
					logger.Warn("failed to close snapshot store", slog.String("error", err.Error()))
				}
			}()
			if snapshots, err = graph.NewSnapshotManager(db, logger); err != nil {
				return err
			}
			logger.Info("snapshot store opened", slog.String("path", dir))
		}
	}

	svcCfg := trace.DefaultServiceConfig()
	svcCfg.Config = cfg
	svcCfg.Logger = logger
	svc := trace.NewService(svcCfg, snapshots)

	router := trace.NewRouter(trace.NewHandlers(svc), trace.RouterOptions{
		AccessLog: opts.debug,
		RateLimit: opts.rateLimit,
		RateBurst: 20,
	})

	printBanner(opts.port, snapshots != nil)
	return trace.ListenAndServe(ctx, fmt.Sprintf(":%d", opts.port), router, logger)
}

func openStore(dir string) (*badger.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return graph.OpenSnapshotDB(dir)
}

func printBanner(port int, snapshots bool) {
	state := "disabled"
	if snapshots {
		state = "enabled"
	}
	fmt.Fprintf(os.Stderr, "rustgraph code graph server\n")
	fmt.Fprintf(os.Stderr, "  listening:  http://localhost:%d/v1/codegraph\n", port)
	fmt.Fprintf(os.Stderr, "  metrics:    http://localhost:%d/metrics\n", port)
	fmt.Fprintf(os.Stderr, "  snapshots:  %s\n", state)
}
