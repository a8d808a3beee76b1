// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const graphTracerName = "rustgraph.trace.graph"

var tracer = otel.Tracer(graphTracerName)

// Package-level Prometheus metrics for graph construction.
var (
	// buildDuration measures Builder.Build.
	//
	// Labels:
	//   - status: "success", "cancelled" or "error"
	buildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trace",
			Subsystem: "codegraph",
			Name:      "build_duration_seconds",
			Help:      "Duration of single-file code graph builds in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"status"},
	)

	// buildEntitiesTotal counts created entities.
	//
	// Labels:
	//   - space: "node", "type", "trait" or "relation"
	buildEntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trace",
			Subsystem: "codegraph",
			Name:      "entities_total",
			Help:      "Total entities created by code graph builds.",
		},
		[]string{"space"},
	)

	filteredImplsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trace",
			Subsystem: "codegraph",
			Name:      "filtered_impls_total",
			Help:      "Impl blocks excluded because their trait is private to the file.",
		},
	)

	// validationErrorsTotal counts ValidateGraph findings.
	//
	// Labels:
	//   - code: a RelationErrorCode
	validationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trace",
			Subsystem: "codegraph",
			Name:      "validation_errors_total",
			Help:      "Relation validation errors by code.",
		},
		[]string{"code"},
	)

	snapshotOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trace",
			Subsystem: "codegraph",
			Name:      "snapshot_operations_total",
			Help:      "Snapshot store operations by kind and status.",
		},
		[]string{"op", "status"},
	)

	// analyzedFilesTotal counts files processed by Analyzer.
	//
	// Labels:
	//   - status: "success" or "error"
	analyzedFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trace",
			Subsystem: "codegraph",
			Name:      "analyzed_files_total",
			Help:      "Files analyzed by directory analysis, by status.",
		},
		[]string{"status"},
	)
)

func startBuildSpan(ctx context.Context, path string, items int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Builder.Build",
		trace.WithAttributes(
			attribute.String("codegraph.source_path", path),
			attribute.Int("codegraph.items", items),
		),
	)
}

func setBuildSpanResult(span trace.Span, counts IDCounts, relations int, err error) {
	span.SetAttributes(
		attribute.Int("codegraph.nodes", counts.Nodes),
		attribute.Int("codegraph.types", counts.Types),
		attribute.Int("codegraph.traits", counts.Traits),
		attribute.Int("codegraph.relations", relations),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func recordBuildMetrics(dur time.Duration, counts IDCounts, relations, filtered int, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrBuildCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	buildDuration.WithLabelValues(status).Observe(dur.Seconds())
	buildEntitiesTotal.WithLabelValues("node").Add(float64(counts.Nodes))
	buildEntitiesTotal.WithLabelValues("type").Add(float64(counts.Types))
	buildEntitiesTotal.WithLabelValues("trait").Add(float64(counts.Traits))
	buildEntitiesTotal.WithLabelValues("relation").Add(float64(relations))
	if filtered > 0 {
		filteredImplsTotal.Add(float64(filtered))
	}
}

func recordValidationMetrics(errs []*RelationError) {
	for _, e := range errs {
		validationErrorsTotal.WithLabelValues(string(e.Code)).Inc()
	}
}

func recordSnapshotOp(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	snapshotOpsTotal.WithLabelValues(op, status).Inc()
}

func recordAnalyzedFile(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	analyzedFilesTotal.WithLabelValues(status).Inc()
}
