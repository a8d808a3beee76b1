// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const indexInstrumentationName = "rustgraph.trace.index"

var (
	tracer = otel.Tracer(indexInstrumentationName)
	meter  = otel.Meter(indexInstrumentationName)
)

var (
	metricsOnce       sync.Once
	operationDuration metric.Float64Histogram
	operationTotal    metric.Int64Counter
	searchResults     metric.Int64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		operationDuration, err = meter.Float64Histogram("rustgraph_index_operation_duration_seconds",
			metric.WithDescription("Duration of symbol index operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			operationDuration = nil
		}
		operationTotal, err = meter.Int64Counter("rustgraph_index_operations_total",
			metric.WithDescription("Total symbol index operations, by operation and outcome"),
		)
		if err != nil {
			operationTotal = nil
		}
		searchResults, err = meter.Int64Histogram("rustgraph_index_search_results",
			metric.WithDescription("Number of results returned per search"),
		)
		if err != nil {
			searchResults = nil
		}
	})
}

func startOperationSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "SymbolIndex."+op)
}

func setOperationSpanResult(span trace.Span, results int, success bool) {
	span.SetAttributes(attribute.Int("index.results", results))
	if !success {
		span.SetStatus(codes.Error, "operation failed")
	}
}

func recordOperationMetrics(ctx context.Context, op string, duration time.Duration, results int, success bool) {
	initMetrics()
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("status", status))
	if operationDuration != nil {
		operationDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if operationTotal != nil {
		operationTotal.Add(ctx, 1, attrs)
	}
}

func recordSearchResults(ctx context.Context, n int) {
	initMetrics()
	if searchResults != nil {
		searchResults.Record(ctx, int64(n))
	}
}
