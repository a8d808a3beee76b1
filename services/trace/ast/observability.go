// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const astInstrumentationName = "rustgraph.trace.ast"

var (
	tracer = otel.Tracer(astInstrumentationName)
	meter  = otel.Meter(astInstrumentationName)
)

// Lazily created instruments. The global meter provider may be replaced
// after package init, so creation waits for first use.
var (
	metricsOnce   sync.Once
	parseDuration metric.Float64Histogram
	parseTotal    metric.Int64Counter
	itemsLowered  metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		parseDuration, err = meter.Float64Histogram("rustgraph_ast_parse_duration_seconds",
			metric.WithDescription("Duration of Rust source lowering"),
			metric.WithUnit("s"),
		)
		if err != nil {
			parseDuration = nil
		}
		parseTotal, err = meter.Int64Counter("rustgraph_ast_parse_total",
			metric.WithDescription("Total Rust files lowered, by outcome"),
		)
		if err != nil {
			parseTotal = nil
		}
		itemsLowered, err = meter.Int64Counter("rustgraph_ast_items_total",
			metric.WithDescription("Total declarations lowered"),
		)
		if err != nil {
			itemsLowered = nil
		}
	})
}

// startParseSpan opens the span that covers one Parse call.
func startParseSpan(ctx context.Context, filePath string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "RustParser.Parse",
		trace.WithAttributes(
			attribute.String("parse.file", filePath),
			attribute.Int("parse.size_bytes", size),
		),
	)
}

// setParseSpanResult records the outcome on the span.
func setParseSpanResult(span trace.Span, items int, syntaxErrors int) {
	span.SetAttributes(
		attribute.Int("parse.items", items),
		attribute.Int("parse.syntax_errors", syntaxErrors),
	)
}

// recordParseMetrics records one Parse outcome.
func recordParseMetrics(ctx context.Context, duration time.Duration, items int, success bool) {
	initMetrics()
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	if parseDuration != nil {
		parseDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if parseTotal != nil {
		parseTotal.Add(ctx, 1, attrs)
	}
	if itemsLowered != nil && items > 0 {
		itemsLowered.Add(ctx, int64(items))
	}
}
