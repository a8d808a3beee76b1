// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the global OpenTelemetry providers used by
// the rustgraph binaries.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Trace exporter names accepted by Options.Traces.
const (
	TracesNone   = ""
	TracesStdout = "stdout"
	TracesOTLP   = "otlp"
)

// ErrUnknownExporter is returned for an unsupported Options.Traces value.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Options selects the exporters Setup installs.
type Options struct {
	ServiceName string

	// Traces is TracesNone, TracesStdout or TracesOTLP.
	Traces string

	// OTLPEndpoint is host:port of an OTLP gRPC collector. Empty uses the
	// exporter default or OTEL_EXPORTER_OTLP_ENDPOINT.
	OTLPEndpoint string

	// TraceWriter receives stdout spans. Defaults to os.Stderr so spans do
	// not mix with command output.
	TraceWriter io.Writer

	// Metrics bridges OpenTelemetry instruments into Prometheus.
	Metrics bool

	// Registerer receives the bridged metrics. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// MetricsWriter, when set, also receives every instrument as JSON
	// each MetricsInterval and once more at shutdown.
	MetricsWriter   io.Writer
	MetricsInterval time.Duration
}

// DefaultMetricsInterval is the stdout metrics period.
const DefaultMetricsInterval = time.Minute

// ShutdownFunc flushes and stops the installed providers.
type ShutdownFunc func(ctx context.Context) error

// Setup installs the W3C propagator and the requested providers globally.
//
// Description:
//
//	With Traces set, a batching TracerProvider exports every span created
//	through otel.Tracer. With Metrics set, a MeterProvider backed by the
//	Prometheus exporter serves every otel.Meter instrument through the
//	registerer, next to the promauto metrics already registered there.
//	MetricsWriter adds a periodic JSON dump of the same instruments.
//
// Outputs:
//
//	ShutdownFunc - Always non-nil; safe to call when nothing was installed.
//	error - ErrUnknownExporter or an exporter construction error.
func Setup(ctx context.Context, opts Options) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	name := opts.ServiceName
	if name == "" {
		name = "rustgraph"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}

	if opts.Traces != TracesNone {
		exp, err := newTraceExporter(ctx, opts)
		if err != nil {
			return shutdown, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if opts.Metrics || opts.MetricsWriter != nil {
		readers, err := metricReaders(opts)
		if err != nil {
			return shutdown, err
		}
		mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
		for _, r := range readers {
			mpOpts = append(mpOpts, sdkmetric.WithReader(r))
		}
		mp := sdkmetric.NewMeterProvider(mpOpts...)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return shutdown, nil
}

func newTraceExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch opts.Traces {
	case TracesStdout:
		w := opts.TraceWriter
		if w == nil {
			w = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	case TracesOTLP:
		var grpcOpts []otlptracegrpc.Option
		if opts.OTLPEndpoint != "" {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpoint(opts.OTLPEndpoint), otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, opts.Traces)
	}
}

func metricReaders(opts Options) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	if opts.Metrics {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		exp, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("creating prometheus exporter: %w", err)
		}
		readers = append(readers, exp)
	}
	if opts.MetricsWriter != nil {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(opts.MetricsWriter))
		if err != nil {
			return nil, fmt.Errorf("creating stdout metric exporter: %w", err)
		}
		interval := opts.MetricsInterval
		if interval <= 0 {
			interval = DefaultMetricsInterval
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)))
	}
	return readers, nil
}
