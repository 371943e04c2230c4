// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package tracing boots the OpenTelemetry globals the gateway uses for
// request spans, context propagation, and metrics.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Setup installs the global tracer, propagator, and meter providers and
// returns a shutdown hook. Tracing is controlled by the standard
// OTEL_SDK_DISABLED / OTEL_TRACES_EXPORTER environment variables; when
// disabled, a no-op tracer is installed and propagation headers still flow
// through.
func Setup(ctx context.Context, serviceName string) (trace.TracerProvider, *sdkmetric.MeterProvider, func(context.Context) error, error) {
	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)

	if os.Getenv("OTEL_SDK_DISABLED") == "true" {
		tp := noop.NewTracerProvider()
		return tp, meterProvider, meterProvider.Shutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}
	return tracerProvider, meterProvider, shutdown, nil
}
