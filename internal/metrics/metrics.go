// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package metrics holds the gateway's OpenTelemetry instruments.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "archgw"

// Metrics bundles the instruments recorded on the request path.
type Metrics struct {
	skippedEvents metric.Int64Counter
	inputTokens   metric.Int64Counter
	outputTokens  metric.Int64Counter
	requests      metric.Int64Counter
}

// New registers the gateway instruments on the given provider.
func New(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	skipped, err := meter.Int64Counter("archgw.sse.skipped_events",
		metric.WithDescription("SSE events dropped because they have no representation in the client dialect."))
	if err != nil {
		return nil, err
	}
	in, err := meter.Int64Counter("archgw.tokens.input",
		metric.WithDescription("Input tokens reported by upstream responses."))
	if err != nil {
		return nil, err
	}
	out, err := meter.Int64Counter("archgw.tokens.output",
		metric.WithDescription("Output tokens reported by upstream responses."))
	if err != nil {
		return nil, err
	}
	reqs, err := meter.Int64Counter("archgw.requests",
		metric.WithDescription("Requests served, by model and status."))
	if err != nil {
		return nil, err
	}
	return &Metrics{skippedEvents: skipped, inputTokens: in, outputTokens: out, requests: reqs}, nil
}

// RecordSkippedEvent counts one dropped SSE event.
func (m *Metrics) RecordSkippedEvent(eventName string) {
	m.skippedEvents.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("event.type", eventName)))
}

// RecordTokenUsage counts the token usage of one completed response.
func (m *Metrics) RecordTokenUsage(ctx context.Context, model string, inputTokens, outputTokens int) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.inputTokens.Add(ctx, int64(inputTokens), attrs)
	m.outputTokens.Add(ctx, int64(outputTokens), attrs)
}

// RecordRequest counts one served request.
func (m *Metrics) RecordRequest(ctx context.Context, model string, status int) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.Int("status", status)))
}
