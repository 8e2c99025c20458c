// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// relayMetrics holds the relay instruments. When telemetry is disabled the
// global meter is a no-op and recording costs nothing.
type relayMetrics struct {
	requests       metric.Int64Counter
	fragments      metric.Int64Counter
	streamDuration metric.Float64Histogram
	upstreamErrors metric.Int64Counter
}

func newRelayMetrics(meter metric.Meter) *relayMetrics {
	m := &relayMetrics{}
	var err error
	if m.requests, err = meter.Int64Counter("relay.requests",
		metric.WithDescription("HTTP requests handled by the relay")); err != nil {
		m.requests = noop.Int64Counter{}
	}
	if m.fragments, err = meter.Int64Counter("relay.fragments",
		metric.WithDescription("Fragments relayed to clients")); err != nil {
		m.fragments = noop.Int64Counter{}
	}
	if m.streamDuration, err = meter.Float64Histogram("relay.stream.duration",
		metric.WithDescription("Duration of relayed streams"),
		metric.WithUnit("ms")); err != nil {
		m.streamDuration = noop.Float64Histogram{}
	}
	if m.upstreamErrors, err = meter.Int64Counter("relay.upstream.errors",
		metric.WithDescription("Upstream failures by phase")); err != nil {
		m.upstreamErrors = noop.Int64Counter{}
	}
	return m
}

func (m *relayMetrics) recordStream(ctx context.Context, fragments int, d time.Duration) {
	m.fragments.Add(ctx, int64(fragments))
	m.streamDuration.Record(ctx, float64(d.Milliseconds()))
}

func (m *relayMetrics) upstreamError(ctx context.Context, phase string) {
	m.upstreamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}
