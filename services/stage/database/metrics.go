// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package database

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce sync.Once

	eventsSent      metric.Int64Counter
	joinDuration    metric.Float64Histogram
	cascadeFailures metric.Int64Counter
)

// initMetrics creates the engine's instruments once. Instrument creation
// errors leave no-op instruments in place; the engine never fails because
// telemetry is unavailable.
func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("aleutian-stage/database")

		eventsSent, _ = meter.Int64Counter(
			"stage_events_sent_total",
			metric.WithDescription("Wire events handed to the transport, by event name"),
		)
		joinDuration, _ = meter.Float64Histogram(
			"stage_join_duration_seconds",
			metric.WithDescription("Time to complete a stage join, snapshot included"),
			metric.WithUnit("s"),
		)
		cascadeFailures, _ = meter.Int64Counter(
			"stage_cascade_failures_total",
			metric.WithDescription("Cascade steps that failed and were logged"),
		)
	})
}

func recordEvent(name string) {
	eventsSent.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("event", name)))
}
