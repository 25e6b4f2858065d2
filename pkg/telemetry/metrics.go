// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/stacklok/credkeeper"

// Renewal outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Paths a credential read can take.
const (
	PathCache = "cache"
	PathRenew = "renew"
	PathError = "error"
)

var (
	attrOutcome = attribute.Key("outcome")
	attrPath    = attribute.Key("path")
	attrStore   = attribute.Key("store")
)

// Tracer returns the credkeeper tracer from tp.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	return tp.Tracer(instrumentationName)
}

// Metrics records credential cache activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	renewals        metric.Int64Counter
	renewalWaiters  metric.Int64Counter
	renewalDuration metric.Float64Histogram
	gets            metric.Int64Counter
}

// NewMetrics creates the credkeeper instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	renewals, err := meter.Int64Counter(
		"credkeeper_renewals",
		metric.WithDescription("Total number of credential renewals by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create renewals counter: %w", err)
	}
	renewalWaiters, err := meter.Int64Counter(
		"credkeeper_renewal_waiters",
		metric.WithDescription("Total number of callers that shared an in-flight renewal"))
	if err != nil {
		return nil, fmt.Errorf("failed to create renewal waiters counter: %w", err)
	}
	renewalDuration, err := meter.Float64Histogram(
		"credkeeper_renewal_duration",
		metric.WithDescription("Duration of credential renewals in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create renewal duration histogram: %w", err)
	}
	gets, err := meter.Int64Counter(
		"credkeeper_get",
		metric.WithDescription("Total number of credential reads by path"))
	if err != nil {
		return nil, fmt.Errorf("failed to create get counter: %w", err)
	}

	return &Metrics{
		renewals:        renewals,
		renewalWaiters:  renewalWaiters,
		renewalDuration: renewalDuration,
		gets:            gets,
	}, nil
}

// RecordRenewal records one completed renewal attempt against store.
func (m *Metrics) RecordRenewal(ctx context.Context, store, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attrStore.String(store), attrOutcome.String(outcome))
	m.renewals.Add(ctx, 1, attrs)
	m.renewalDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordSharedRenewal records a caller that received the outcome of a
// renewal started by another caller.
func (m *Metrics) RecordSharedRenewal(ctx context.Context, store string) {
	if m == nil {
		return
	}
	m.renewalWaiters.Add(ctx, 1, metric.WithAttributes(attrStore.String(store)))
}

// RecordGet records one credential read.
func (m *Metrics) RecordGet(ctx context.Context, store, path string) {
	if m == nil {
		return
	}
	m.gets.Add(ctx, 1, metric.WithAttributes(attrStore.String(store), attrPath.String(path)))
}
