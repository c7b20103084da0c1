//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package memo

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-memo-go/log"
	"trpc.group/trpc-go/trpc-memo-go/telemetry"
)

// instruments are created lazily, on first invocation, rather than at
// package init: telemetry.Meter is a noop until telemetry.Start runs,
// and callers are free to call Start after constructing a Core.
var (
	instrumentsOnce sync.Once
	invocations     metric.Int64Counter
	duration        metric.Float64Histogram
)

func initInstruments() {
	instrumentsOnce.Do(func() {
		var err error
		invocations, err = telemetry.Meter.Int64Counter(
			"memo.invocations",
			metric.WithDescription("Count of MemoCore.Invoke calls, by function name and outcome."),
		)
		if err != nil {
			log.Warnf("memo: create invocations counter: %v", err)
		}
		duration, err = telemetry.Meter.Float64Histogram(
			"memo.invoke.duration",
			metric.WithDescription("Wall-clock duration of MemoCore.Invoke calls, in seconds."),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Warnf("memo: create duration histogram: %v", err)
		}
	})
}

func recordInvocation(ctx context.Context, funcName string, hit bool, err error, elapsed time.Duration) {
	initInstruments()
	outcome := "miss"
	switch {
	case err != nil:
		outcome = "error"
	case hit:
		outcome = "hit"
	}
	attrs := metric.WithAttributes(
		attribute.String("memo.func_name", funcName),
		attribute.String("memo.outcome", outcome),
	)
	if invocations != nil {
		invocations.Add(ctx, 1, attrs)
	}
	if duration != nil {
		duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
