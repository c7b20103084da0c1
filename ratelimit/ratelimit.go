//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package ratelimit implements the GCRA (Generic Cell Rate Algorithm)
// admission gate used to throttle memoized-function execution. The
// algorithm tracks a single scalar, the theoretical arrival time (TAT),
// and offers both a blocking wait and a cooperative-async wait over the
// same state so synchronous and asynchronous call sites share one budget.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits requests of a given cost against a tokens-per-minute
// budget. It is built on top of golang.org/x/time/rate's token-bucket
// reservation API, which already implements GCRA-equivalent admission
// (a reservation's Delay() is exactly the GCRA wait computed from TAT);
// Limiter adds the cost-in-tokens-per-minute framing and the sync/async
// dual entry points the memoization pipeline needs.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	// disabled mirrors a nil tpm: every Admit/Wait call returns
	// immediately with zero wait.
	disabled bool
}

// Option configures a Limiter.
type Option func(*config)

type config struct {
	burst int
}

// WithBurst overrides the default burst (which equals tpm rounded to the
// nearest integer, at least 1).
func WithBurst(burst int) Option {
	return func(c *config) { c.burst = burst }
}

// New builds a Limiter admitting at tpm cost-units per minute. A nil tpm
// (represented here as tpm <= 0) disables limiting entirely: every call
// is admitted with zero wait.
func New(tpm float64, opts ...Option) *Limiter {
	if tpm <= 0 {
		return &Limiter{disabled: true}
	}
	cfg := config{burst: int(tpm + 0.5)}
	if cfg.burst < 1 {
		cfg.burst = 1
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ratePerSecond := tpm / 60
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), cfg.burst)}
}

// Disabled reports whether this limiter was constructed with no tpm
// budget and therefore never blocks.
func (l *Limiter) Disabled() bool {
	return l.disabled
}

// Admit reserves admission for a request of the given cost and blocks
// the calling goroutine for the resulting wait. Reservation (the TAT
// mutation) happens under the limiter's own lock before the wait, so
// concurrent callers are serialized into FIFO, disjoint future slots;
// the sleep itself happens outside that lock. Admission is never
// refused: a cost above the configured burst simply produces a longer
// wait while tokens accumulate, matching GCRA's "always eventually
// admits" semantics (spec: "no admission is denied").
func (l *Limiter) Admit(ctx context.Context, cost int) error {
	if l.disabled || cost <= 0 {
		return nil
	}
	wait, err := l.reserve(cost)
	if err != nil {
		return err
	}
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		// The reservation is not rewound: the slot is consumed
		// regardless of whether the caller actually waited it out.
		return ctx.Err()
	}
}

// Wait is an alias for Admit, kept distinct in the API so synchronous
// call sites can name the operation "wait for a slot" without implying
// the cooperative-async semantics of WaitAsync.
func (l *Limiter) Wait(ctx context.Context, cost int) error {
	return l.Admit(ctx, cost)
}

// AdmitAsync is the cooperative-async counterpart of Admit: it suspends
// the calling goroutine on ctx.Done() or the computed wait exactly like
// Admit. Go has no separate cooperative-scheduling primitive distinct
// from goroutines, so this is provided for symmetry with the spec's
// sync/async split and to give async call sites an explicit name.
func (l *Limiter) AdmitAsync(ctx context.Context, cost int) error {
	return l.Admit(ctx, cost)
}

// WaitAsync is an alias for AdmitAsync.
func (l *Limiter) WaitAsync(ctx context.Context, cost int) error {
	return l.AdmitAsync(ctx, cost)
}

// reserve performs the TAT mutation and returns the wait duration,
// without sleeping. golang.org/x/time/rate.Limiter.ReserveN refuses a
// single reservation whose cost exceeds the limiter's burst outright
// (token-bucket capacity is a hard ceiling), which would reject a
// request GCRA itself would merely delay. reserve works around that by
// decomposing cost into burst-sized chunks and reserving them
// sequentially against the same limiter instant: each chunk's
// reservation observes the TAT left by the previous one, so the wait
// accumulates exactly as a single admission of the full cost would,
// and the call never fails for being "too big" — only ctx cancellation
// can abort it.
func (l *Limiter) reserve(cost int) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	burst := l.limiter.Burst()
	now := time.Now()
	var wait time.Duration
	for remaining := cost; remaining > 0; {
		n := remaining
		if n > burst {
			n = burst
		}
		r := l.limiter.ReserveN(now, n)
		if !r.OK() {
			// Unreachable: n is capped to the limiter's own burst, so
			// ReserveN can never refuse it regardless of how far out
			// the resulting wait falls.
			return 0, fmt.Errorf("ratelimit: reservation for cost %d (burst %d) unexpectedly refused", n, burst)
		}
		wait = r.Delay()
		remaining -= n
	}
	return wait, nil
}
