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
	"fmt"
	"runtime"

	"github.com/panjf2000/ants/v2"
)

// Executor runs blocking metadata/blob I/O off of whatever goroutine
// calls into Core, so async callers never stall the scheduler on I/O.
// Core routes lookup, write, and delete through it alike; there is no
// I/O path that bypasses the pool.
type Executor interface {
	// Submit runs fn on a worker and blocks until it returns, its error
	// (if any) propagating to the caller. If ctx is done first, Submit
	// returns ctx.Err() without waiting for fn, which keeps running;
	// waiting for a free worker is not interrupted by ctx.
	Submit(ctx context.Context, fn func() error) error
}

// poolExecutor adapts an ants.Pool to Executor.
type poolExecutor struct {
	pool *ants.Pool
}

// NewExecutor wraps an existing ants.Pool. Core never closes a pool
// obtained this way; the caller owns its lifecycle.
func NewExecutor(pool *ants.Pool) Executor {
	return &poolExecutor{pool: pool}
}

func (e *poolExecutor) Submit(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := e.pool.Submit(func() { done <- fn() }); err != nil {
		return fmt.Errorf("memo: submit to worker pool: %w", err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// internalExecutor is an Executor backed by a pool Core created for
// itself. Shutdown is driven by a finalizer on poolOwner, a standalone
// object that holds only the *ants.Pool — never a reference back to
// Core — so Core becoming unreachable does not keep the pool (or
// anything reachable from Core) alive past its own collection, and the
// pool still gets released without requiring an explicit Close call.
type internalExecutor struct {
	poolExecutor
	owner *poolOwner
}

type poolOwner struct {
	pool *ants.Pool
}

func releasePool(o *poolOwner) {
	o.pool.Release()
}

// newInternalExecutor creates a worker pool of the given size that Core
// is responsible for shutting down.
func newInternalExecutor(size int) (*internalExecutor, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("memo: create worker pool: %w", err)
	}
	owner := &poolOwner{pool: pool}
	runtime.SetFinalizer(owner, releasePool)
	return &internalExecutor{poolExecutor: poolExecutor{pool: pool}, owner: owner}, nil
}

// Close releases the pool immediately rather than waiting for the
// finalizer; safe to call even though the finalizer will also fire
// eventually (Release is idempotent).
func (e *internalExecutor) Close() {
	e.owner.pool.Release()
}
