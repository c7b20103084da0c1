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
	"sync/atomic"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-memo-go/log"
)

// Cached is a memoized call bound to one FuncRef and CallConfig, scoped
// to the lifetime of the CachedRun block that produced it. Calling it
// after that block has returned yields ScopeExpiredError.
type Cached func(ctx context.Context, args ...any) (any, error)

// CachedRun binds refs to core under a shared scope and runs body with
// the resulting wrappers. Wrappers raise ScopeExpiredError if invoked
// after CachedRun returns, matching the "scope outlives the call"
// guardrail: wrappers must never be stashed in a longer-lived closure.
func (c *Core) CachedRun(ctx context.Context, refs []FuncRef, cfg CallConfig, body func(ctx context.Context, cached []Cached) error) error {
	scopeID := uuid.NewString()
	active := new(atomic.Bool)
	active.Store(true)
	defer func() {
		active.Store(false)
		log.Debugf("memo: scope %s closed", scopeID)
	}()

	cached := make([]Cached, len(refs))
	for i, ref := range refs {
		ref := ref
		cached[i] = func(ctx context.Context, args ...any) (any, error) {
			if !active.Load() {
				return nil, &ScopeExpiredError{FuncName: ref.Name}
			}
			return c.Invoke(ctx, ref, args, cfg)
		}
	}
	return body(ctx, cached)
}
