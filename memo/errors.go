//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package memo

import "fmt"

// CacheCorruptedError is raised internally when a stored record fails
// to deserialize. Core always catches it and treats the call as a
// cache miss; it is exported only so tests and logging hooks can
// recognize the condition.
type CacheCorruptedError struct {
	CacheKey string
	Reason   error
}

func (e *CacheCorruptedError) Error() string {
	return fmt.Sprintf("memo: cache record %s is corrupted: %v (consider bumping version)", e.CacheKey, e.Reason)
}

func (e *CacheCorruptedError) Unwrap() error { return e.Reason }

// ScopeExpiredError is raised when a wrapper returned by CachedRun is
// invoked after its scope has ended.
type ScopeExpiredError struct {
	FuncName string
}

func (e *ScopeExpiredError) Error() string {
	return fmt.Sprintf("memo: scope for %q has already ended", e.FuncName)
}
