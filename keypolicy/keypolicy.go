//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package keypolicy resolves a memoized call's arguments into the
// canonical seed handed to canon.Encode, applying per-parameter hashing
// strategies such as dropping volatile parameters or substituting a file
// path with its stat or content hash.
//
// Strategies bind by parameter name, not by call-site position: callers
// always supply the argument names alongside the argument values (there is
// no runtime reflection over Go source-level parameter names), so a
// strategy registered for "verbose" always applies to whichever argument
// is bound to that name.
package keypolicy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Strategy projects one named argument into the value that feeds the
// canonicalizer, or drops it entirely.
type Strategy interface {
	// Apply returns the projected value and whether to keep the parameter.
	// keep=false removes the parameter from the canonical seed.
	Apply(ctx context.Context, name string, value any) (projected any, keep bool, err error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx context.Context, name string, value any) (any, bool, error)

// Apply implements Strategy.
func (f StrategyFunc) Apply(ctx context.Context, name string, value any) (any, bool, error) {
	return f(ctx, name, value)
}

// DefaultStrategy keeps the argument as-is; it is fed to the canonicalizer
// unmodified.
var DefaultStrategy Strategy = StrategyFunc(func(_ context.Context, _ string, value any) (any, bool, error) {
	return value, true, nil
})

// IgnoreStrategy drops the named parameter before canonicalization.
var IgnoreStrategy Strategy = StrategyFunc(func(_ context.Context, _ string, _ any) (any, bool, error) {
	return nil, false, nil
})

// PathStatStrategy treats the argument as a filesystem path and substitutes
// it with (path, size, mtime_ns), so a cache entry is invalidated whenever
// the file's size or modification time changes, without reading its
// contents.
var PathStatStrategy Strategy = StrategyFunc(func(_ context.Context, name string, value any) (any, bool, error) {
	path, ok := value.(string)
	if !ok {
		return nil, false, fmt.Errorf("keypolicy: PATH_STAT on parameter %q requires a string path, got %T", name, value)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("keypolicy: PATH_STAT stat %q: %w", path, err)
	}
	return []any{path, fi.Size(), fi.ModTime().UnixNano()}, true, nil
})

// FileContentStrategy treats the argument as a filesystem path and
// substitutes it with the SHA-256 hex digest of the file's byte contents.
var FileContentStrategy Strategy = StrategyFunc(func(_ context.Context, name string, value any) (any, bool, error) {
	path, ok := value.(string)
	if !ok {
		return nil, false, fmt.Errorf("keypolicy: FILE_CONTENT on parameter %q requires a string path, got %T", name, value)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("keypolicy: FILE_CONTENT open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, false, fmt.Errorf("keypolicy: FILE_CONTENT read %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
})

// Policy resolves a call's arguments into the canonical seed. The zero
// value is DEFAULT for every parameter.
type Policy struct {
	// Default is applied to any parameter without a per-parameter override.
	// Nil means DefaultStrategy.
	Default Strategy
	// PerParam overrides the strategy for specific parameter names.
	PerParam map[string]Strategy
}

// Default returns the built-in DEFAULT policy: every parameter is
// canonicalized as-is.
func Default() *Policy {
	return &Policy{}
}

// Ignore returns a policy that drops the named parameters and canonicalizes
// everything else as-is.
func Ignore(params ...string) *Policy {
	p := &Policy{PerParam: make(map[string]Strategy, len(params))}
	for _, name := range params {
		p.PerParam[name] = IgnoreStrategy
	}
	return p
}

// Map returns a policy applying a distinct strategy per named parameter;
// parameters absent from perParam fall back to DEFAULT.
func Map(perParam map[string]Strategy) *Policy {
	return &Policy{PerParam: perParam}
}

// Seed is the ordered, policy-projected view of a call's arguments that
// gets handed to canon.Encode. canon.Encode treats a Seed as an ordered
// sequence of Param objects, so the order of the supplied paramNames is
// part of the resulting key; entries are kept in declaration order and
// are not sorted by name.
type Seed []Param

// Param is one (name, projected value) pair surviving policy application.
type Param struct {
	Name  string
	Value any
}

// Apply resolves paramNames/args into a canonical seed. args[i] is bound to
// paramNames[i]; len(args) may be less than len(paramNames) for trailing
// omitted optional parameters.
func (p *Policy) Apply(ctx context.Context, paramNames []string, args []any) (Seed, error) {
	def := p.defaultStrategy()
	seed := make(Seed, 0, len(paramNames))
	for i, name := range paramNames {
		var value any
		if i < len(args) {
			value = args[i]
		}
		strat := def
		if p.PerParam != nil {
			if s, ok := p.PerParam[name]; ok {
				strat = s
			}
		}
		projected, keep, err := strat.Apply(ctx, name, value)
		if err != nil {
			return nil, fmt.Errorf("keypolicy: parameter %q: %w", name, err)
		}
		if !keep {
			continue
		}
		seed = append(seed, Param{Name: name, Value: projected})
	}
	return seed, nil
}

func (p *Policy) defaultStrategy() Strategy {
	if p.Default != nil {
		return p.Default
	}
	return DefaultStrategy
}
