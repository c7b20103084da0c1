//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package codec implements the length-prefixed binary envelope and
// extensible type registry used to persist memoized results. A value is
// either a primitive atom (handled natively) or an Extension(code, payload)
// whose payload is itself recursively encoded — this lets user encoders
// return ordinary maps/slices and leaves binary framing to the codec.
package codec

import (
	"fmt"
	"reflect"
	"sync"
)

// Code is an extension code in [0, 127].
type Code uint8

// MaxCode is the highest valid extension code.
const MaxCode = Code(127)

// Encoder converts a registered value into an intermediate representation
// in the canonical set (primitives, []any, map[string]any) or into another
// registered extension type. The intermediate is itself encoded afterward.
type Encoder func(value any) (any, error)

// Decoder rebuilds a value from the decoded intermediate representation
// produced by the matching Encoder.
type Decoder func(intermediate any) (any, error)

// DecoderFactory produces a Decoder once, at registration time. This
// supports cyclic or self-referential types whose decoder needs to close
// over methods resolved only after the type's own definition — the factory
// is invoked exactly once, during Register, and its result is what gets
// stored and used for every subsequent decode.
type DecoderFactory func() Decoder

type extension struct {
	code    Code
	typ     reflect.Type
	typName string
	encode  Encoder
	decode  Decoder
}

// TypeRegistry is a process-global injective mapping between Go types and
// extension codes. It is mutated only during setup; reads are protected by
// an RWMutex but are expected to be rare after initialization completes.
type TypeRegistry struct {
	mu     sync.RWMutex
	byCode map[Code]*extension
	byType map[reflect.Type]*extension
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byCode: make(map[Code]*extension),
		byType: make(map[reflect.Type]*extension),
	}
}

// Register binds the concrete type of sample to code, using encode/decode
// to convert to/from the wire intermediate. Duplicate code or duplicate
// type is a RegistrationError.
func (r *TypeRegistry) Register(sample any, code Code, encode Encoder, decode Decoder) error {
	return r.register(sample, code, encode, decode)
}

// RegisterFactory is Register, but the decoder is produced by factory,
// invoked exactly once, here. Use this when the decoder needs to close
// over methods of the type being registered (late binding).
func (r *TypeRegistry) RegisterFactory(sample any, code Code, encode Encoder, factory DecoderFactory) error {
	return r.register(sample, code, encode, factory())
}

func (r *TypeRegistry) register(sample any, code Code, encode Encoder, decode Decoder) error {
	if code > MaxCode {
		return &RegistrationError{Code: code, Reason: fmt.Sprintf("code must be in [0, %d]", MaxCode)}
	}
	typ := reflect.TypeOf(sample)
	if typ == nil {
		return &RegistrationError{Code: code, Reason: "sample must be a non-nil value of the type being registered"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byCode[code]; ok {
		return &RegistrationError{TypeName: typ.String(), Code: code,
			Reason: fmt.Sprintf("code already bound to type %s", existing.typName)}
	}
	if existing, ok := r.byType[typ]; ok {
		return &RegistrationError{TypeName: typ.String(), Code: code,
			Reason: fmt.Sprintf("type already bound to code %d", existing.code)}
	}

	ext := &extension{code: code, typ: typ, typName: typ.String(), encode: encode, decode: decode}
	r.byCode[code] = ext
	r.byType[typ] = ext
	return nil
}

func (r *TypeRegistry) lookupByType(typ reflect.Type) (*extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.byType[typ]
	return ext, ok
}

func (r *TypeRegistry) lookupByCode(code Code) (*extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.byCode[code]
	return ext, ok
}

// Codes returns every registered extension code, for diagnostics.
func (r *TypeRegistry) Codes() []Code {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Code, 0, len(r.byCode))
	for c := range r.byCode {
		out = append(out, c)
	}
	return out
}
