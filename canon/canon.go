//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package canon normalizes arbitrary argument graphs into a single
// deterministic byte sequence so that semantically equivalent inputs hash
// to the same cache key, regardless of map iteration order, set order, or
// struct field declaration order.
//
// Mappings are sorted by the canonical bytes of their key, sets are sorted
// by the canonical bytes of their elements, and array-like values (anything
// exposing Shape/DType/ToBytes) are canonicalized from their raw bytes
// rather than any textual or truncated form, to avoid the truncation-
// collision class of bugs a naive stringified digest is prone to.
package canon

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// ArrayLike is satisfied by duck-typed array objects (e.g. tensors,
// dataframes, numpy-style buffers) that expose their shape, element type,
// and raw backing bytes. Any type whose method set matches is accepted;
// implementing this interface explicitly is not required.
type ArrayLike interface {
	Shape() []int
	DType() string
	ToBytes() []byte
}

// Set marks a slice as an unordered collection: its elements are sorted by
// canonical byte representation before hashing, so element order never
// affects the resulting key.
type Set []any

// tag identifies the shape of the next frame in the canonical byte stream.
type tag byte

const (
	tagNil tag = iota
	tagBool
	tagInt
	tagUint
	tagFloat
	tagNaN
	tagPosInf
	tagNegInf
	tagString
	tagBytes
	tagSeq
	tagMap
	tagSet
	tagArray
	tagObject
)

// Encode canonicalizes value into a deterministic byte sequence. Two values
// that are semantically equal under the rules in the package doc produce
// byte-identical output.
func Encode(value any) ([]byte, error) {
	var buf []byte
	buf, err := appendValue(buf, value)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Equal reports whether a and b canonicalize to the same byte sequence.
func Equal(a, b any) (bool, error) {
	ab, err := Encode(a)
	if err != nil {
		return false, err
	}
	bb, err := Encode(b)
	if err != nil {
		return false, err
	}
	return string(ab) == string(bb), nil
}

func appendValue(buf []byte, v any) ([]byte, error) {
	if v == nil {
		return append(buf, byte(tagNil)), nil
	}

	// Duck-typed array check first: array-likes must never fall through to
	// the generic object/struct path, or their raw bytes would be lost to
	// field-by-field reflection.
	if arr, ok := v.(ArrayLike); ok {
		return appendArray(buf, arr)
	}
	if set, ok := v.(Set); ok {
		return appendSet(buf, []any(set))
	}

	switch x := v.(type) {
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		return append(buf, byte(tagBool), b), nil
	case string:
		return appendString(buf, x), nil
	case []byte:
		return appendBytes(buf, x), nil
	case float32:
		return appendFloat(buf, float64(x))
	case float64:
		return appendFloat(buf, x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return appendInt(buf, rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return appendUint(buf, rv.Uint()), nil
	case reflect.Map:
		return appendMap(buf, rv)
	case reflect.Slice, reflect.Array:
		// []byte is handled above; other byte-kind slices fall through here.
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return appendBytes(buf, rv.Bytes()), nil
		}
		return appendSeq(buf, rv)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return append(buf, byte(tagNil)), nil
		}
		return appendValue(buf, rv.Elem().Interface())
	case reflect.Struct:
		return appendObject(buf, rv.Type().String(), rv)
	default:
		return nil, fmt.Errorf("canon: unsupported kind %s for type %T", rv.Kind(), v)
	}
}

func appendInt(buf []byte, i int64) []byte {
	buf = append(buf, byte(tagInt))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return append(buf, b[:]...)
}

func appendUint(buf []byte, u uint64) []byte {
	buf = append(buf, byte(tagUint))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], u)
	return append(buf, b[:]...)
}

// appendFloat emits a typed marker for NaN/Inf so that NaN compares equal
// to itself for key purposes (unlike IEEE-754 equality) and +/-Inf are
// distinguishable from any finite value.
func appendFloat(buf []byte, f float64) ([]byte, error) {
	switch {
	case math.IsNaN(f):
		return append(buf, byte(tagNaN)), nil
	case math.IsInf(f, 1):
		return append(buf, byte(tagPosInf)), nil
	case math.IsInf(f, -1):
		return append(buf, byte(tagNegInf)), nil
	}
	buf = append(buf, byte(tagFloat))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	return append(buf, b[:]...), nil
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(tagString))
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = append(buf, byte(tagBytes))
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendUvarint(buf []byte, n uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	w := binary.PutUvarint(tmp[:], n)
	return append(buf, tmp[:w]...)
}

func appendSeq(buf []byte, rv reflect.Value) ([]byte, error) {
	n := rv.Len()
	buf = append(buf, byte(tagSeq))
	buf = appendUvarint(buf, uint64(n))
	var err error
	for i := 0; i < n; i++ {
		buf, err = appendValue(buf, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendSet(buf []byte, elems []any) ([]byte, error) {
	frames := make([][]byte, len(elems))
	for i, e := range elems {
		f, err := appendValue(nil, e)
		if err != nil {
			return nil, err
		}
		frames[i] = f
	}
	sort.Slice(frames, func(i, j int) bool { return string(frames[i]) < string(frames[j]) })

	buf = append(buf, byte(tagSet))
	buf = appendUvarint(buf, uint64(len(frames)))
	for _, f := range frames {
		buf = append(buf, f...)
	}
	return buf, nil
}

type mapEntry struct {
	keyFrame []byte
	valFrame []byte
}

func appendMap(buf []byte, rv reflect.Value) ([]byte, error) {
	entries := make([]mapEntry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		kf, err := appendValue(nil, iter.Key().Interface())
		if err != nil {
			return nil, err
		}
		vf, err := appendValue(nil, iter.Value().Interface())
		if err != nil {
			return nil, err
		}
		entries = append(entries, mapEntry{keyFrame: kf, valFrame: vf})
	}
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].keyFrame) < string(entries[j].keyFrame)
	})

	buf = append(buf, byte(tagMap))
	buf = appendUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = append(buf, e.keyFrame...)
		buf = append(buf, e.valFrame...)
	}
	return buf, nil
}

// appendArray emits the fixed 4-tuple (type-tag, shape, dtype, raw bytes)
// required by the array-aware keying invariant: two array-likes with
// identical shape, dtype and bytes must hash identically, and differing in
// any one of the three must hash differently. No textual coercion of the
// bytes is performed at any point.
func appendArray(buf []byte, arr ArrayLike) ([]byte, error) {
	buf = append(buf, byte(tagArray))
	buf = appendString(buf, reflect.TypeOf(arr).String())

	shape := arr.Shape()
	buf = appendUvarint(buf, uint64(len(shape)))
	for _, d := range shape {
		buf = appendInt(buf, int64(d))
	}

	buf = appendString(buf, arr.DType())
	buf = appendBytes(buf, arr.ToBytes())
	return buf, nil
}

// appendObject canonicalizes an arbitrary struct as (type-name, attribute-
// dict), recursing into each exported field in name-sorted order.
func appendObject(buf []byte, typeName string, rv reflect.Value) ([]byte, error) {
	t := rv.Type()
	type field struct {
		name string
		val  any
	}
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" { // unexported
			continue
		}
		fields = append(fields, field{name: sf.Name, val: rv.Field(i).Interface()})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	buf = append(buf, byte(tagObject))
	buf = appendString(buf, typeName)
	buf = appendUvarint(buf, uint64(len(fields)))
	var err error
	for _, f := range fields {
		buf = appendString(buf, f.name)
		buf, err = appendValue(buf, f.val)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}
