package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
)

type wireTag byte

const (
	wireNil wireTag = iota
	wireBool
	wireInt
	wireFloat
	wireString
	wireBytes
	wireSeq
	wireMap
	wireExt
)

// Serializer encodes/decodes values against a TypeRegistry. It holds no
// mutable state of its own and is safe for concurrent use so long as the
// registry is no longer being mutated.
type Serializer struct {
	registry *TypeRegistry
}

// NewSerializer builds a Serializer bound to registry.
func NewSerializer(registry *TypeRegistry) *Serializer {
	return &Serializer{registry: registry}
}

// Encode converts value into its wire representation.
func (s *Serializer) Encode(value any) ([]byte, error) {
	return s.encodeValue(nil, value)
}

// Decode rebuilds a value from its wire representation.
func (s *Serializer) Decode(data []byte) (any, error) {
	v, rest, err := s.decodeValue(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, &SerializationError{Reason: "trailing bytes after top-level value"}
	}
	return v, nil
}

func (s *Serializer) encodeValue(buf []byte, v any) ([]byte, error) {
	if v == nil {
		return append(buf, byte(wireNil)), nil
	}

	switch x := v.(type) {
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		return append(buf, byte(wireBool), b), nil
	case string:
		return s.encodeString(buf, x), nil
	case []byte:
		return s.encodeBytes(buf, x), nil
	case float32:
		return s.encodeFloat(buf, float64(x))
	case float64:
		return s.encodeFloat(buf, x)
	case []any:
		return s.encodeSeq(buf, x)
	case map[string]any:
		return s.encodeMap(buf, x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return s.encodeInt(buf, rv), nil
	}

	// Not a primitive atom: look for a registered extension on the
	// concrete type.
	ext, ok := s.registry.lookupByType(rv.Type())
	if !ok {
		return nil, &SerializationError{TypeName: rv.Type().String()}
	}
	intermediate, err := ext.encode(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode extension %s (code %d): %w", ext.typName, ext.code, err)
	}
	payload, err := s.encodeValue(nil, intermediate)
	if err != nil {
		return nil, fmt.Errorf("codec: encode extension %s (code %d) payload: %w", ext.typName, ext.code, err)
	}

	buf = append(buf, byte(wireExt), byte(ext.code))
	buf = appendUvarint(buf, uint64(len(payload)))
	return append(buf, payload...), nil
}

func (s *Serializer) encodeInt(buf []byte, rv reflect.Value) []byte {
	buf = append(buf, byte(wireInt))
	var i int64
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i = int64(rv.Uint())
	default:
		i = rv.Int()
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return append(buf, b[:]...)
}

func (s *Serializer) encodeFloat(buf []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &SerializationError{Reason: fmt.Sprintf("non-finite float %v has no wire representation", f)}
	}
	buf = append(buf, byte(wireFloat))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	return append(buf, b[:]...), nil
}

func (s *Serializer) encodeString(buf []byte, str string) []byte {
	buf = append(buf, byte(wireString))
	buf = appendUvarint(buf, uint64(len(str)))
	return append(buf, str...)
}

func (s *Serializer) encodeBytes(buf []byte, b []byte) []byte {
	buf = append(buf, byte(wireBytes))
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func (s *Serializer) encodeSeq(buf []byte, seq []any) ([]byte, error) {
	buf = append(buf, byte(wireSeq))
	buf = appendUvarint(buf, uint64(len(seq)))
	var err error
	for _, elem := range seq {
		buf, err = s.encodeValue(buf, elem)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (s *Serializer) encodeMap(buf []byte, m map[string]any) ([]byte, error) {
	// Sorted for deterministic output, matching the canonicalizer's
	// treatment of mappings; the wire format does not require this for
	// correctness but it keeps encoded bytes stable for identical inputs.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, byte(wireMap))
	buf = appendUvarint(buf, uint64(len(keys)))
	var err error
	for _, k := range keys {
		buf = s.encodeString(buf, k)
		buf, err = s.encodeValue(buf, m[k])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (s *Serializer) decodeValue(data []byte) (any, []byte, error) {
	if len(data) == 0 {
		return nil, nil, &SerializationError{Reason: "unexpected end of input"}
	}
	tag := wireTag(data[0])
	rest := data[1:]

	switch tag {
	case wireNil:
		return nil, rest, nil
	case wireBool:
		if len(rest) < 1 {
			return nil, nil, &SerializationError{Reason: "truncated bool"}
		}
		return rest[0] != 0, rest[1:], nil
	case wireInt:
		if len(rest) < 8 {
			return nil, nil, &SerializationError{Reason: "truncated int"}
		}
		v := int64(binary.BigEndian.Uint64(rest[:8]))
		return v, rest[8:], nil
	case wireFloat:
		if len(rest) < 8 {
			return nil, nil, &SerializationError{Reason: "truncated float"}
		}
		v := math.Float64frombits(binary.BigEndian.Uint64(rest[:8]))
		return v, rest[8:], nil
	case wireString:
		n, tail, err := readUvarint(rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(tail)) < n {
			return nil, nil, &SerializationError{Reason: "truncated string"}
		}
		return string(tail[:n]), tail[n:], nil
	case wireBytes:
		n, tail, err := readUvarint(rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(tail)) < n {
			return nil, nil, &SerializationError{Reason: "truncated bytes"}
		}
		b := make([]byte, n)
		copy(b, tail[:n])
		return b, tail[n:], nil
	case wireSeq:
		n, tail, err := readUvarint(rest)
		if err != nil {
			return nil, nil, err
		}
		out := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			var v any
			v, tail, err = s.decodeValue(tail)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, v)
		}
		return out, tail, nil
	case wireMap:
		n, tail, err := readUvarint(rest)
		if err != nil {
			return nil, nil, err
		}
		out := make(map[string]any, n)
		for i := uint64(0); i < n; i++ {
			var kv any
			kv, tail, err = s.decodeValue(tail)
			if err != nil {
				return nil, nil, err
			}
			key, ok := kv.(string)
			if !ok {
				return nil, nil, &SerializationError{Reason: "map key is not a string"}
			}
			var v any
			v, tail, err = s.decodeValue(tail)
			if err != nil {
				return nil, nil, err
			}
			out[key] = v
		}
		return out, tail, nil
	case wireExt:
		if len(rest) < 1 {
			return nil, nil, &SerializationError{Reason: "truncated extension code"}
		}
		code := Code(rest[0])
		rest = rest[1:]
		n, tail, err := readUvarint(rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(tail)) < n {
			return nil, nil, &SerializationError{Reason: "truncated extension payload"}
		}
		payload := tail[:n]
		remainder := tail[n:]

		ext, ok := s.registry.lookupByCode(code)
		if !ok {
			return nil, nil, &SerializationError{Code: code}
		}
		intermediate, leftover, err := s.decodeValue(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("codec: decode extension %s (code %d) payload: %w", ext.typName, code, err)
		}
		if len(leftover) != 0 {
			return nil, nil, &SerializationError{Reason: fmt.Sprintf("extension %s (code %d) payload has trailing bytes", ext.typName, code)}
		}
		value, err := ext.decode(intermediate)
		if err != nil {
			return nil, nil, fmt.Errorf("codec: decode extension %s (code %d): %w", ext.typName, code, err)
		}
		return value, remainder, nil
	default:
		return nil, nil, &SerializationError{Reason: fmt.Sprintf("unknown wire tag %d", tag)}
	}
}

func appendUvarint(buf []byte, n uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	w := binary.PutUvarint(tmp[:], n)
	return append(buf, tmp[:w]...)
}

func readUvarint(data []byte) (uint64, []byte, error) {
	n, w := binary.Uvarint(data)
	if w <= 0 {
		return 0, nil, &SerializationError{Reason: "invalid varint length prefix"}
	}
	return n, data[w:], nil
}
