package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int
	Y int
}

type fakeArray struct {
	shape []int
	dtype string
	data  []byte
}

func (f fakeArray) Shape() []int  { return f.shape }
func (f fakeArray) DType() string { return f.dtype }
func (f fakeArray) ToBytes() []byte {
	return f.data
}

func TestEqual_MapKeyOrderIrrelevant(t *testing.T) {
	a := map[string]any{"a": 1, "b": 2}
	b := map[string]any{"b": 2, "a": 1}
	eq, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestEqual_SetOrderIrrelevant(t *testing.T) {
	a := Set{1, 2, 3}
	b := Set{3, 1, 2}
	eq, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestEqual_StructFieldOrderIrrelevant(t *testing.T) {
	// Field declaration order is fixed by the Go type, but the canonical
	// form sorts by name regardless, so two instances of the same struct
	// with equal contents must still be equal.
	a := point{X: 1, Y: 2}
	b := point{X: 1, Y: 2}
	eq, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, eq)

	c := point{X: 1, Y: 3}
	eq, err = Equal(a, c)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestNaN_EqualsItself(t *testing.T) {
	eq, err := Equal(math.NaN(), math.NaN())
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestInf_DistinguishedFromFiniteAndFromEachOther(t *testing.T) {
	eq, err := Equal(math.Inf(1), math.Inf(-1))
	require.NoError(t, err)
	assert.False(t, eq)

	eq, err = Equal(math.Inf(1), 1e300)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestArrayLike_SameShapeDTypeBytes_SameKey(t *testing.T) {
	a := fakeArray{shape: []int{2, 3}, dtype: "float32", data: []byte{1, 2, 3, 4}}
	b := fakeArray{shape: []int{2, 3}, dtype: "float32", data: []byte{1, 2, 3, 4}}
	eq, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestArrayLike_DifferingShapeDTypeOrBytes_DifferentKey(t *testing.T) {
	base := fakeArray{shape: []int{2, 3}, dtype: "float32", data: []byte{1, 2, 3, 4}}
	diffShape := fakeArray{shape: []int{3, 2}, dtype: "float32", data: []byte{1, 2, 3, 4}}
	diffDType := fakeArray{shape: []int{2, 3}, dtype: "float64", data: []byte{1, 2, 3, 4}}
	diffBytes := fakeArray{shape: []int{2, 3}, dtype: "float32", data: []byte{1, 2, 3, 5}}

	for _, other := range []fakeArray{diffShape, diffDType, diffBytes} {
		eq, err := Equal(base, other)
		require.NoError(t, err)
		assert.False(t, eq, "expected different key for %+v", other)
	}
}

func TestArrayLike_NoTruncationCollision(t *testing.T) {
	// A naive scheme that only hashed a length-prefixed string coercion of
	// bytes could collide when one array's raw bytes happen to contain the
	// encoding of another array's (shape, dtype) header. Exercise adjacent
	// byte boundaries directly on the raw-byte frame.
	a := fakeArray{shape: []int{4}, dtype: "u8", data: []byte{0, 1, 2, 3}}
	b := fakeArray{shape: []int{2}, dtype: "u8", data: []byte{0, 1}}
	eq, err := Equal(a, b)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestEncode_Deterministic(t *testing.T) {
	v := map[string]any{"x": []any{1, 2, "three"}, "y": Set{"b", "a"}}
	e1, err := Encode(v)
	require.NoError(t, err)
	e2, err := Encode(v)
	require.NoError(t, err)
	assert.Equal(t, e1, e2)
}

func TestEncode_UnsupportedKind(t *testing.T) {
	ch := make(chan int)
	_, err := Encode(ch)
	assert.Error(t, err)
}

func TestEncode_NilAndPointers(t *testing.T) {
	var p *int
	eq, err := Equal(p, nil)
	require.NoError(t, err)
	assert.True(t, eq)

	x := 5
	eq, err = Equal(&x, 5)
	require.NoError(t, err)
	assert.True(t, eq)
}
