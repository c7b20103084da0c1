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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-memo-go/codec"
	"trpc.group/trpc-go/trpc-memo-go/keypolicy"
	"trpc.group/trpc-go/trpc-memo-go/storage"
	"trpc.group/trpc-go/trpc-memo-go/storage/metadata/inmemory"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	core, err := New("test", WithMetadataStore(inmemory.New()))
	require.NoError(t, err)
	t.Cleanup(core.Close)
	return core
}

// TestInvoke_BasicHit covers end-to-end scenario 1 and property 1
// (idempotence of the hit path): a deterministic function executes
// exactly once across two identical calls.
func TestInvoke_BasicHit(t *testing.T) {
	core := newTestCore(t)
	var calls int32

	ref := FuncRef{
		Name:       "double_len",
		ParamNames: []string{"s"},
		Fn: func(ctx context.Context, args []any) (any, error) {
			atomic.AddInt32(&calls, 1)
			s := args[0].(string)
			return int64(len(s) * 2), nil
		},
	}

	v1, err := core.Invoke(context.Background(), ref, []any{"hello"}, CallConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), v1)

	v2, err := core.Invoke(context.Background(), ref, []any{"hello"}, CallConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestInvoke_IgnoredParameter covers end-to-end scenario 2: a policy
// that drops "verbose" makes two otherwise-distinct calls collide.
func TestInvoke_IgnoredParameter(t *testing.T) {
	core := newTestCore(t)
	var calls int32

	ref := FuncRef{
		Name:       "compute",
		ParamNames: []string{"data", "verbose"},
		Policy:     keypolicy.Ignore("verbose"),
		Fn: func(ctx context.Context, args []any) (any, error) {
			atomic.AddInt32(&calls, 1)
			return args[0], nil
		},
	}

	_, err := core.Invoke(context.Background(), ref, []any{int64(5), true}, CallConfig{})
	require.NoError(t, err)
	_, err = core.Invoke(context.Background(), ref, []any{int64(5), false}, CallConfig{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestInvoke_VersionIsolation covers property 4: bumping version
// changes the cache key, so a prior record is not observed.
func TestInvoke_VersionIsolation(t *testing.T) {
	core := newTestCore(t)
	var calls int32

	ref := FuncRef{
		Name:       "f",
		ParamNames: []string{"x"},
		Fn: func(ctx context.Context, args []any) (any, error) {
			atomic.AddInt32(&calls, 1)
			return args[0], nil
		},
	}

	_, err := core.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{Version: "v1"})
	require.NoError(t, err)
	_, err = core.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{Version: "v2"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestInvoke_FailureNotCached covers property 5: a function that fails
// then succeeds is re-executed and the success is cached.
func TestInvoke_FailureNotCached(t *testing.T) {
	core := newTestCore(t)
	var calls int32

	ref := FuncRef{
		Name:       "flaky",
		ParamNames: []string{"x"},
		Fn: func(ctx context.Context, args []any) (any, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return nil, assertErr("boom")
			}
			return int64(42), nil
		},
	}

	_, err := core.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{})
	require.Error(t, err)

	v, err := core.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// A third call must still be a hit: the success from call 2 was
	// cached, not re-executed.
	v3, err := core.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestInvoke_CorruptionRecovery covers property 6 and end-to-end
// scenario 5: mutating a stored record's bytes causes the next call to
// re-execute and overwrite the record, with no exception escaping.
func TestInvoke_CorruptionRecovery(t *testing.T) {
	meta := inmemory.New()
	core, err := New("test", WithMetadataStore(meta))
	require.NoError(t, err)
	defer core.Close()
	var calls int32

	ref := FuncRef{
		Name:       "f",
		ParamNames: []string{"x"},
		Fn: func(ctx context.Context, args []any) (any, error) {
			atomic.AddInt32(&calls, 1)
			return int64(99), nil
		},
	}

	v, err := core.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(99), v)

	cacheKey, _, err := core.deriveKey(context.Background(), ref, []any{int64(1)}, CallConfig{})
	require.NoError(t, err)

	rec, err := meta.Get(context.Background(), cacheKey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotEmpty(t, rec.ResultData)
	rec.ResultData[0] ^= 0xFF
	require.NoError(t, meta.Put(context.Background(), rec))

	v2, err := core.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(99), v2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestInvoke_CustomTypeRoundTrip covers end-to-end scenario 4: a
// registered extension round-trips through a fresh Core sharing the
// registry.
func TestInvoke_CustomTypeRoundTrip(t *testing.T) {
	type obj struct{ V int64 }

	meta := inmemory.New()
	registry := codec.NewTypeRegistry()
	require.NoError(t, registry.Register(obj{}, 10, func(v any) (any, error) {
		return map[string]any{"v": v.(obj).V}, nil
	}, func(intermediate any) (any, error) {
		m := intermediate.(map[string]any)
		return obj{V: m["v"].(int64)}, nil
	}))

	core, err := New("test", WithMetadataStore(meta), WithTypeRegistry(registry))
	require.NoError(t, err)
	defer core.Close()

	ref := FuncRef{
		Name:       "make",
		ParamNames: []string{"x"},
		Fn: func(ctx context.Context, args []any) (any, error) {
			return obj{V: 7}, nil
		},
	}
	_, err = core.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{})
	require.NoError(t, err)

	fresh, err := New("test2", WithMetadataStore(meta), WithTypeRegistry(registry))
	require.NoError(t, err)
	defer fresh.Close()

	v, err := fresh.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{})
	require.NoError(t, err)
	assert.Equal(t, obj{V: 7}, v)
}

// TestInvoke_SaveBlobRoutesToBlobStore exercises the FILE persistence
// path and its deletion.
func TestInvoke_SaveBlobRoutesToBlobStore(t *testing.T) {
	meta := inmemory.New()
	blobs := newFakeBlobStore()
	core, err := New("test", WithMetadataStore(meta), WithBlobStore(blobs))
	require.NoError(t, err)
	defer core.Close()

	ref := FuncRef{
		Name:       "f",
		ParamNames: []string{"x"},
		Fn: func(ctx context.Context, args []any) (any, error) {
			return "payload", nil
		},
	}
	v, err := core.Invoke(context.Background(), ref, []any{int64(1)}, CallConfig{SaveBlob: true})
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
	assert.Equal(t, 1, blobs.putCount())

	cacheKey, _, err := core.deriveKey(context.Background(), ref, []any{int64(1)}, CallConfig{SaveBlob: true})
	require.NoError(t, err)
	require.NoError(t, core.Delete(context.Background(), cacheKey))
	assert.Equal(t, 0, blobs.size())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

// fakeBlobStore is a minimal in-memory storage.BlobStore for tests that
// need to observe Put/Delete traffic without a real backend.
type fakeBlobStore struct {
	data map[string][]byte
	puts int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	f.puts++
	f.data[key] = append([]byte(nil), data...)
	return key, nil
}

func (f *fakeBlobStore) Get(ctx context.Context, location string) ([]byte, error) {
	data, ok := f.data[location]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, location string) error {
	delete(f.data, location)
	return nil
}

func (f *fakeBlobStore) putCount() int { return f.puts }
func (f *fakeBlobStore) size() int     { return len(f.data) }
