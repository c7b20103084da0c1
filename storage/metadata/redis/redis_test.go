package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-memo-go/storage"
)

func TestEncodeDecodeHash_RoundTrip(t *testing.T) {
	now := time.Now()
	rec := &storage.CacheRecord{
		CacheKey:    "key1",
		FuncName:    "fetch",
		InputID:     "abc",
		Version:     "v1",
		ResultType:  storage.ResultFile,
		ContentType: "application/json",
		ResultValue: "blobs/abc",
		UpdatedAt:   now,
	}

	hash := encodeHash(rec)
	strHash := make(map[string]string, len(hash))
	for k, v := range hash {
		switch x := v.(type) {
		case string:
			strHash[k] = x
		case []byte:
			strHash[k] = string(x)
		}
	}

	got, err := decodeHash(rec.CacheKey, strHash)
	require.NoError(t, err)
	assert.Equal(t, rec.FuncName, got.FuncName)
	assert.Equal(t, rec.ResultType, got.ResultType)
	assert.Equal(t, rec.ResultValue, got.ResultValue)
	assert.Equal(t, rec.UpdatedAt.UnixNano(), got.UpdatedAt.UnixNano())
}

func TestKey_Namespacing(t *testing.T) {
	s := New(nil, "ns")
	assert.Equal(t, "ns:"+keyPrefix+"abc", s.key("abc"))

	s2 := New(nil, "")
	assert.Equal(t, keyPrefix+"abc", s2.key("abc"))
}

func TestDecodeHash_InvalidTimestamp(t *testing.T) {
	_, err := decodeHash("k", map[string]string{"updated_at": "not-a-number"})
	require.Error(t, err)
}
