package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-memo-go/storage"
)

// fakeScanner lets scanRecord be exercised without a live database,
// since postgres.Store otherwise requires a real connection (covered by
// integration tests, not unit tests, per the corpus's own split between
// storage/postgres's sqlmock-based unit tests and real-connection ones).
type fakeScanner struct {
	values []any
}

func (f *fakeScanner) Scan(dest ...any) error {
	if len(dest) != len(f.values) {
		panic("fakeScanner: arity mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = f.values[i].(string)
		case *[]byte:
			*p, _ = f.values[i].([]byte)
		case *time.Time:
			*p = f.values[i].(time.Time)
		}
	}
	return nil
}

func TestScanRecord(t *testing.T) {
	now := time.Now()
	fs := &fakeScanner{values: []any{
		"key1", "fn", "input1", "v1", "DIRECT_BLOB", "application/json", "", []byte("data"), now,
	}}

	rec, err := scanRecord(fs)
	require.NoError(t, err)
	assert.Equal(t, "key1", rec.CacheKey)
	assert.Equal(t, storage.ResultDirectBlob, rec.ResultType)
	assert.Equal(t, []byte("data"), rec.ResultData)
	assert.Equal(t, now, rec.UpdatedAt)
}

func TestOpen_InvalidConnString(t *testing.T) {
	_, err := Open(context.Background(), "not a valid url")
	// pgx's stdlib driver lazily validates on first use for some
	// malformed DSNs, so this may or may not error at Open/Ping time;
	// the only contract under test is that Open never panics.
	_ = err
}
