//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package storage defines the storage-facing contracts used by the
// memoization pipeline: a MetadataStore for small cache records and a
// BlobStore for the (optionally large) serialized results those records
// reference. Concrete backends live in storage/metadata and
// storage/blob; this package only fixes the shapes they implement.
package storage

import (
	"context"
	"errors"
	"time"
)

// ResultType distinguishes where a CacheRecord's payload lives.
type ResultType string

const (
	// ResultDirectBlob means ResultData holds the serialized payload
	// inline in the metadata record.
	ResultDirectBlob ResultType = "DIRECT_BLOB"
	// ResultFile means the serialized payload was written to a BlobStore
	// and ResultValue holds the claim-check location string.
	ResultFile ResultType = "FILE"
)

// CacheRecord is the metadata row persisted for one memoized call.
type CacheRecord struct {
	// CacheKey is the 32-byte SHA-256 digest identifying the call, hex
	// encoded.
	CacheKey string
	// FuncName identifies the memoized function.
	FuncName string
	// InputID is a short, human-debuggable fingerprint of the call's
	// canonical seed (not used for lookups, only diagnostics).
	InputID string
	// Version is the caller-declared cache version; bumping it changes
	// CacheKey for otherwise-identical calls.
	Version string
	// ResultType selects how ResultValue/ResultData should be
	// interpreted.
	ResultType ResultType
	// ContentType is an optional caller-supplied MIME-ish hint.
	ContentType string
	// ResultValue holds the BlobStore claim-check location when
	// ResultType is ResultFile; empty for ResultDirectBlob.
	ResultValue string
	// ResultData holds the serialized payload inline when ResultType is
	// ResultDirectBlob; nil for ResultFile.
	ResultData []byte
	// UpdatedAt is when this record was last written.
	UpdatedAt time.Time
}

// ErrNotFound is returned by BlobStore.Get when the location does not
// exist. MetadataStore.Get reports a missing record with a nil
// *CacheRecord and a nil error instead, per the contract below.
var ErrNotFound = errors.New("storage: not found")

// MetadataStore persists CacheRecords. Implementations must be safe for
// concurrent reads and writes and must serialize concurrent writes to
// the same key (e.g. WAL-mode SQLite, row-level locking Postgres, atomic
// Redis commands).
type MetadataStore interface {
	// InitSchema idempotently creates or migrates whatever the backend
	// needs. Safe to call on every startup.
	InitSchema(ctx context.Context) error
	// Get returns the record for cacheKey, or (nil, nil) if absent.
	Get(ctx context.Context, cacheKey string) (*CacheRecord, error)
	// Put upserts rec.
	Put(ctx context.Context, rec *CacheRecord) error
	// Delete removes the record for cacheKey. Idempotent: a missing key
	// is not an error.
	Delete(ctx context.Context, cacheKey string) error
	// History returns up to limit records, best-effort recent-first.
	History(ctx context.Context, limit int) ([]*CacheRecord, error)
}

// BlobStore persists large serialized payloads out of line from
// metadata, addressed by an opaque claim-check location string.
type BlobStore interface {
	// Put writes data under key and returns the location string to
	// store in the owning CacheRecord.
	Put(ctx context.Context, key string, data []byte) (location string, err error)
	// Get reads back the bytes at location. Returns ErrNotFound if the
	// blob does not exist.
	Get(ctx context.Context, location string) ([]byte, error)
	// Delete removes the blob at location. Idempotent: a missing blob is
	// not an error.
	Delete(ctx context.Context, location string) error
}
