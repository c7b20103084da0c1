//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package memo implements the persistent function-result memoization
// pipeline: it canonicalizes a call's arguments, derives a cache key,
// looks the key up in a MetadataStore, executes the user function on a
// miss (subject to a RateLimiter), serializes the result through a
// codec.TypeRegistry, and persists it either inline or via a BlobStore,
// per the routing rules in CallConfig.SaveBlob.
package memo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"trpc.group/trpc-go/trpc-memo-go/canon"
	"trpc.group/trpc-go/trpc-memo-go/codec"
	"trpc.group/trpc-go/trpc-memo-go/keypolicy"
	"trpc.group/trpc-go/trpc-memo-go/log"
	"trpc.group/trpc-go/trpc-memo-go/ratelimit"
	"trpc.group/trpc-go/trpc-memo-go/storage"
	"trpc.group/trpc-go/trpc-memo-go/telemetry"
)

// defaultBlobWarningThreshold is the byte count over which a
// DIRECT_BLOB result triggers a logged warning (still persisted).
const defaultBlobWarningThreshold = 1 << 20 // 1 MiB

// FuncRef identifies one memoizable function: a stable name (part of
// the cache key derivation), the parameter names args are bound to (for
// KeyPolicy), and the function itself.
type FuncRef struct {
	// Name uniquely identifies the function across the MemoCore
	// instance; it participates in the cache key so two functions never
	// collide even with identical arguments.
	Name string
	// ParamNames are bound positionally to Fn's args, by index, for
	// KeyPolicy application.
	ParamNames []string
	// Policy selects which arguments feed the cache key and how. Nil
	// means keypolicy.Default().
	Policy *keypolicy.Policy
	// Fn is the memoized operation.
	Fn func(ctx context.Context, args []any) (any, error)
}

// CallConfig is the per-call configuration accepted by Invoke.
type CallConfig struct {
	// Version isolates this call's cache entries from entries made
	// before Version changed; bump it to invalidate stale results
	// without deleting them.
	Version string
	// SaveBlob routes the serialized result to the BlobStore (true) or
	// stores it inline in the metadata record (false, the default).
	SaveBlob bool
	// ContentType is an optional caller-supplied hint stored alongside
	// the record.
	ContentType string
	// LimiterCost is the admission cost charged to the RateLimiter on a
	// miss. Zero means 1.
	LimiterCost int
	// KeyPolicy, if non-nil, overrides FuncRef.Policy for this call.
	KeyPolicy *keypolicy.Policy
}

// Core is the memoization pipeline. The zero value is not usable;
// construct with New.
type Core struct {
	name                 string
	metadata             storage.MetadataStore
	blobs                storage.BlobStore
	limiter              *ratelimit.Limiter
	registry             *codec.TypeRegistry
	serializer           *codec.Serializer
	executor             Executor
	internalExecutor     *internalExecutor
	blobWarningThreshold int64
	inflight             singleflight.Group
}

// Option configures a Core at construction time.
type Option func(*config)

type config struct {
	metadata             storage.MetadataStore
	blobs                storage.BlobStore
	tpm                  float64
	blobWarningThreshold int64
	executor             Executor
	workerPoolSize       int
	registry             *codec.TypeRegistry
}

// WithMetadataStore injects the metadata backend. Required.
func WithMetadataStore(s storage.MetadataStore) Option {
	return func(c *config) { c.metadata = s }
}

// WithBlobStore injects the blob backend, needed only for calls that
// set CallConfig.SaveBlob.
func WithBlobStore(s storage.BlobStore) Option {
	return func(c *config) { c.blobs = s }
}

// WithRateLimit sets the token budget in cost-units per minute. Omit
// (or pass <= 0) to disable rate limiting entirely.
func WithRateLimit(tpm float64) Option {
	return func(c *config) { c.tpm = tpm }
}

// WithBlobWarningThreshold overrides the byte count over which an
// inline (DIRECT_BLOB) result logs a warning. Default 1 MiB.
func WithBlobWarningThreshold(bytes int64) Option {
	return func(c *config) { c.blobWarningThreshold = bytes }
}

// WithExecutor injects a worker pool Core uses for blob/metadata I/O
// but never shuts down.
func WithExecutor(e Executor) Option {
	return func(c *config) { c.executor = e }
}

// WithWorkerPoolSize asks Core to create and own its own worker pool of
// the given size, shut down via a finalizer when Core (more precisely,
// its internal pool handle) becomes unreachable. Ignored if WithExecutor
// is also supplied.
func WithWorkerPoolSize(n int) Option {
	return func(c *config) { c.workerPoolSize = n }
}

// WithTypeRegistry supplies a pre-populated registry of custom-type
// extensions. Omit to use an empty registry (only primitive atoms are
// then memoizable).
func WithTypeRegistry(r *codec.TypeRegistry) Option {
	return func(c *config) { c.registry = r }
}

// New constructs a Core named name. name is available to callers that
// derive default metadata/blob locations from it; Core itself only
// stores it: it is not part of cache keys, and spans and metrics do not
// carry it.
func New(name string, opts ...Option) (*Core, error) {
	cfg := config{blobWarningThreshold: defaultBlobWarningThreshold, workerPoolSize: 8}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.metadata == nil {
		return nil, fmt.Errorf("memo: WithMetadataStore is required")
	}
	if cfg.registry == nil {
		cfg.registry = codec.NewTypeRegistry()
	}

	core := &Core{
		name:                 name,
		metadata:             cfg.metadata,
		blobs:                cfg.blobs,
		limiter:              ratelimit.New(cfg.tpm),
		registry:             cfg.registry,
		serializer:           codec.NewSerializer(cfg.registry),
		blobWarningThreshold: cfg.blobWarningThreshold,
	}

	if cfg.executor != nil {
		core.executor = cfg.executor
	} else {
		internal, err := newInternalExecutor(cfg.workerPoolSize)
		if err != nil {
			return nil, err
		}
		core.internalExecutor = internal
		core.executor = internal
	}

	ctx := context.Background()
	if err := core.executor.Submit(ctx, func() error {
		return core.metadata.InitSchema(ctx)
	}); err != nil {
		return nil, fmt.Errorf("memo: init schema: %w", err)
	}
	return core, nil
}

// Registry exposes the TypeRegistry backing this Core's serializer, so
// callers can register custom types before the first Invoke.
func (c *Core) Registry() *codec.TypeRegistry {
	return c.registry
}

// Close releases an internally-created worker pool immediately. A no-op
// if the pool was injected via WithExecutor; such pools are never
// closed by Core regardless of whether Close is called.
func (c *Core) Close() {
	if c.internalExecutor != nil {
		c.internalExecutor.Close()
	}
}

// Invoke runs ref(args) under memoization: it is a cache hit if a valid
// record exists for the derived key, otherwise ref executes (after
// rate-limit admission) and the result is persisted before returning.
func (c *Core) Invoke(ctx context.Context, ref FuncRef, args []any, cfg CallConfig) (any, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "memo.invoke")
	defer span.End()
	start := time.Now()
	span.SetAttributes(attribute.String("memo.func_name", ref.Name))

	cacheKey, inputID, err := c.deriveKey(ctx, ref, args, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("memo.cache_key", cacheKey))

	result, hit, err := c.invokeKeyed(ctx, ref, args, cfg, cacheKey, inputID)
	recordInvocation(ctx, ref.Name, hit, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("memo.hit", hit))
	return result, err
}

// invokeKeyed runs the LOOKUP/ADMIT/EXECUTE/SERIALIZE/PERSIST state
// machine for an already-derived cacheKey. Concurrent calls for the
// same cacheKey are coalesced via singleflight so the user function
// runs at most once per outstanding miss, deliberately adding the
// per-key coordination the design notes leave optional.
func (c *Core) invokeKeyed(
	ctx context.Context, ref FuncRef, args []any, cfg CallConfig, cacheKey, inputID string,
) (result any, hit bool, err error) {
	if value, hitLookup, lookupErr := c.lookup(ctx, cacheKey); lookupErr == nil && hitLookup {
		return value, true, nil
	} else if lookupErr != nil {
		// Resilient deserialization: corruption is logged and treated
		// as a miss, never surfaced to the caller.
		log.Warnf("memo: %v", lookupErr)
	}

	v, err, _ := c.inflight.Do(cacheKey, func() (any, error) {
		return c.executeAndPersist(ctx, ref, args, cfg, cacheKey, inputID)
	})
	return v, false, err
}

// lookup returns (value, true, nil) on a valid cache hit, (nil, false,
// nil) on a genuine miss, and (nil, false, err) when the metadata read
// itself fails or the record exists but fails to deserialize (a
// CacheCorruptedError). The caller logs either error and treats the
// call as a miss.
func (c *Core) lookup(ctx context.Context, cacheKey string) (any, bool, error) {
	var (
		rec       *storage.CacheRecord
		data      []byte
		metaErr   error
		blobErr   error
		corrupted error
	)
	if err := c.executor.Submit(ctx, func() error {
		rec, metaErr = c.metadata.Get(ctx, cacheKey)
		if metaErr != nil || rec == nil {
			return metaErr
		}
		data = rec.ResultData
		if rec.ResultType != storage.ResultFile {
			return nil
		}
		if c.blobs == nil {
			corrupted = fmt.Errorf("record references a blob but no BlobStore is configured")
			return nil
		}
		data, blobErr = c.blobs.Get(ctx, rec.ResultValue)
		return nil
	}); err != nil {
		return nil, false, fmt.Errorf("memo: lookup %s: %w", cacheKey, err)
	}
	if metaErr != nil {
		return nil, false, fmt.Errorf("memo: lookup %s: %w", cacheKey, metaErr)
	}
	if rec == nil {
		return nil, false, nil
	}
	if corrupted != nil {
		return nil, false, &CacheCorruptedError{CacheKey: cacheKey, Reason: corrupted}
	}
	if blobErr != nil {
		return nil, false, &CacheCorruptedError{CacheKey: cacheKey, Reason: fmt.Errorf("fetch blob %s: %w", rec.ResultValue, blobErr)}
	}

	value, err := c.serializer.Decode(data)
	if err != nil {
		return nil, false, &CacheCorruptedError{CacheKey: cacheKey, Reason: err}
	}
	return value, true, nil
}

// executeAndPersist implements ADMIT → EXECUTE → SERIALIZE → PERSIST.
// User exceptions (fn errors) propagate unchanged and nothing is
// written: no negative caching.
func (c *Core) executeAndPersist(
	ctx context.Context, ref FuncRef, args []any, cfg CallConfig, cacheKey, inputID string,
) (any, error) {
	cost := cfg.LimiterCost
	if cost <= 0 {
		cost = 1
	}
	if err := c.limiter.Admit(ctx, cost); err != nil {
		return nil, fmt.Errorf("memo: rate limit admission: %w", err)
	}

	value, err := ref.Fn(ctx, args)
	if err != nil {
		return nil, err
	}

	data, err := c.serializer.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("memo: serialize result of %s: %w", ref.Name, err)
	}

	rec := &storage.CacheRecord{
		CacheKey:    cacheKey,
		FuncName:    ref.Name,
		InputID:     inputID,
		Version:     cfg.Version,
		ContentType: cfg.ContentType,
		UpdatedAt:   time.Now(),
	}

	if err := c.persist(ctx, rec, data, cfg.SaveBlob); err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Core) persist(ctx context.Context, rec *storage.CacheRecord, data []byte, saveBlob bool) error {
	if !saveBlob {
		if int64(len(data)) > c.blobWarningThreshold {
			log.Warnf("memo: result for %s is %d bytes, over the %d byte inline threshold; consider SaveBlob=true",
				rec.FuncName, len(data), c.blobWarningThreshold)
		}
		rec.ResultType = storage.ResultDirectBlob
		rec.ResultData = data
		return c.writeRecord(ctx, rec)
	}

	if c.blobs == nil {
		return fmt.Errorf("memo: SaveBlob requested for %s but no BlobStore is configured", rec.FuncName)
	}
	var location string
	if err := c.executor.Submit(ctx, func() error {
		loc, err := c.blobs.Put(ctx, rec.CacheKey, data)
		if err != nil {
			return fmt.Errorf("memo: write blob for %s: %w", rec.FuncName, err)
		}
		location = loc
		return nil
	}); err != nil {
		return err
	}
	rec.ResultType = storage.ResultFile
	rec.ResultValue = location
	return c.writeRecord(ctx, rec)
}

func (c *Core) writeRecord(ctx context.Context, rec *storage.CacheRecord) error {
	return c.executor.Submit(ctx, func() error {
		if err := c.metadata.Put(ctx, rec); err != nil {
			return fmt.Errorf("memo: persist record for %s: %w", rec.FuncName, err)
		}
		return nil
	})
}

// Delete removes the record for cacheKey and, if it referenced a blob,
// attempts to remove that blob too. Blob removal is best-effort:
// missing blobs are not errors and I/O failures are only logged.
func (c *Core) Delete(ctx context.Context, cacheKey string) error {
	var blobCleanupErr error
	err := c.executor.Submit(ctx, func() error {
		rec, err := c.metadata.Get(ctx, cacheKey)
		if err != nil {
			return fmt.Errorf("lookup: %w", err)
		}
		if err := c.metadata.Delete(ctx, cacheKey); err != nil {
			return err
		}
		if rec != nil && rec.ResultType == storage.ResultFile && c.blobs != nil {
			if err := c.blobs.Delete(ctx, rec.ResultValue); err != nil {
				blobCleanupErr = err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("memo: delete %s: %w", cacheKey, err)
	}
	if blobCleanupErr != nil {
		log.Warnf("memo: best-effort blob cleanup for %s failed: %v", cacheKey, blobCleanupErr)
	}
	return nil
}

// History returns up to limit of the most recently updated records,
// delegating to the MetadataStore.
func (c *Core) History(ctx context.Context, limit int) ([]*storage.CacheRecord, error) {
	var recs []*storage.CacheRecord
	if err := c.executor.Submit(ctx, func() error {
		var err error
		recs, err = c.metadata.History(ctx, limit)
		return err
	}); err != nil {
		return nil, err
	}
	return recs, nil
}

// deriveKey computes the canonical seed via ref.Policy, then the cache
// key SHA256(name || 0x00 || seed-bytes || 0x00 || version). inputID is a short
// debugging fingerprint of the seed, independent of the full key.
func (c *Core) deriveKey(ctx context.Context, ref FuncRef, args []any, cfg CallConfig) (cacheKey, inputID string, err error) {
	policy := cfg.KeyPolicy
	if policy == nil {
		policy = ref.Policy
	}
	if policy == nil {
		policy = keypolicy.Default()
	}
	version := cfg.Version
	seed, err := policy.Apply(ctx, ref.ParamNames, args)
	if err != nil {
		return "", "", fmt.Errorf("memo: apply key policy for %s: %w", ref.Name, err)
	}
	seedBytes, err := canon.Encode(seed)
	if err != nil {
		return "", "", fmt.Errorf("memo: canonicalize arguments for %s: %w", ref.Name, err)
	}

	h := sha256.New()
	h.Write([]byte(ref.Name))
	h.Write([]byte{0}) // separator: prevents "ab"+"c" colliding with "a"+"bc"
	h.Write(seedBytes)
	h.Write([]byte{0})
	h.Write([]byte(version))
	digest := h.Sum(nil)

	inputDigest := sha256.Sum256(seedBytes)
	return hex.EncodeToString(digest), hex.EncodeToString(inputDigest[:8]), nil
}
