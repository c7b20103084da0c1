//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory MetadataStore, suitable for
// tests and single-process, non-persistent use.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-memo-go/storage"
)

// Store is an in-memory MetadataStore. Its zero value is not usable;
// construct with New.
type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.CacheRecord
	// order records the sequence in which keys were first inserted
	// (updates do not move a key); History walks it newest-first and then
	// sorts by UpdatedAt.
	order []string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]*storage.CacheRecord)}
}

// InitSchema is a no-op: there is no schema to create.
func (s *Store) InitSchema(ctx context.Context) error {
	return nil
}

// Get returns a copy of the stored record, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, cacheKey string) (*storage.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[cacheKey]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Put upserts rec.
func (s *Store) Put(ctx context.Context, rec *storage.CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if _, exists := s.records[rec.CacheKey]; !exists {
		s.order = append(s.order, rec.CacheKey)
	}
	s.records[rec.CacheKey] = &cp
	return nil
}

// Delete removes the record for cacheKey; missing keys are a no-op.
func (s *Store) Delete(ctx context.Context, cacheKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, cacheKey)
	return nil
}

// History returns up to limit records, most-recently-written first.
func (s *Store) History(ctx context.Context, limit int) ([]*storage.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.CacheRecord, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		rec, ok := s.records[s.order[i]]
		if !ok {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
