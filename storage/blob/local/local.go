//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package local provides a filesystem-backed BlobStore. There is no
// ecosystem library in the reference corpus for local-filesystem
// object storage (the corpus's storage backends are all network
// services: COS, Redis, Postgres); this package is stdlib os/io by
// necessity, not by preference — see DESIGN.md.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"trpc.group/trpc-go/trpc-memo-go/storage"
)

// Store persists blobs as files under Root, one file per key. Location
// strings returned by Put are relative paths under Root and are treated
// as opaque by callers.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating dir if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob/local: create root %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Put writes data to a file named after key and returns that file's
// path, relative to Root, as the claim-check location.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	rel := sanitize(key)
	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blob/local: create dir for %s: %w", key, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("blob/local: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", fmt.Errorf("blob/local: finalize %s: %w", key, err)
	}
	return rel, nil
}

// Get reads back the bytes at location.
func (s *Store) Get(ctx context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, location))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob/local: %s: %w", location, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("blob/local: read %s: %w", location, err)
	}
	return data, nil
}

// Delete removes the blob at location; a missing file is not an error.
func (s *Store) Delete(ctx context.Context, location string) error {
	err := os.Remove(filepath.Join(s.root, location))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob/local: delete %s: %w", location, err)
	}
	return nil
}

// sanitize confines key to a path relative to root, stripping any
// leading separators or ".." traversal.
func sanitize(key string) string {
	return filepath.Join(string(filepath.Separator), key)[1:]
}
