//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a WAL-mode SQLite MetadataStore, using the
// pure-Go modernc.org/sqlite driver so the binary stays cgo-free.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"trpc.group/trpc-go/trpc-memo-go/storage"
)

const (
	createTable = `CREATE TABLE IF NOT EXISTS cache_records (
		cache_key TEXT PRIMARY KEY,
		func_name TEXT NOT NULL,
		input_id TEXT NOT NULL,
		version TEXT NOT NULL,
		result_type TEXT NOT NULL,
		content_type TEXT,
		result_value TEXT,
		result_data BLOB,
		updated_at INTEGER NOT NULL
	)`
	createIndex = `CREATE INDEX IF NOT EXISTS idx_cache_records_updated_at ON cache_records (updated_at)`

	upsert = `INSERT INTO cache_records (
		cache_key, func_name, input_id, version, result_type, content_type, result_value, result_data, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(cache_key) DO UPDATE SET
		func_name=excluded.func_name, input_id=excluded.input_id, version=excluded.version,
		result_type=excluded.result_type, content_type=excluded.content_type,
		result_value=excluded.result_value, result_data=excluded.result_data,
		updated_at=excluded.updated_at`

	selectOne = `SELECT cache_key, func_name, input_id, version, result_type, content_type,
		result_value, result_data, updated_at FROM cache_records WHERE cache_key = ?`

	deleteOne = `DELETE FROM cache_records WHERE cache_key = ?`

	selectHistory = `SELECT cache_key, func_name, input_id, version, result_type, content_type,
		result_value, result_data, updated_at FROM cache_records ORDER BY updated_at DESC LIMIT ?`
)

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file path (or ":memory:").
	Path string
	// BusyTimeout bounds how long a writer waits on SQLITE_BUSY.
	BusyTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a local on-disk database.
func DefaultConfig(path string) Config {
	return Config{Path: path, BusyTimeout: 5 * time.Second}
}

// Store is a SQLite-backed MetadataStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at cfg.Path in
// WAL mode and returns a Store ready for InitSchema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("metadata/sqlite: open %s: %w", cfg.Path, err)
	}
	// A single connection avoids SQLITE_BUSY storms under WAL; it
	// serializes every statement through this Store, reads included.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("metadata/sqlite: apply %q: %w", p, err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema idempotently creates the cache_records table and its index,
// then probes the table for any columns added to the schema after the
// table was first created and adds them in place. Existing rows are left
// alone: a probed-in column reads back NULL/empty until next written,
// and no column is ever dropped.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("metadata/sqlite: create table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createIndex); err != nil {
		return fmt.Errorf("metadata/sqlite: create index: %w", err)
	}
	if err := s.migrateColumns(ctx); err != nil {
		return fmt.Errorf("metadata/sqlite: migrate columns: %w", err)
	}
	return nil
}

// evolvingColumns lists columns introduced after cache_records' original
// shape, in the order they should be appended if missing. content_type
// and result_data back the codec's content-type/binary-result-data
// additions; a store initialized before those existed needs them added
// in place rather than requiring a fresh table.
var evolvingColumns = []struct {
	name string
	ddl  string
}{
	{"content_type", "ALTER TABLE cache_records ADD COLUMN content_type TEXT"},
	{"result_data", "ALTER TABLE cache_records ADD COLUMN result_data BLOB"},
}

// migrateColumns probes cache_records' actual columns via PRAGMA
// table_info and adds any of evolvingColumns that are missing. A table
// created by createTable already has every column, so this is a no-op
// on a fresh database; it only does work against a table left behind by
// an older schema version.
func (s *Store) migrateColumns(ctx context.Context) error {
	existing, err := s.tableColumns(ctx)
	if err != nil {
		return err
	}
	for _, col := range evolvingColumns {
		if existing[col.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

// tableColumns returns the set of column names PRAGMA table_info reports
// for cache_records.
func (s *Store) tableColumns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(cache_records)`)
	if err != nil {
		return nil, fmt.Errorf("pragma table_info: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("scan table_info row: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table_info iteration: %w", err)
	}
	return cols, nil
}

// Get returns the record for cacheKey, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, cacheKey string) (*storage.CacheRecord, error) {
	row := s.db.QueryRowContext(ctx, selectOne, cacheKey)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata/sqlite: get %s: %w", cacheKey, err)
	}
	return rec, nil
}

// Put upserts rec.
func (s *Store) Put(ctx context.Context, rec *storage.CacheRecord) error {
	_, err := s.db.ExecContext(ctx, upsert,
		rec.CacheKey, rec.FuncName, rec.InputID, rec.Version, string(rec.ResultType),
		rec.ContentType, rec.ResultValue, rec.ResultData, rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("metadata/sqlite: put %s: %w", rec.CacheKey, err)
	}
	return nil
}

// Delete removes the record for cacheKey; missing keys are a no-op.
func (s *Store) Delete(ctx context.Context, cacheKey string) error {
	if _, err := s.db.ExecContext(ctx, deleteOne, cacheKey); err != nil {
		return fmt.Errorf("metadata/sqlite: delete %s: %w", cacheKey, err)
	}
	return nil
}

// History returns up to limit records, most-recently-updated first.
func (s *Store) History(ctx context.Context, limit int) ([]*storage.CacheRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectHistory, limit)
	if err != nil {
		return nil, fmt.Errorf("metadata/sqlite: history: %w", err)
	}
	defer rows.Close()

	var out []*storage.CacheRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("metadata/sqlite: scan history row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata/sqlite: history iteration: %w", err)
	}
	return out, nil
}

// scanner abstracts over *sql.Row and *sql.Rows, both of which expose
// Scan with the same signature.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*storage.CacheRecord, error) {
	var (
		rec         storage.CacheRecord
		resultType  string
		updatedNano int64
	)
	if err := s.Scan(
		&rec.CacheKey, &rec.FuncName, &rec.InputID, &rec.Version, &resultType,
		&rec.ContentType, &rec.ResultValue, &rec.ResultData, &updatedNano,
	); err != nil {
		return nil, err
	}
	rec.ResultType = storage.ResultType(resultType)
	rec.UpdatedAt = time.Unix(0, updatedNano)
	return &rec, nil
}
