// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/goguma-chat/peerlink/lib/sqlitepool"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a single-table key-value store. The CLI uses it for
// snapshots that must survive restarts on machines where a loose file
// tree is undesirable.
type SQLiteStore struct {
	pool *sqlitepool.Pool
}

// OpenSQLiteStore opens (creating if needed) the database at path and
// ensures the kv table exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: path,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, `
				CREATE TABLE IF NOT EXISTS kv (
					key   TEXT PRIMARY KEY,
					value BLOB NOT NULL
				)`, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return &SQLiteStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func (s *SQLiteStore) Get(key string) ([]byte, bool, error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return nil, false, fmt.Errorf("storage: %w", err)
	}
	defer s.pool.Put(conn)

	var value []byte
	found := false
	err = sqlitex.Execute(conn, `SELECT value FROM kv WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			return nil
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("storage: reading %q: %w", key, err)
	}
	return value, found, nil
}

func (s *SQLiteStore) Set(key string, value []byte) error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("storage: writing %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM kv WHERE key = ?`,
		&sqlitex.ExecOptions{Args: []any{key}})
	if err != nil {
		return fmt.Errorf("storage: deleting %q: %w", key, err)
	}
	return nil
}
