// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package prefs is the client's local key/value preference store, backed by
// a single SQLite file.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/pickiss/playerid/internal/xdg"
)

// Well-known keys.
const (
	KeySessionToken = "session_token"
	KeyLoginExists  = "user_login_exists"
)

// MemoryPath opens a private in-memory store, for tests and dry runs.
const MemoryPath = ":memory:"

const schema = `CREATE TABLE IF NOT EXISTS prefs (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Store is a SQLite-backed preference store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, oops.Code("PREFS_OPEN_FAILED").Errorf("prefs path is required")
	}

	dsn := path
	if path != MemoryPath {
		path = filepath.Clean(path)
		if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("PREFS_OPEN_FAILED").With("path", path).Wrap(err)
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, oops.Code("PREFS_OPEN_FAILED").With("path", path).Wrap(err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return oops.Code("PREFS_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// GetString returns the value for key and whether it was set.
func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, oops.Code("PREFS_READ_FAILED").With("key", key).Wrap(err)
	}
	return value, true, nil
}

// SetString stores value under key, replacing any previous value.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	if key == "" {
		return oops.Code("PREFS_WRITE_FAILED").Errorf("key cannot be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
	if err != nil {
		return oops.Code("PREFS_WRITE_FAILED").With("key", key).Wrap(err)
	}
	return nil
}

// GetInt returns the integer stored under key.
func (s *Store) GetInt(ctx context.Context, key string) (int64, bool, error) {
	raw, ok, err := s.GetString(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, oops.Code("PREFS_INVALID_VALUE").With("key", key).Wrap(err)
	}
	return n, true, nil
}

// SetInt stores an integer under key.
func (s *Store) SetInt(ctx context.Context, key string, value int64) error {
	return s.SetString(ctx, key, strconv.FormatInt(value, 10))
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM prefs WHERE key = ?`, key); err != nil {
		return oops.Code("PREFS_WRITE_FAILED").With("key", key).Wrap(err)
	}
	return nil
}
