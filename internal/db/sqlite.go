package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// readerConns bounds the read-only connection pool. WAL mode lets these
// proceed concurrently with the single writer.
const readerConns = 4

// openSQLiteWriter opens the write side: one connection, WAL journal,
// foreign keys on. A single writer connection serializes writes and keeps
// SQLITE_BUSY out of the hot path.
func openSQLiteWriter(dbPath string) (*sql.DB, error) {
	path, err := prepareSQLitePath(dbPath)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", sqliteDSN(path, url.Values{
		"_mode":         {"rwc"},
		"_journal_mode": {"WAL"},
		"_synchronous":  {"NORMAL"},
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}

// openSQLiteReader opens the read side. journal_mode and synchronous are
// database-level settings owned by the writer.
func openSQLiteReader(dbPath string) (*sql.DB, error) {
	path := absSQLitePath(dbPath)

	conn, err := sql.Open("sqlite3", sqliteDSN(path, url.Values{
		"_mode": {"ro"},
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	conn.SetMaxOpenConns(readerConns)
	conn.SetMaxIdleConns(readerConns)
	return conn, nil
}

// sqliteDSN assembles a file: DSN with the settings every connection
// shares, plus the per-side extras.
func sqliteDSN(path string, extra url.Values) string {
	q := url.Values{
		"_foreign_keys": {"on"},
		"_busy_timeout": {"5000"},
		"_cache":        {"shared"},
	}
	for k, v := range extra {
		q[k] = v
	}
	return "file:" + path + "?" + q.Encode()
}

// prepareSQLitePath resolves the path and makes sure its directory and
// file exist, so the read-only pool can open before the first write.
func prepareSQLitePath(dbPath string) (string, error) {
	path := absSQLitePath(dbPath)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to prepare database path: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create database file: %w", err)
	}
	return path, f.Close()
}

func absSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	if abs, err := filepath.Abs(dbPath); err == nil {
		return abs
	}
	return dbPath
}
