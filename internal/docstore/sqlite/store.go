// Package sqlite implements the docstore interface on SQLite, storing each
// document as one JSON row and compiling filters to json_extract expressions.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync/atomic"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/ledgerline/recona/internal/docstore"
)

// Store implements docstore.Store on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

var _ docstore.Store = (*Store)(nil)

// setupWASMCache configures WASM compilation caching to cut SQLite startup
// time on repeated CLI invocations. Falls back to an in-memory cache when the
// filesystem cache cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "recona", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// Open opens (or creates) a document store at path. ":memory:" opens a
// private in-memory store for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	var connStr string
	if path == ":memory:" {
		// Shared in-memory database so pooled connections see the same data.
		// WAL does not work in memory, use DELETE journaling.
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=busy_timeout(30000)"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// In-memory databases are isolated per connection by default; a
		// single connection keeps every query on the same data.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports 1 writer + N readers; cap the pool so writers do not
		// pile up on the write lock.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
	}

	s := &Store{db: db, dbPath: path}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS _collections (name TEXT PRIMARY KEY)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init collection registry: %w", err)
	}
	return s, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.dbPath }

// Close releases the underlying database. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) guard() error {
	if s.closed.Load() {
		return docstore.ErrClosed
	}
	return nil
}

var collNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// tableFor maps a collection name to its backing table. The c_ prefix keeps
// user-supplied names clear of internal tables and SQL keywords.
func tableFor(coll string) (string, error) {
	coll = strings.ToLower(strings.TrimSpace(coll))
	if !collNameRe.MatchString(coll) {
		return "", fmt.Errorf("invalid collection name %q", coll)
	}
	return `"c_` + coll + `"`, nil
}

// EnsureCollection creates the collection's backing table if missing.
func (s *Store) EnsureCollection(ctx context.Context, coll string) error {
	if err := s.guard(); err != nil {
		return err
	}
	table, err := tableFor(coll)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, body TEXT NOT NULL)`, table)); err != nil {
		return wrapErr(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO _collections (name) VALUES (?) ON CONFLICT(name) DO NOTHING`,
		strings.ToLower(strings.TrimSpace(coll)))
	return wrapErr(err)
}

// EnsureIndex creates an index on one document attribute. Unique indexes are
// partial: documents where the attribute is null do not participate, so any
// number of identity-less documents can coexist.
func (s *Store) EnsureIndex(ctx context.Context, coll, field string, unique bool) error {
	if err := s.guard(); err != nil {
		return err
	}
	table, err := tableFor(coll)
	if err != nil {
		return err
	}
	if err := validField(field); err != nil {
		return err
	}
	name := fmt.Sprintf(`"idx_%s_%s"`, strings.ToLower(strings.TrimSpace(coll)), field)
	uniq := ""
	if unique {
		uniq = "UNIQUE "
	}
	stmt := fmt.Sprintf(
		`CREATE %sINDEX IF NOT EXISTS %s ON %s (json_extract(body, '$.%s')) WHERE json_extract(body, '$.%s') IS NOT NULL`,
		uniq, name, table, field, field)
	_, err = s.db.ExecContext(ctx, stmt)
	return wrapErr(err)
}

// Collections lists collection names registered in this store.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM _collections ORDER BY name`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validField guards attribute names interpolated into json_extract paths.
func validField(field string) error {
	if field == docstore.IDField {
		return nil
	}
	if !fieldRe.MatchString(field) {
		return fmt.Errorf("invalid field name %q", field)
	}
	return nil
}
