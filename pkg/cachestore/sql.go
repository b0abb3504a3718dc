package cachestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/lib/pq"
)

var (
	// ErrPingFailed is returned if the initial ping to the database fails
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed schema/sqlite.sql
	schemaSQLite string
	//go:embed schema/postgres.sql
	schemaPostgres string
)

const (
	queryOpen      = `INSERT INTO cache_names (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`
	queryHas       = `SELECT 1 FROM cache_names WHERE name = ?`
	queryNames     = `SELECT name FROM cache_names ORDER BY created_at, name`
	queryDropNames = `DELETE FROM cache_names WHERE name = ?`
	queryDropCache = `DELETE FROM cache_entries WHERE cache_name = ?`
	queryMatchAny  = `SELECT n.name, e.entry FROM cache_entries e JOIN cache_names n ON n.name = e.cache_name WHERE e.request_key = ? ORDER BY n.created_at, n.name LIMIT 1`
	queryMatch     = `SELECT entry FROM cache_entries WHERE cache_name = ? AND request_key = ?`
	queryPut       = `INSERT INTO cache_entries (cache_name, request_key, entry) VALUES (?, ?, ?) ON CONFLICT (cache_name, request_key) DO UPDATE SET entry = excluded.entry`
	queryDeleteOne = `DELETE FROM cache_entries WHERE cache_name = ? AND request_key = ?`
	queryEntryKeys = `SELECT request_key FROM cache_entries WHERE cache_name = ? ORDER BY request_key`
)

// SQLStorage stores generations in a SQL database (SQLite or Postgres).
type SQLStorage struct {
	db      *sql.DB
	backend string
	rebind  func(string) string
	now     func() time.Time
}

type sqlCache struct {
	s    *SQLStorage
	name string
}

// NewSQLiteStorage opens (or creates) the SQLite database at path.
func NewSQLiteStorage(ctx context.Context, path string) (*SQLStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single connection: SQLite serializes writers anyway and this avoids
	// "database is locked" between pooled connections
	db.SetMaxOpenConns(1)

	s, err := newSQLStorage(ctx, db, "sqlite", schemaSQLite, func(q string) string { return q })
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStorage uses db, which must be opened with the "postgres" driver.
func NewPostgresStorage(ctx context.Context, db *sql.DB) (*SQLStorage, error) {
	return newSQLStorage(ctx, db, "postgres", schemaPostgres, rebindDollar)
}

// OpenPostgresStorage opens dsn with lib/pq and prepares the schema.
func OpenPostgresStorage(ctx context.Context, dsn string) (*SQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := NewPostgresStorage(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLStorage(ctx context.Context, db *sql.DB, backend, schema string, rebind func(string) string) (*SQLStorage, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create %s schema: %w", backend, err)
		}
	}
	return &SQLStorage{
		db:      db,
		backend: backend,
		rebind:  rebind,
		now:     time.Now,
	}, nil
}

// rebindDollar rewrites ? placeholders to $1..$n.
func rebindDollar(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Open returns the named cache, registering it if needed.
func (s *SQLStorage) Open(ctx context.Context, name string) (Cache, error) {
	if _, err := s.db.ExecContext(ctx, s.rebind(queryOpen), name, s.now().UnixNano()); err != nil {
		return nil, observe(s.backend, "open", fmt.Errorf("register cache %q: %w", name, err))
	}
	return &sqlCache{s: s, name: name}, nil
}

// Has reports whether the named cache exists.
func (s *SQLStorage) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(queryHas), name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, observe(s.backend, "has", fmt.Errorf("lookup cache %q: %w", name, err))
	}
	return true, nil
}

// Delete removes the named cache and its entries in one transaction.
func (s *SQLStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, observe(s.backend, "delete", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(queryDropCache), name); err != nil {
		return false, observe(s.backend, "delete", fmt.Errorf("delete entries of %q: %w", name, err))
	}
	res, err := tx.ExecContext(ctx, s.rebind(queryDropNames), name)
	if err != nil {
		return false, observe(s.backend, "delete", fmt.Errorf("delete cache %q: %w", name, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, observe(s.backend, "delete", err)
	}
	if err := tx.Commit(); err != nil {
		return false, observe(s.backend, "delete", fmt.Errorf("commit: %w", err))
	}
	return n > 0, nil
}

// Keys lists cache names in creation order.
func (s *SQLStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryNames)
	if err != nil {
		return nil, observe(s.backend, "keys", fmt.Errorf("list caches: %w", err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, observe(s.backend, "keys", err)
		}
		names = append(names, name)
	}
	return names, observe(s.backend, "keys", rows.Err())
}

// Match returns the first entry for key across all caches.
func (s *SQLStorage) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	var name string
	var data []byte
	err := s.db.QueryRowContext(ctx, s.rebind(queryMatchAny), key.String()).Scan(&name, &data)
	if errors.Is(err, sql.ErrNoRows) {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, observe(s.backend, "match", fmt.Errorf("match %s: %w", key, err))
	}
	entry, err := decodeEntry(data)
	if err != nil {
		return nil, observe(s.backend, "match", err)
	}
	CacheHits.WithLabelValues(name).Inc()
	return entry, nil
}

// Close closes the underlying database.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (c *sqlCache) Name() string {
	return c.name
}

func (c *sqlCache) Match(ctx context.Context, key RequestKey) (*Entry, error) {
	var data []byte
	err := c.s.db.QueryRowContext(ctx, c.s.rebind(queryMatch), c.name, key.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, observe(c.s.backend, "match", fmt.Errorf("match %s in %q: %w", key, c.name, err))
	}
	entry, err := decodeEntry(data)
	return entry, observe(c.s.backend, "match", err)
}

func (c *sqlCache) Put(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return observe(c.s.backend, "put", fmt.Errorf("marshal cache entry: %w", err))
	}
	if _, err := c.s.db.ExecContext(ctx, c.s.rebind(queryPut), c.name, entry.Key().String(), data); err != nil {
		return observe(c.s.backend, "put", fmt.Errorf("put %s in %q: %w", entry.Key(), c.name, err))
	}
	CacheWrites.WithLabelValues(c.name).Inc()
	return nil
}

func (c *sqlCache) PutAll(ctx context.Context, entries []*Entry) error {
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return observe(c.s.backend, "put_all", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, c.s.rebind(queryPut))
	if err != nil {
		return observe(c.s.backend, "put_all", fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return observe(c.s.backend, "put_all", fmt.Errorf("marshal cache entry: %w", err))
		}
		if _, err := stmt.ExecContext(ctx, c.name, entry.Key().String(), data); err != nil {
			return observe(c.s.backend, "put_all", fmt.Errorf("put %s in %q: %w", entry.Key(), c.name, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return observe(c.s.backend, "put_all", fmt.Errorf("commit: %w", err))
	}
	CacheWrites.WithLabelValues(c.name).Add(float64(len(entries)))
	return nil
}

func (c *sqlCache) Delete(ctx context.Context, key RequestKey) (bool, error) {
	res, err := c.s.db.ExecContext(ctx, c.s.rebind(queryDeleteOne), c.name, key.String())
	if err != nil {
		return false, observe(c.s.backend, "delete_entry", fmt.Errorf("delete %s in %q: %w", key, c.name, err))
	}
	n, err := res.RowsAffected()
	return n > 0, observe(c.s.backend, "delete_entry", err)
}

func (c *sqlCache) Keys(ctx context.Context) ([]RequestKey, error) {
	rows, err := c.s.db.QueryContext(ctx, c.s.rebind(queryEntryKeys), c.name)
	if err != nil {
		return nil, observe(c.s.backend, "entry_keys", fmt.Errorf("list entries of %q: %w", c.name, err))
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, observe(c.s.backend, "entry_keys", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, observe(c.s.backend, "entry_keys", err)
	}
	return parseKeys(fields)
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}
