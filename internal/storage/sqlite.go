package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/gutengo/gutengo/internal/rdf"
)

// SQLiteURIPrefix is the connection-string prefix for the relational
// backend. The local file path follows the prefix.
const SQLiteURIPrefix = "sqlite:///"

// SQLiteBackend stores the graph in a SQLite file. Slower than the
// embedded backend but pure Go, so it works everywhere.
type SQLiteBackend struct {
	uri  string
	path string
}

// NewSQLiteBackend returns a backend for the given location, which may
// be a sqlite:/// URI or a bare file path.
func NewSQLiteBackend(location string) *SQLiteBackend {
	uri := location
	if !strings.HasPrefix(uri, SQLiteURIPrefix) {
		uri = SQLiteURIPrefix + location
	}
	return &SQLiteBackend{
		uri:  uri,
		path: strings.TrimPrefix(uri, SQLiteURIPrefix),
	}
}

func (b *SQLiteBackend) Kind() string      { return KindSQLite }
func (b *SQLiteBackend) URI() string       { return b.uri }
func (b *SQLiteBackend) LocalPath() string { return b.path }
func (b *SQLiteBackend) Removable() bool   { return true }

// Create makes the directory that will contain the database file.
func (b *SQLiteBackend) Create(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create sqlite store: %w", err)
	}
	return nil
}

// Open opens the database file. Without create, the file must already
// exist and contain the triples table; the sqlite driver happily creates
// missing files, so the checks here are what reject absent or truncated
// stores.
func (b *SQLiteBackend) Open(ctx context.Context, create bool) (Graph, error) {
	if !create {
		if _, err := os.Stat(b.path); err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
	}

	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %q: %w", b.path, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if create {
		schema := `
		CREATE TABLE IF NOT EXISTS triples (
			subject   TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object    TEXT NOT NULL,
			PRIMARY KEY (subject, predicate, object)
		) WITHOUT ROWID;
		CREATE INDEX IF NOT EXISTS triples_po ON triples (predicate, object);
		CREATE INDEX IF NOT EXISTS triples_o ON triples (object);
		CREATE TABLE IF NOT EXISTS namespaces (
			prefix TEXT PRIMARY KEY,
			iri    TEXT NOT NULL
		);`
		if _, err := db.ExecContext(ctx, schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	} else {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'triples'",
		).Scan(&name)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open sqlite store %q: not a metadata store: %w", b.path, err)
		}
	}

	return &sqliteGraph{db: db}, nil
}

// Remove deletes the database file along with any WAL leftovers.
// Removing a store that does not exist is a no-op.
func (b *SQLiteBackend) Remove() error {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sqlite store: %w", err)
	}
	os.Remove(b.path + "-wal")
	os.Remove(b.path + "-shm")
	return nil
}

// RejectsTriple imposes no restrictions beyond the shared validation
// rules.
func (b *SQLiteBackend) RejectsTriple(rdf.Triple) bool { return false }

type sqliteGraph struct {
	db *sql.DB
}

func (g *sqliteGraph) Add(ctx context.Context, triples ...rdf.Triple) error {
	if len(triples) == 0 {
		return nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add triples: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO triples (subject, predicate, object) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("add triples: %w", err)
	}
	defer stmt.Close()

	for _, t := range triples {
		_, err := stmt.ExecContext(ctx,
			rdf.EncodeTerm(t.Subject), rdf.EncodeTerm(t.Predicate), rdf.EncodeTerm(t.Object))
		if err != nil {
			return fmt.Errorf("add triple %s: %w", t, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add triples: %w", err)
	}
	return nil
}

func (g *sqliteGraph) Match(ctx context.Context, s, p, o *rdf.Term) ([]rdf.Triple, error) {
	query := "SELECT subject, predicate, object FROM triples"
	var conds []string
	var args []any
	if s != nil {
		conds = append(conds, "subject = ?")
		args = append(args, rdf.EncodeTerm(*s))
	}
	if p != nil {
		conds = append(conds, "predicate = ?")
		args = append(args, rdf.EncodeTerm(*p))
	}
	if o != nil {
		conds = append(conds, "object = ?")
		args = append(args, rdf.EncodeTerm(*o))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("match triples: %w", err)
	}
	defer rows.Close()

	var out []rdf.Triple
	for rows.Next() {
		var rawS, rawP, rawO string
		if err := rows.Scan(&rawS, &rawP, &rawO); err != nil {
			return nil, err
		}
		t, err := decodeRow(rawS, rawP, rawO)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func decodeRow(rawS, rawP, rawO string) (rdf.Triple, error) {
	s, err := rdf.DecodeTerm(rawS)
	if err != nil {
		return rdf.Triple{}, fmt.Errorf("malformed row: %w", err)
	}
	p, err := rdf.DecodeTerm(rawP)
	if err != nil {
		return rdf.Triple{}, fmt.Errorf("malformed row: %w", err)
	}
	o, err := rdf.DecodeTerm(rawO)
	if err != nil {
		return rdf.Triple{}, fmt.Errorf("malformed row: %w", err)
	}
	return rdf.Triple{Subject: s, Predicate: p, Object: o}, nil
}

func (g *sqliteGraph) Bind(ctx context.Context, prefix, iri string) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO namespaces (prefix, iri) VALUES (?, ?)
		ON CONFLICT(prefix) DO UPDATE SET iri = excluded.iri`,
		prefix, iri)
	if err != nil {
		return fmt.Errorf("bind %q: %w", prefix, err)
	}
	return nil
}

func (g *sqliteGraph) Count(ctx context.Context) (int, error) {
	var count int
	err := g.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM triples").Scan(&count)
	return count, err
}

func (g *sqliteGraph) Close() error {
	return g.db.Close()
}
