// Package storage provides the persistence layer for the metadata
// catalog graph.
//
// Backend is the primary abstraction: a named triple store selected at
// construction time. Three implementations exist: BoltBackend (embedded
// key-value store, the default), SQLiteBackend (relational file behind a
// sqlite:/// URI), and SPARQLBackend (remote update endpoint with no
// local footprint). Lifecycle policy (when a cache may be created,
// opened, repopulated or deleted) lives above this package; backends
// only expose the storage primitives.
package storage

import (
	"context"
	"errors"

	"github.com/gutengo/gutengo/internal/rdf"
)

// Backend kinds.
const (
	KindBolt   = "bolt"
	KindSQLite = "sqlite"
	KindSPARQL = "sparql"
)

// ErrUnavailable reports that a backend implementation cannot run in
// this environment. It is distinct from an invalid or missing store:
// construction-time fallback logic selects another backend on this
// error and nothing else.
var ErrUnavailable = errors.New("storage backend unavailable")

// Backend is a triple store implementation.
type Backend interface {
	// Kind returns the backend's short name ("bolt", "sqlite", "sparql").
	Kind() string

	// URI returns the connection/location string the backend was
	// constructed with.
	URI() string

	// LocalPath returns the on-disk footprint tied to this store, or ""
	// for backends without one.
	LocalPath() string

	// Removable reports whether the store has a local footprint that
	// Remove can delete.
	Removable() bool

	// Create performs the setup needed before a store can be opened for
	// writing the first time (e.g. creating the containing directory).
	Create(ctx context.Context) error

	// Open opens the store and returns a live graph handle. With create
	// false, opening a store that does not exist or is corrupt fails.
	Open(ctx context.Context, create bool) (Graph, error)

	// Remove deletes the local footprint.
	Remove() error

	// RejectsTriple reports a backend-specific restriction on a triple
	// that would otherwise be inserted.
	RejectsTriple(t rdf.Triple) bool
}

// Graph is an open connection to a backend's triple store.
type Graph interface {
	// Add inserts triples. Duplicate triples are ignored.
	Add(ctx context.Context, triples ...rdf.Triple) error

	// Match returns all triples matching the pattern. A nil component is
	// a wildcard.
	Match(ctx context.Context, s, p, o *rdf.Term) ([]rdf.Triple, error)

	// Bind registers a namespace prefix on the store.
	Bind(ctx context.Context, prefix, iri string) error

	// Count returns the number of stored triples.
	Count(ctx context.Context) (int, error)

	// Close releases the connection.
	Close() error
}

// Wiper is implemented by backends whose data can only be cleared with a
// store-side bulk delete rather than a filesystem removal.
type Wiper interface {
	Wipe(ctx context.Context) error
}
