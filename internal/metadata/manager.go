// Package metadata manages the lifecycle of the persistent catalog
// cache: a queryable triple store populated once from the Project
// Gutenberg catalog dump and kept across process restarts.
//
// A Manager owns one cache instance over one storage backend. The cache
// is durable: it is destroyed only by an explicit Delete or Refresh,
// never on process exit, and Populate refuses to overwrite an existing
// store. Operations against the same store are not safe from multiple
// processes; within a process the Manager serializes them.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gutengo/gutengo/internal/catalog"
	"github.com/gutengo/gutengo/internal/observability"
	"github.com/gutengo/gutengo/internal/rdf"
	"github.com/gutengo/gutengo/internal/storage"
)

const (
	// GraphID identifies the catalog graph. It is constant across
	// backends; every cache instance represents the same logical graph.
	GraphID = "urn:gutenberg:metadata"

	// DefaultCatalogURL serves the full catalog dump.
	DefaultCatalogURL = "http://www.gutenberg.org/cache/epub/feeds/rdf-files.tar.bz2"

	// Progress is logged every this many ingested documents.
	ingestLogEvery = 10000
)

// CacheState describes the lifecycle position of a cache instance.
type CacheState int

const (
	// StateAbsent means no backing store has been created.
	StateAbsent CacheState = iota
	// StateClosed means a store exists but no handle is held.
	StateClosed
	// StateOpen means a live handle is held and queries may be issued.
	StateOpen
)

func (s CacheState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PopulateStats reports what one population run processed.
type PopulateStats struct {
	Documents        int
	DocumentsSkipped int
	Triples          int
	TriplesSkipped   int
	Duration         time.Duration
}

// Manager owns the full lifecycle of one metadata cache instance.
type Manager struct {
	mu      sync.Mutex
	backend storage.Backend
	graph   storage.Graph
	log     *observability.Logger
	metrics *observability.MetricsCollector

	// CatalogSource is the archive location downloaded by Populate.
	// Tests and mirrors may point it at an alternate URL or local file.
	CatalogSource string
}

// NewManager returns a manager over the given backend. A nil logger
// discards log output; a nil collector still records into a private
// one.
func NewManager(backend storage.Backend, log *observability.Logger, metrics *observability.MetricsCollector) *Manager {
	if log == nil {
		log = observability.NewLogger("metadata", io.Discard)
	}
	if metrics == nil {
		metrics = observability.NewMetricsCollector(0)
	}
	return &Manager{
		backend:       backend,
		log:           log,
		metrics:       metrics,
		CatalogSource: DefaultCatalogURL,
	}
}

// Backend returns the storage backend this manager drives.
func (m *Manager) Backend() storage.Backend { return m.backend }

// Metrics returns the manager's metrics collector.
func (m *Manager) Metrics() *observability.MetricsCollector { return m.metrics }

// Graph returns the open graph handle, or nil when the cache is not
// open.
func (m *Manager) Graph() storage.Graph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph
}

// IsOpen reports whether a live handle is held.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph != nil
}

// Exists reports whether the cache's backing store is present. Backends
// with a local footprint are checked on disk; storeless backends are
// probed by opening the remote graph read-only, binding the namespace
// prefixes and checking it holds any data. The probe connection is
// closed before returning.
func (m *Manager) Exists(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsLocked(ctx)
}

func (m *Manager) existsLocked(ctx context.Context) bool {
	if path := m.backend.LocalPath(); path != "" {
		_, err := os.Stat(path)
		return err == nil
	}

	g, err := m.backend.Open(ctx, false)
	if err != nil {
		return false
	}
	defer g.Close()
	if err := bindNamespaces(ctx, g); err != nil {
		return false
	}
	n, err := g.Count(ctx)
	return err == nil && n > 0
}

// State returns the cache's lifecycle state.
func (m *Manager) State(ctx context.Context) CacheState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graph != nil {
		return StateOpen
	}
	if m.existsLocked(ctx) {
		return StateClosed
	}
	return StateAbsent
}

// Open opens an existing cache and binds the namespace prefixes used by
// the query layer. Opening an already open cache is a no-op. Every
// failure mode reports ErrInvalidCache.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.graph != nil {
		return nil
	}

	g, err := m.backend.Open(ctx, false)
	if err != nil {
		m.log.BackendEvent("open_failed", m.backend.Kind(), "error", err.Error())
		return fmt.Errorf("%w: %v", ErrInvalidCache, err)
	}
	if err := bindNamespaces(ctx, g); err != nil {
		g.Close()
		return fmt.Errorf("%w: %v", ErrInvalidCache, err)
	}

	m.graph = g
	m.log.BackendEvent("opened", m.backend.Kind(), "uri", m.backend.URI())
	return nil
}

// Close releases the open handle. Closing a cache that is not open is a
// no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	if m.graph == nil {
		return nil
	}
	err := m.graph.Close()
	m.graph = nil
	return err
}

// Delete closes the cache and removes its backing store. Backends
// without a local footprint fail with ErrCacheNotRemovable; their data
// can only be cleared in place with Wipe.
func (m *Manager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()
	if !m.backend.Removable() {
		return fmt.Errorf("%w: %s backend at %s", ErrCacheNotRemovable, m.backend.Kind(), m.backend.URI())
	}
	if err := m.backend.Remove(); err != nil {
		return err
	}
	m.log.BackendEvent("removed", m.backend.Kind(), "path", m.backend.LocalPath())
	return nil
}

// Wipe clears the cache's data. Backends that support an in-place wipe
// are wiped; all others are deleted. This is the only way to clear a
// storeless backend.
func (m *Manager) Wipe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wipeLocked(ctx)
}

func (m *Manager) wipeLocked(ctx context.Context) error {
	w, ok := m.backend.(storage.Wiper)
	if !ok {
		m.closeLocked()
		if !m.backend.Removable() {
			return fmt.Errorf("%w: %s backend at %s", ErrCacheNotRemovable, m.backend.Kind(), m.backend.URI())
		}
		return m.backend.Remove()
	}

	m.closeLocked()
	if err := w.Wipe(ctx); err != nil {
		return err
	}
	m.log.BackendEvent("wiped", m.backend.Kind(), "uri", m.backend.URI())
	return nil
}

// Populate creates and fills a new cache from the catalog source. The
// cache must not exist yet; a cache is never silently repopulated.
// Invalid triples and malformed documents are logged and skipped, a
// failing download or archive aborts the run. The downloaded archive is
// removed on every exit path.
func (m *Manager) Populate(ctx context.Context) (PopulateStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats PopulateStats
	if m.existsLocked(ctx) {
		return stats, fmt.Errorf("%w: location %s", ErrCacheAlreadyExists, m.backend.URI())
	}

	start := time.Now()

	// 1. Backend-specific setup.
	if err := m.backend.Create(ctx); err != nil {
		return stats, fmt.Errorf("populate: %w", err)
	}

	// 2. Open the store for writing.
	g, err := m.backend.Open(ctx, true)
	if err != nil {
		return stats, fmt.Errorf("populate: %w", err)
	}
	defer g.Close()

	// 3. Download the catalog archive to a temporary file.
	tmp, err := os.CreateTemp("", "gutengo-catalog-*")
	if err != nil {
		return stats, fmt.Errorf("populate: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	m.log.Info("downloading catalog", "source", m.CatalogSource)
	dlStart := time.Now()
	if err := catalog.Fetch(ctx, m.CatalogSource, tmpPath); err != nil {
		return stats, fmt.Errorf("populate: %w", err)
	}
	m.metrics.Record(observability.MetricDownloadMillis,
		float64(time.Since(dlStart).Milliseconds()), nil)

	// 4. Stream documents out of the archive into the graph.
	stats, err = m.ingest(ctx, g, tmpPath)
	if err != nil {
		return stats, fmt.Errorf("populate: %w", err)
	}

	// 5. Close the graph so buffered writes reach the store.
	if err := g.Close(); err != nil {
		return stats, fmt.Errorf("populate: %w", err)
	}

	stats.Duration = time.Since(start)
	m.recordPopulateMetrics(stats)
	m.log.Ingest(stats.Documents, stats.Triples, stats.TriplesSkipped,
		"population complete",
		"documents_skipped", stats.DocumentsSkipped,
		"duration", stats.Duration.String())
	return stats, nil
}

// ingest reads every per-work document from the archive, validates its
// triples and inserts the valid ones. Insertion is batched per
// document.
func (m *Manager) ingest(ctx context.Context, g storage.Graph, archivePath string) (PopulateStats, error) {
	var stats PopulateStats

	ar, err := catalog.NewArchiveReader(archivePath)
	if err != nil {
		return stats, err
	}
	defer ar.Close()

	batch := make([]rdf.Triple, 0, 256)
	for {
		doc, err := ar.Next()
		if err == io.EOF {
			break
		}
		var perr *catalog.ParseError
		if errors.As(err, &perr) {
			// One malformed document does not abort the run.
			stats.DocumentsSkipped++
			m.metrics.Increment("documents_skipped")
			m.log.Warn("skipping malformed document", "entry", perr.Name, "error", perr.Err.Error())
			continue
		}
		if err != nil {
			return stats, err
		}

		batch = batch[:0]
		for _, fact := range doc.Triples {
			if TripleIsInvalid(fact, m.backend) {
				stats.TriplesSkipped++
				m.log.Debug("skipping invalid triple", "triple", fact.String())
				continue
			}
			batch = append(batch, fact)
		}
		if err := g.Add(ctx, batch...); err != nil {
			return stats, err
		}
		stats.Documents++
		stats.Triples += len(batch)

		if stats.Documents%ingestLogEvery == 0 {
			m.log.Ingest(stats.Documents, stats.Triples, stats.TriplesSkipped, "population progress")
		}
	}
	return stats, nil
}

func (m *Manager) recordPopulateMetrics(stats PopulateStats) {
	labels := observability.Labels{"backend": m.backend.Kind()}
	m.metrics.Record(observability.MetricDocuments, float64(stats.Documents), labels)
	m.metrics.Record(observability.MetricDocsSkipped, float64(stats.DocumentsSkipped), labels)
	m.metrics.Record(observability.MetricTriples, float64(stats.Triples), labels)
	m.metrics.Record(observability.MetricTriplesSkipped, float64(stats.TriplesSkipped), labels)
	m.metrics.Record(observability.MetricPopulateMillis, float64(stats.Duration.Milliseconds()), labels)
}

// Refresh deletes the current cache, populates a fresh one from the
// catalog source and opens it. This is the only supported way to pick
// up new upstream data; there is no incremental update. Backends that
// cannot be deleted are wiped in place.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.Exists(ctx) {
		var err error
		if m.backend.Removable() {
			err = m.Delete()
		} else {
			err = m.Wipe(ctx)
		}
		if err != nil {
			return err
		}
	}
	if _, err := m.Populate(ctx); err != nil {
		return err
	}
	return m.Open(ctx)
}

func bindNamespaces(ctx context.Context, g storage.Graph) error {
	if err := g.Bind(ctx, "pgterms", rdf.NSPgterms); err != nil {
		return err
	}
	return g.Bind(ctx, "dcterms", rdf.NSDcterms)
}
