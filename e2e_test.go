package main_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gutengo/gutengo/internal/cleanup"
	"github.com/gutengo/gutengo/internal/metadata"
	"github.com/gutengo/gutengo/internal/query"
	"github.com/gutengo/gutengo/internal/storage"
	"github.com/gutengo/gutengo/internal/text"
)

// =============================================================================
// End-to-End Integration Tests
//
// These tests verify the full metadata cache lifecycle with mock catalog and
// mirror servers, testing real data flow through all subsystems without any
// external downloads.
// =============================================================================

// Two catalog records shaped like the real per-work RDF files: the ebook
// node with title, creator and language, plus the creator's agent node
// carrying the alias.
const loterijRDF = `<?xml version="1.0" encoding="utf-8"?>
<rdf:RDF xml:base="http://www.gutenberg.org/"
  xmlns:dcterms="http://purl.org/dc/terms/"
  xmlns:pgterms="http://www.gutenberg.org/2009/pgterms/"
  xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <pgterms:ebook rdf:about="ebooks/30929">
    <dcterms:title>Het loterijbriefje</dcterms:title>
    <dcterms:creator rdf:resource="2009/agents/391"/>
    <dcterms:language>
      <rdf:Description>
        <rdf:value>nl</rdf:value>
      </rdf:Description>
    </dcterms:language>
  </pgterms:ebook>
  <pgterms:agent rdf:about="2009/agents/391">
    <pgterms:alias>Mulder, Lodewijk</pgterms:alias>
  </pgterms:agent>
</rdf:RDF>`

const emmaRDF = `<?xml version="1.0" encoding="utf-8"?>
<rdf:RDF xml:base="http://www.gutenberg.org/"
  xmlns:dcterms="http://purl.org/dc/terms/"
  xmlns:pgterms="http://www.gutenberg.org/2009/pgterms/"
  xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <pgterms:ebook rdf:about="ebooks/158">
    <dcterms:title>Emma</dcterms:title>
    <dcterms:creator rdf:resource="2009/agents/68"/>
    <dcterms:language>
      <rdf:Description>
        <rdf:value>en</rdf:value>
      </rdf:Description>
    </dcterms:language>
  </pgterms:ebook>
  <pgterms:agent rdf:about="2009/agents/68">
    <pgterms:alias>Austen, Jane</pgterms:alias>
  </pgterms:agent>
</rdf:RDF>`

// catalogArchive builds a gzip'd tar catalog archive holding one RDF
// document per work, laid out the way the real dump is.
func catalogArchive(t *testing.T, docs map[int]string) []byte {
	t.Helper()

	ids := make([]int, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, id := range ids {
		body := docs[id]
		hdr := &tar.Header{
			Name: fmt.Sprintf("cache/epub/%d/pg%d.rdf", id, id),
			Mode: 0o644,
			Size: int64(len(body)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// mockCatalog serves a catalog archive over HTTP and tracks downloads.
// The archive can be swapped between downloads to simulate an upstream
// catalog update.
type mockCatalog struct {
	mu        sync.Mutex
	archive   []byte
	downloads atomic.Int64
}

func newMockCatalog(t *testing.T, docs map[int]string) (*httptest.Server, *mockCatalog) {
	t.Helper()
	c := &mockCatalog{archive: catalogArchive(t, docs)}
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)
	return srv, c
}

func (c *mockCatalog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.downloads.Add(1)
	c.mu.Lock()
	archive := c.archive
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(archive)
}

func (c *mockCatalog) swap(t *testing.T, docs map[int]string) {
	t.Helper()
	archive := catalogArchive(t, docs)
	c.mu.Lock()
	c.archive = archive
	c.mu.Unlock()
}

// newE2EManager builds a manager over a fresh local store in a temp
// directory, downloading the catalog from srvURL.
func newE2EManager(t *testing.T, kind, srvURL string) *metadata.Manager {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "metadata", "metadata.db")
	var b storage.Backend
	switch kind {
	case storage.KindBolt:
		bb, err := storage.NewBoltBackend(dbPath)
		if err != nil {
			t.Fatal(err)
		}
		b = bb
	case storage.KindSQLite:
		b = storage.NewSQLiteBackend(dbPath)
	default:
		t.Fatalf("unknown backend kind %q", kind)
	}

	m := metadata.NewManager(b, nil, nil)
	m.CatalogSource = srvURL
	t.Cleanup(func() { m.Close() })
	return m
}

// queryService wires a manager into a query service the way the CLI
// does: registered on a registry the service resolves through.
func queryService(m *metadata.Manager) *query.Service {
	reg := metadata.NewRegistry("", nil)
	reg.Set(m)
	return query.NewService(reg)
}

// ---------------------------------------------------------------------------
// Test: Full Cache Lifecycle (download → populate → open → query)
// ---------------------------------------------------------------------------

func TestE2E_PopulateAndQuery(t *testing.T) {
	for _, kind := range []string{storage.KindBolt, storage.KindSQLite} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			srv, cat := newMockCatalog(t, map[int]string{30929: loterijRDF, 158: emmaRDF})
			m := newE2EManager(t, kind, srv.URL)

			if m.Exists(ctx) {
				t.Fatal("cache exists before populate")
			}
			stats, err := m.Populate(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if stats.Documents != 2 {
				t.Errorf("Documents = %d, want 2", stats.Documents)
			}
			if stats.Triples != 14 {
				t.Errorf("Triples = %d, want 14", stats.Triples)
			}
			if stats.TriplesSkipped != 0 {
				t.Errorf("TriplesSkipped = %d, want 0", stats.TriplesSkipped)
			}
			if n := cat.downloads.Load(); n != 1 {
				t.Errorf("catalog downloads = %d, want 1", n)
			}

			if err := m.Open(ctx); err != nil {
				t.Fatal(err)
			}
			svc := queryService(m)

			title, err := svc.Metadata(ctx, "title", 30929)
			if err != nil {
				t.Fatal(err)
			}
			if len(title) != 1 || title[0] != "Het loterijbriefje" {
				t.Errorf("title = %v, want Het loterijbriefje", title)
			}

			author, err := svc.Metadata(ctx, "author", 30929)
			if err != nil {
				t.Fatal(err)
			}
			if len(author) != 1 || author[0] != "Mulder, Lodewijk" {
				t.Errorf("author = %v, want Mulder, Lodewijk", author)
			}

			ids, err := svc.Etexts(ctx, "author", "Austen, Jane")
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != 1 || ids[0] != 158 {
				t.Errorf("Etexts(author) = %v, want [158]", ids)
			}

			dutch, err := svc.Etexts(ctx, "language", "nl")
			if err != nil {
				t.Fatal(err)
			}
			if len(dutch) != 1 || dutch[0] != 30929 {
				t.Errorf("Etexts(language) = %v, want [30929]", dutch)
			}

			t.Logf("✓ %s lifecycle: %d docs, %d triples, title=%q, author=%q",
				kind, stats.Documents, stats.Triples, title[0], author[0])
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Refresh Picks Up a Catalog Update
// ---------------------------------------------------------------------------

func TestE2E_RefreshAfterCatalogUpdate(t *testing.T) {
	ctx := context.Background()
	srv, cat := newMockCatalog(t, map[int]string{30929: loterijRDF})
	m := newE2EManager(t, storage.KindBolt, srv.URL)

	if _, err := m.Populate(ctx); err != nil {
		t.Fatal(err)
	}
	svc := queryService(m)
	ids, err := svc.Etexts(ctx, "author", "Austen, Jane")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("Etexts before update = %v, want none", ids)
	}

	// Upstream publishes a new dump with one more work.
	cat.swap(t, map[int]string{30929: loterijRDF, 158: emmaRDF})
	if err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	ids, err = svc.Etexts(ctx, "author", "Austen, Jane")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 158 {
		t.Errorf("Etexts after refresh = %v, want [158]", ids)
	}
	title, err := svc.Metadata(ctx, "title", 30929)
	if err != nil {
		t.Fatal(err)
	}
	if len(title) != 1 || title[0] != "Het loterijbriefje" {
		t.Errorf("title after refresh = %v, want Het loterijbriefje", title)
	}

	if n := cat.downloads.Load(); n != 2 {
		t.Errorf("catalog downloads = %d, want 2", n)
	}
	count, err := m.Graph().Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 14 {
		t.Errorf("triple count after refresh = %d, want 14", count)
	}

	t.Logf("✓ Refresh: %d downloads, %d triples after update", cat.downloads.Load(), count)
}

// ---------------------------------------------------------------------------
// Test: Delete and Repopulate
// ---------------------------------------------------------------------------

func TestE2E_DeleteAndRepopulate(t *testing.T) {
	ctx := context.Background()
	srv, cat := newMockCatalog(t, map[int]string{30929: loterijRDF})
	m := newE2EManager(t, storage.KindBolt, srv.URL)

	if _, err := m.Populate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Populate(ctx); !errors.Is(err, metadata.ErrCacheAlreadyExists) {
		t.Fatalf("second Populate = %v, want ErrCacheAlreadyExists", err)
	}

	if err := m.Delete(); err != nil {
		t.Fatal(err)
	}
	if m.Exists(ctx) {
		t.Fatal("cache still exists after delete")
	}
	if err := m.Open(ctx); !errors.Is(err, metadata.ErrInvalidCache) {
		t.Fatalf("Open after delete = %v, want ErrInvalidCache", err)
	}

	if _, err := m.Populate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Open(ctx); err != nil {
		t.Fatal(err)
	}
	title, err := queryService(m).Metadata(ctx, "title", 30929)
	if err != nil {
		t.Fatal(err)
	}
	if len(title) != 1 || title[0] != "Het loterijbriefje" {
		t.Errorf("title after repopulate = %v, want Het loterijbriefje", title)
	}

	t.Logf("✓ Delete and repopulate: %d downloads, title=%q", cat.downloads.Load(), title[0])
}

// ---------------------------------------------------------------------------
// Test: Text Download, Cache and Strip
// ---------------------------------------------------------------------------

// gutenbergText renders a raw mirror file the way the archive ships
// them: license header, start marker, body, end marker, CRLF endings.
func gutenbergText(body []string) string {
	lines := []string{
		"The Project Gutenberg eBook of Het loterijbriefje, by Lodewijk Mulder",
		"",
		"*** START OF THIS PROJECT GUTENBERG EBOOK HET LOTERIJBRIEFJE ***",
		"",
		"Produced by Volunteers",
		"",
	}
	lines = append(lines, body...)
	lines = append(lines, "", "*** END OF THIS PROJECT GUTENBERG EBOOK HET LOTERIJBRIEFJE ***")
	return strings.Join(lines, "\r\n") + "\r\n"
}

// newMockMirror serves raw text files the way a Gutenberg mirror lays
// them out, counting body downloads.
func newMockMirror(t *testing.T, texts map[string]string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	fetches := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			return // mirror reachability probe
		}
		body, ok := texts[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			fetches.Add(1)
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, fetches
}

func TestE2E_TextFetchAndStrip(t *testing.T) {
	ctx := context.Background()

	body := []string{"EERSTE HOOFDSTUK.", ""}
	for i := 1; len(body) < 120; i++ {
		body = append(body, fmt.Sprintf("Regel %d van het verhaal.", i))
	}
	raw := gutenbergText(body)

	srv, fetches := newMockMirror(t, map[string]string{
		"/3/0/9/2/30929/30929.txt": raw,
	})

	dir := t.TempDir()
	loader := text.NewLoader(dir, srv.URL, nil, nil, nil)
	got, err := loader.LoadEtext(ctx, 30929, text.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got != raw {
		t.Errorf("loaded text differs from mirror copy (%d vs %d bytes)", len(got), len(raw))
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}

	// Second load is served from the in-memory cache.
	if _, err := loader.LoadEtext(ctx, 30929, text.Options{}); err != nil {
		t.Fatal(err)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches after hot hit = %d, want 1", n)
	}

	// A fresh loader over the same directory reads the gzip file.
	cold := text.NewLoader(dir, srv.URL, nil, nil, nil)
	if _, err := cold.LoadEtext(ctx, 30929, text.Options{}); err != nil {
		t.Fatal(err)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches after disk hit = %d, want 1", n)
	}

	// Refresh bypasses both caches.
	if _, err := loader.LoadEtext(ctx, 30929, text.Options{Refresh: true}); err != nil {
		t.Fatal(err)
	}
	if n := fetches.Load(); n != 2 {
		t.Errorf("fetches after refresh = %d, want 2", n)
	}

	stripped := cleanup.StripHeaders(got)
	want := "\n" + strings.Join(body, "\n") + "\n"
	if stripped != want {
		t.Errorf("StripHeaders left boilerplate:\n%s", truncate(stripped, 200))
	}
	if strings.Contains(stripped, "Gutenberg") {
		t.Error("stripped text still mentions the boilerplate")
	}

	t.Logf("✓ Text round trip: %d raw bytes → %d stripped, %d mirror fetches",
		len(raw), len(stripped), fetches.Load())
}

// ---------------------------------------------------------------------------
// Test: Remote Store Flow (catalog download → SPARQL inserts → wipe)
// ---------------------------------------------------------------------------

type sparqlRecorder struct {
	mu      sync.Mutex
	updates []string
	count   string
}

func (f *sparqlRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if r.Header.Get("Content-Type") == "application/sparql-update" {
		f.mu.Lock()
		f.updates = append(f.updates, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	f.mu.Lock()
	count := f.count
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/sparql-results+json")
	fmt.Fprintf(w, `{"results":{"bindings":[{"n":{"type":"literal","value":"%s"}}]}}`, count)
}

func (f *sparqlRecorder) setCount(n string) {
	f.mu.Lock()
	f.count = n
	f.mu.Unlock()
}

func (f *sparqlRecorder) allUpdates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.updates...)
}

func TestE2E_RemoteStoreFlow(t *testing.T) {
	ctx := context.Background()
	catSrv, _ := newMockCatalog(t, map[int]string{30929: loterijRDF, 158: emmaRDF})

	rec := &sparqlRecorder{count: "0"}
	endpoint := httptest.NewServer(rec)
	t.Cleanup(endpoint.Close)

	b := storage.NewSPARQLBackend(endpoint.URL, metadata.GraphID, "", "")
	m := metadata.NewManager(b, nil, nil)
	m.CatalogSource = catSrv.URL
	t.Cleanup(func() { m.Close() })

	stats, err := m.Populate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 2 {
		t.Errorf("Documents = %d, want 2", stats.Documents)
	}
	if stats.Triples != 10 {
		t.Errorf("Triples = %d, want 10", stats.Triples)
	}
	if stats.TriplesSkipped != 4 {
		t.Errorf("TriplesSkipped = %d, want 4 blank node triples", stats.TriplesSkipped)
	}

	inserts := strings.Join(rec.allUpdates(), "\n")
	if !strings.Contains(inserts, `"Het loterijbriefje"`) {
		t.Error("title triple missing from inserts")
	}
	if !strings.Contains(inserts, `"Austen, Jane"`) {
		t.Error("alias triple missing from inserts")
	}
	if strings.Contains(inserts, "_:") {
		t.Errorf("blank node reached the endpoint:\n%s", truncate(inserts, 200))
	}

	// The endpoint now reports data, so the cache exists remotely.
	rec.setCount("10")
	if !m.Exists(ctx) {
		t.Error("populated remote graph reported as absent")
	}

	// Local delete is refused; wiping is the remote clear path.
	if err := m.Delete(); !errors.Is(err, metadata.ErrCacheNotRemovable) {
		t.Fatalf("Delete = %v, want ErrCacheNotRemovable", err)
	}
	if err := m.Wipe(ctx); err != nil {
		t.Fatal(err)
	}
	updates := rec.allUpdates()
	last := updates[len(updates)-1]
	want := "DELETE WHERE { GRAPH <" + metadata.GraphID + "> { ?s ?p ?o } }"
	if last != want {
		t.Errorf("wipe update = %q, want %q", last, want)
	}

	t.Logf("✓ Remote store: %d docs, %d triples inserted, %d updates issued",
		stats.Documents, stats.Triples, len(updates))
}

// ---------------------------------------------------------------------------
// Test: Concurrent Queries
// ---------------------------------------------------------------------------

func TestE2E_ConcurrentQueries(t *testing.T) {
	ctx := context.Background()
	srv, _ := newMockCatalog(t, map[int]string{30929: loterijRDF, 158: emmaRDF})
	m := newE2EManager(t, storage.KindBolt, srv.URL)
	if _, err := m.Populate(ctx); err != nil {
		t.Fatal(err)
	}
	svc := queryService(m)

	const workers = 8
	const rounds = 5
	errCh := make(chan error, workers*rounds*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				title, err := svc.Metadata(ctx, "title", 30929)
				if err != nil {
					errCh <- err
					continue
				}
				if len(title) != 1 || title[0] != "Het loterijbriefje" {
					errCh <- fmt.Errorf("title = %v", title)
				}
				ids, err := svc.Etexts(ctx, "author", "Austen, Jane")
				if err != nil {
					errCh <- err
					continue
				}
				if len(ids) != 1 || ids[0] != 158 {
					errCh <- fmt.Errorf("etexts = %v", ids)
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	t.Logf("✓ Concurrent queries: %d workers, %d lookups each", workers, rounds*2)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
