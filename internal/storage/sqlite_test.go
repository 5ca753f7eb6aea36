package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gutengo/gutengo/internal/rdf"
)

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	return NewSQLiteBackend(filepath.Join(t.TempDir(), "metadata.db"))
}

func TestSQLiteBackend_URIPrefix(t *testing.T) {
	b := NewSQLiteBackend("/data/metadata/metadata.db")
	if b.URI() != "sqlite:////data/metadata/metadata.db" {
		t.Errorf("URI = %q", b.URI())
	}
	if b.LocalPath() != "/data/metadata/metadata.db" {
		t.Errorf("LocalPath = %q", b.LocalPath())
	}

	// An already prefixed location is kept as is.
	b = NewSQLiteBackend("sqlite:///tmp/cache.db")
	if b.URI() != "sqlite:///tmp/cache.db" {
		t.Errorf("URI = %q", b.URI())
	}
	if b.LocalPath() != "tmp/cache.db" {
		t.Errorf("LocalPath = %q", b.LocalPath())
	}
}

func TestSQLiteBackend_Properties(t *testing.T) {
	b := newTestSQLite(t)

	if b.Kind() != KindSQLite {
		t.Errorf("Kind = %q", b.Kind())
	}
	if !b.Removable() {
		t.Error("sqlite backend should be removable")
	}
}

func TestSQLiteBackend_Open_Missing(t *testing.T) {
	b := newTestSQLite(t)

	if _, err := b.Open(context.Background(), false); err == nil {
		t.Fatal("expected error opening missing store")
	}
}

func TestSQLiteBackend_Open_NotAStore(t *testing.T) {
	b := newTestSQLite(t)

	if err := os.WriteFile(b.LocalPath(), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(context.Background(), false); err == nil {
		t.Fatal("expected error opening file without schema")
	}
}

func TestSQLiteBackend_Roundtrip(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	g := mustOpen(t, b, true)
	if err := g.Add(ctx, testTriples()...); err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}

	g = mustOpen(t, b, false)
	count, err := g.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Errorf("Count = %d, want 4", count)
	}
}

func TestSQLiteGraph_Match_Patterns(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	g := mustOpen(t, b, true)
	if err := g.Add(ctx, testTriples()...); err != nil {
		t.Fatal(err)
	}

	ebook1 := rdf.EbookIRI(1)
	title := rdf.Dcterms("title")
	creator := rdf.Dcterms("creator")
	agent := rdf.IRI("http://www.gutenberg.org/2009/agents/9")
	first := rdf.Literal("First")
	second := rdf.Literal("Second")

	tests := []struct {
		name    string
		s, p, o *rdf.Term
		want    int
	}{
		{"all", nil, nil, nil, 4},
		{"subject", &ebook1, nil, nil, 2},
		{"predicate", nil, &title, nil, 2},
		{"object", nil, nil, &first, 1},
		{"subject predicate", &ebook1, &title, nil, 1},
		{"subject object", &ebook1, nil, &agent, 1},
		{"predicate object", nil, &title, &second, 1},
		{"exact present", &ebook1, &title, &first, 1},
		{"exact absent", &ebook1, &creator, &first, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Match(ctx, tt.s, tt.p, tt.o)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("Match = %d triples, want %d", len(got), tt.want)
			}
		})
	}
}

func TestSQLiteGraph_Match_Values(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	g := mustOpen(t, b, true)
	if err := g.Add(ctx, testTriples()...); err != nil {
		t.Fatal(err)
	}

	ebook1 := rdf.EbookIRI(1)
	title := rdf.Dcterms("title")
	got, err := g.Match(ctx, &ebook1, &title, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("Match = %d triples, want 1", len(got))
	}
	if got[0].Object != rdf.Literal("First") {
		t.Errorf("Object = %s", got[0].Object)
	}
}

func TestSQLiteGraph_Add_Duplicate(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	g := mustOpen(t, b, true)
	tr := testTriples()[0]
	if err := g.Add(ctx, tr); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(ctx, tr); err != nil {
		t.Fatal(err)
	}

	count, _ := g.Count(ctx)
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestSQLiteGraph_Bind(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	g := mustOpen(t, b, true)
	if err := g.Bind(ctx, "dcterms", rdf.NSDcterms); err != nil {
		t.Fatal(err)
	}
	if err := g.Bind(ctx, "dcterms", rdf.NSDcterms); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteBackend_Remove(t *testing.T) {
	b := newTestSQLite(t)

	g := mustOpen(t, b, true)
	g.Close()

	// Leftover WAL artifacts go away with the store.
	os.WriteFile(b.LocalPath()+"-wal", []byte("wal"), 0o600)
	os.WriteFile(b.LocalPath()+"-shm", []byte("shm"), 0o600)

	if err := b.Remove(); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{b.LocalPath(), b.LocalPath() + "-wal", b.LocalPath() + "-shm"} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s still present after Remove", filepath.Base(path))
		}
	}

	if err := b.Remove(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteBackend_RejectsTriple(t *testing.T) {
	b := newTestSQLite(t)

	blank := rdf.Triple{Subject: rdf.Blank("b0"), Predicate: rdf.Dcterms("title"), Object: rdf.Literal("x")}
	if b.RejectsTriple(blank) {
		t.Error("sqlite backend should accept blank nodes")
	}
}

// Verify Backend interface compliance.
func TestSQLiteBackend_ImplementsBackend(t *testing.T) {
	var _ Backend = (*SQLiteBackend)(nil)
}
