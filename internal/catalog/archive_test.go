package catalog

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gutengo/gutengo/internal/rdf"
)

const sampleRDF = `<?xml version="1.0" encoding="utf-8"?>
<rdf:RDF xml:base="http://www.gutenberg.org/"
  xmlns:dcterms="http://purl.org/dc/terms/"
  xmlns:pgterms="http://www.gutenberg.org/2009/pgterms/"
  xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <pgterms:ebook rdf:about="ebooks/30929">
    <dcterms:title>Het loterijbriefje</dcterms:title>
  </pgterms:ebook>
</rdf:RDF>`

type entry struct {
	name string
	body string
}

func tarBytes(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeArchive(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rdf-files.tar")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestReader(t *testing.T, entries []entry) *ArchiveReader {
	t.Helper()
	a, err := NewArchiveReader(writeArchive(t, tarBytes(t, entries)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveReader_PlainTar(t *testing.T) {
	a := newTestReader(t, []entry{
		{"cache/epub/30929/pg30929.rdf", sampleRDF},
	})

	doc, err := a.Next()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Etext != 30929 {
		t.Errorf("Etext = %d, want 30929", doc.Etext)
	}
	if doc.Name != "cache/epub/30929/pg30929.rdf" {
		t.Errorf("Name = %q", doc.Name)
	}

	title := rdf.Triple{
		Subject:   rdf.EbookIRI(30929),
		Predicate: rdf.Dcterms("title"),
		Object:    rdf.Literal("Het loterijbriefje"),
	}
	var found bool
	for _, tr := range doc.Triples {
		if tr == title {
			found = true
		}
	}
	if !found {
		t.Errorf("title triple missing from %v", doc.Triples)
	}

	if _, err := a.Next(); err != io.EOF {
		t.Errorf("Next after last entry = %v, want io.EOF", err)
	}
}

func TestArchiveReader_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(tarBytes(t, []entry{{"pg1.rdf", sampleRDF}})); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	a, err := NewArchiveReader(writeArchive(t, buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	doc, err := a.Next()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Etext != 1 {
		t.Errorf("Etext = %d, want 1", doc.Etext)
	}
}

func TestArchiveReader_SkipsNonMetadata(t *testing.T) {
	a := newTestReader(t, []entry{
		{"cache/epub/README", "not metadata"},
		{"cache/epub/1/pg1.rdf", sampleRDF},
		{"cache/epub/2/pg2.rdf.bak", "not metadata either"},
		{"cache/epub/3/pg3.rdf", sampleRDF},
	})

	var etexts []int
	for {
		doc, err := a.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		etexts = append(etexts, doc.Etext)
	}
	if len(etexts) != 2 || etexts[0] != 1 || etexts[1] != 3 {
		t.Errorf("etexts = %v, want [1 3]", etexts)
	}
}

func TestArchiveReader_MalformedDocument(t *testing.T) {
	a := newTestReader(t, []entry{
		{"cache/epub/7/pg7.rdf", "<rdf:RDF this is not xml"},
		{"cache/epub/8/pg8.rdf", sampleRDF},
	})

	_, err := a.Next()
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Next = %v, want *ParseError", err)
	}
	if perr.Name != "cache/epub/7/pg7.rdf" {
		t.Errorf("Name = %q", perr.Name)
	}

	// The reader stays usable after a malformed document.
	doc, err := a.Next()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Etext != 8 {
		t.Errorf("Etext = %d, want 8", doc.Etext)
	}
}

func TestArchiveReader_NotAnArchive(t *testing.T) {
	a, err := NewArchiveReader(writeArchive(t, []byte("junk data")))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if _, err := a.Next(); err == nil || err == io.EOF {
		t.Errorf("Next = %v, want tar error", err)
	}
}

func TestNewArchiveReader_Empty(t *testing.T) {
	if _, err := NewArchiveReader(writeArchive(t, nil)); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestNewArchiveReader_Missing(t *testing.T) {
	if _, err := NewArchiveReader(filepath.Join(t.TempDir(), "absent.tar")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
