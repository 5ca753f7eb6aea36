// Package catalog reads the Project Gutenberg catalog dump: a tar
// archive holding one RDF document per work, usually bzip2 compressed.
package catalog

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/gutengo/gutengo/internal/rdf"
)

// entryPattern matches per-work metadata entries inside the archive,
// e.g. "cache/epub/30929/pg30929.rdf".
var entryPattern = regexp.MustCompile(`pg(\d+)\.rdf$`)

// Document is one per-work metadata file extracted from the archive.
type Document struct {
	Name    string
	Etext   int
	Triples []rdf.Triple
}

// ParseError reports a malformed document inside the archive. Callers
// that tolerate bad records can skip it and keep calling Next.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ArchiveReader streams per-work documents out of a catalog archive in
// a single pass. It is not restartable; open a new reader to iterate
// again.
type ArchiveReader struct {
	f  *os.File
	tr *tar.Reader
}

// NewArchiveReader opens the archive at path. Compression is detected
// from the file's magic bytes; bzip2, gzip and plain tar are supported.
func NewArchiveReader(path string) (*ArchiveReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(3)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read archive header: %w", err)
	}

	var r io.Reader
	switch {
	case bytes.HasPrefix(magic, []byte("BZh")):
		r = bzip2.NewReader(br)
	case bytes.HasPrefix(magic, []byte{0x1f, 0x8b}):
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read archive header: %w", err)
		}
		r = gz
	default:
		r = br
	}

	return &ArchiveReader{f: f, tr: tar.NewReader(r)}, nil
}

// Next returns the next per-work document, skipping archive entries
// that are not metadata files. A *ParseError marks one malformed
// document and leaves the reader usable; any other error is terminal.
// io.EOF signals the end of the archive.
func (a *ArchiveReader) Next() (*Document, error) {
	for {
		hdr, err := a.tr.Next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}

		m := entryPattern.FindStringSubmatch(hdr.Name)
		if m == nil {
			continue
		}
		etext, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		triples, err := rdf.ParseXML(a.tr)
		if err != nil {
			return nil, &ParseError{Name: hdr.Name, Err: err}
		}
		return &Document{Name: hdr.Name, Etext: etext, Triples: triples}, nil
	}
}

// Close releases the underlying file.
func (a *ArchiveReader) Close() error {
	return a.f.Close()
}
