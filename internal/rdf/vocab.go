package rdf

import (
	"fmt"
	"strconv"
	"strings"
)

// Namespaces used by the Project Gutenberg catalog.
const (
	NSPgterms = "http://www.gutenberg.org/2009/pgterms/"
	NSDcterms = "http://purl.org/dc/terms/"
	NSDcam    = "http://purl.org/dc/dcam/"
	NSRDF     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NSRDFS    = "http://www.w3.org/2000/01/rdf-schema#"
)

// Core RDF predicates.
var (
	RDFType  = IRI(NSRDF + "type")
	RDFValue = IRI(NSRDF + "value")
)

// Pgterms returns an IRI in the Project Gutenberg terms namespace.
func Pgterms(local string) Term { return IRI(NSPgterms + local) }

// Dcterms returns an IRI in the Dublin Core terms namespace.
func Dcterms(local string) Term { return IRI(NSDcterms + local) }

const ebookURIPrefix = "http://www.gutenberg.org/ebooks/"

// EbookIRI returns the catalog subject IRI for a text number.
func EbookIRI(etext int) Term {
	return IRI(ebookURIPrefix + strconv.Itoa(etext))
}

// EtextFromIRI extracts the text number from an ebook subject IRI.
func EtextFromIRI(t Term) (int, error) {
	if !t.IsIRI() {
		return 0, fmt.Errorf("not an ebook IRI: %s", t)
	}
	idx := strings.LastIndexByte(t.Value, '/')
	n, err := strconv.Atoi(t.Value[idx+1:])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("not an ebook IRI: %s", t)
	}
	return n, nil
}
