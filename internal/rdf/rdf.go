// Package rdf implements the small slice of RDF needed to work with the
// Project Gutenberg catalog: terms, triples, an N-Triples term codec, and
// a streaming RDF/XML parser for the per-book catalog records.
//
// The term model is deliberately flat: a Term is a tagged value, not an
// interface hierarchy, so terms can be compared with == and used as map
// keys.
package rdf

import (
	"fmt"

	"github.com/google/uuid"
)

// TermKind discriminates the three kinds of RDF term.
type TermKind int

const (
	// TermIRI is a resource identifier.
	TermIRI TermKind = iota
	// TermLiteral is a literal value, optionally language-tagged or typed.
	TermLiteral
	// TermBlank is an anonymous node with a document-scoped label.
	TermBlank
)

// Term is one component of a triple.
type Term struct {
	Kind     TermKind
	Value    string // IRI, literal lexical form, or blank node label
	Lang     string // language tag (literals only)
	Datatype string // datatype IRI (literals only)
}

// IRI returns a resource-identifier term.
func IRI(value string) Term {
	return Term{Kind: TermIRI, Value: value}
}

// Literal returns a plain literal term.
func Literal(value string) Term {
	return Term{Kind: TermLiteral, Value: value}
}

// LangLiteral returns a language-tagged literal term.
func LangLiteral(value, lang string) Term {
	return Term{Kind: TermLiteral, Value: value, Lang: lang}
}

// TypedLiteral returns a literal term with an explicit datatype IRI.
func TypedLiteral(value, datatype string) Term {
	return Term{Kind: TermLiteral, Value: value, Datatype: datatype}
}

// Blank returns a blank node term with the given label.
func Blank(label string) Term {
	return Term{Kind: TermBlank, Value: label}
}

// NewBlank returns a blank node with a fresh unique label.
func NewBlank() Term {
	return Term{Kind: TermBlank, Value: "N" + uuid.NewString()}
}

// IsIRI reports whether the term is a resource identifier.
func (t Term) IsIRI() bool { return t.Kind == TermIRI }

// IsLiteral reports whether the term is a literal.
func (t Term) IsLiteral() bool { return t.Kind == TermLiteral }

// IsBlank reports whether the term is a blank node.
func (t Term) IsBlank() bool { return t.Kind == TermBlank }

// IsZero reports whether the term is the zero value. The zero term is not
// a valid IRI and is used to mean "unset".
func (t Term) IsZero() bool { return t == Term{} }

// String renders the term in N-Triples syntax.
func (t Term) String() string { return EncodeTerm(t) }

// Triple is a (subject, predicate, object) statement.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// String renders the triple as an N-Triples statement without the
// trailing newline.
func (t Triple) String() string {
	return fmt.Sprintf("%s %s %s .", t.Subject, t.Predicate, t.Object)
}

// HasBlankNode reports whether any component of the triple is a blank
// node.
func (t Triple) HasBlankNode() bool {
	return t.Subject.IsBlank() || t.Predicate.IsBlank() || t.Object.IsBlank()
}
