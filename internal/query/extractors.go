package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gutengo/gutengo/internal/rdf"
	"github.com/gutengo/gutengo/internal/storage"
)

// extractor describes how one feature hangs off an ebook subject: a
// predicate path of one or two hops, ending in literals or IRIs.
type extractor struct {
	path    []rdf.Term
	literal bool
}

var extractors = map[string]extractor{
	"author":    {path: []rdf.Term{rdf.Dcterms("creator"), rdf.Pgterms("alias")}, literal: true},
	"title":     {path: []rdf.Term{rdf.Dcterms("title")}, literal: true},
	"formaturi": {path: []rdf.Term{rdf.Dcterms("hasFormat")}, literal: false},
	"rights":    {path: []rdf.Term{rdf.Dcterms("rights")}, literal: true},
	"language":  {path: []rdf.Term{rdf.Dcterms("language"), rdf.RDFValue}, literal: true},
	"subject":   {path: []rdf.Term{rdf.Dcterms("subject"), rdf.RDFValue}, literal: true},
}

// Features returns the supported feature names, sorted.
func Features() []string {
	out := make([]string, 0, len(extractors))
	for name := range extractors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func lookupExtractor(feature string) (extractor, error) {
	ex, ok := extractors[feature]
	if !ok {
		return extractor{}, fmt.Errorf("%w %q (try any of the following: %s)",
			ErrUnsupportedFeature, feature, strings.Join(Features(), ", "))
	}
	return ex, nil
}

// metadataValues walks the extractor path forward from one ebook subject
// and collects the lexical values at the end of the path.
func metadataValues(ctx context.Context, g storage.Graph, ex extractor, etext int) ([]string, error) {
	subject := rdf.EbookIRI(etext)
	first, err := g.Match(ctx, &subject, &ex.path[0], nil)
	if err != nil {
		return nil, err
	}

	var values []string
	if len(ex.path) == 1 {
		for _, t := range first {
			values = append(values, t.Object.Value)
		}
		return dedupeStrings(values), nil
	}

	for _, t := range first {
		mid := t.Object
		second, err := g.Match(ctx, &mid, &ex.path[1], nil)
		if err != nil {
			return nil, err
		}
		for _, t2 := range second {
			values = append(values, t2.Object.Value)
		}
	}
	return dedupeStrings(values), nil
}

// etextsFor walks the extractor path backward from a value to the ebook
// subjects holding it. Literal values are compared by lexical form so
// that language and datatype tags on stored literals do not matter; IRI
// values must match exactly.
func etextsFor(ctx context.Context, g storage.Graph, ex extractor, value string) ([]int, error) {
	last := ex.path[len(ex.path)-1]

	var holders []rdf.Term
	if ex.literal {
		matches, err := g.Match(ctx, nil, &last, nil)
		if err != nil {
			return nil, err
		}
		for _, t := range matches {
			if t.Object.IsLiteral() && t.Object.Value == value {
				holders = append(holders, t.Subject)
			}
		}
	} else {
		obj := rdf.IRI(value)
		matches, err := g.Match(ctx, nil, &last, &obj)
		if err != nil {
			return nil, err
		}
		for _, t := range matches {
			holders = append(holders, t.Subject)
		}
	}

	if len(ex.path) == 2 {
		var subjects []rdf.Term
		for _, mid := range holders {
			links, err := g.Match(ctx, nil, &ex.path[0], &mid)
			if err != nil {
				return nil, err
			}
			for _, t := range links {
				subjects = append(subjects, t.Subject)
			}
		}
		holders = subjects
	}

	var out []int
	for _, s := range holders {
		n, err := rdf.EtextFromIRI(s)
		if err != nil {
			// Not an ebook subject.
			continue
		}
		out = append(out, n)
	}
	return dedupeInts(out), nil
}

func dedupeStrings(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	var prev string
	for i, s := range in {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}

func dedupeInts(in []int) []int {
	sort.Ints(in)
	out := in[:0]
	prev := -1
	for i, n := range in {
		if i == 0 || n != prev {
			out = append(out, n)
		}
		prev = n
	}
	return out
}
