package metadata

import (
	"strings"

	"github.com/gutengo/gutengo/internal/rdf"
	"github.com/gutengo/gutengo/internal/storage"
)

// TripleIsInvalid reports whether a catalog triple must stay out of the
// graph. The base rule holds for every backend: a resource identifier
// containing a space is known bad data upstream. Backends add their own
// restrictions on top, such as the remote endpoint rejecting blank
// nodes.
func TripleIsInvalid(t rdf.Triple, backend storage.Backend) bool {
	for _, term := range []rdf.Term{t.Subject, t.Predicate, t.Object} {
		if term.IsIRI() && strings.ContainsRune(term.Value, ' ') {
			return true
		}
	}
	return backend != nil && backend.RejectsTriple(t)
}
