package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gutengo/gutengo/internal/rdf"
)

// SPARQLBackend stores the graph on a remote SPARQL 1.1 endpoint. It has
// no local footprint; every operation is an HTTP request against the
// endpoint's query/update interface.
type SPARQLBackend struct {
	endpoint string
	graph    string
	username string
	password string
	client   *http.Client
}

// NewSPARQLBackend returns a backend for the named graph at the given
// endpoint URL. Credentials are optional; when username is empty no
// authentication header is sent.
func NewSPARQLBackend(endpoint, graph, username, password string) *SPARQLBackend {
	return &SPARQLBackend{
		endpoint: endpoint,
		graph:    graph,
		username: username,
		password: password,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (b *SPARQLBackend) Kind() string      { return KindSPARQL }
func (b *SPARQLBackend) URI() string       { return b.endpoint }
func (b *SPARQLBackend) LocalPath() string { return "" }
func (b *SPARQLBackend) Removable() bool   { return false }

// Create is a no-op; the remote store needs no local setup.
func (b *SPARQLBackend) Create(ctx context.Context) error { return nil }

// Open verifies that the endpoint answers a trivial query over the cache
// graph and returns a handle. No connection is held between requests.
func (b *SPARQLBackend) Open(ctx context.Context, create bool) (Graph, error) {
	probe := fmt.Sprintf("SELECT ?s WHERE { GRAPH <%s> { ?s ?p ?o } } LIMIT 1", b.graph)
	if _, err := b.query(ctx, probe); err != nil {
		return nil, fmt.Errorf("open sparql store %q: %w", b.endpoint, err)
	}
	return &sparqlGraph{b: b}, nil
}

// Remove always fails; the remote store has no local footprint. Use Wipe
// to clear its data instead.
func (b *SPARQLBackend) Remove() error {
	return fmt.Errorf("sparql store %q has no local footprint", b.endpoint)
}

// RejectsTriple flags triples containing blank nodes; the update
// protocol cannot round-trip them.
func (b *SPARQLBackend) RejectsTriple(t rdf.Triple) bool {
	return t.HasBlankNode()
}

// Wipe deletes every triple in the cache graph. Some servers return no
// result rows on DELETE, so only the HTTP status decides success and the
// response body is discarded unread.
func (b *SPARQLBackend) Wipe(ctx context.Context) error {
	update := fmt.Sprintf("DELETE WHERE { GRAPH <%s> { ?s ?p ?o } }", b.graph)
	if err := b.update(ctx, update); err != nil {
		return fmt.Errorf("wipe sparql store: %w", err)
	}
	return nil
}

// update posts a SPARQL update and checks only the response status.
func (b *SPARQLBackend) update(ctx context.Context, update string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, strings.NewReader(update))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/sparql-update")
	if b.username != "" {
		req.SetBasicAuth(b.username, b.password)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}

// sparqlResults is the application/sparql-results+json envelope. ASK
// responses populate Boolean; SELECT responses populate Bindings.
type sparqlResults struct {
	Boolean bool `json:"boolean"`
	Results struct {
		Bindings []map[string]sparqlTerm `json:"bindings"`
	} `json:"results"`
}

type sparqlTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang"`
	Datatype string `json:"datatype"`
}

// query posts a SPARQL query and decodes the JSON results.
func (b *SPARQLBackend) query(ctx context.Context, query string) (*sparqlResults, error) {
	form := url.Values{"query": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	if b.username != "" {
		req.SetBasicAuth(b.username, b.password)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("endpoint returned %s", resp.Status)
	}

	var res sparqlResults
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return &res, nil
}

type sparqlGraph struct {
	b *SPARQLBackend
}

// Add inserts triples with a single INSERT DATA update.
func (g *sparqlGraph) Add(ctx context.Context, triples ...rdf.Triple) error {
	if len(triples) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT DATA { GRAPH <%s> {\n", g.b.graph)
	for _, t := range triples {
		sb.WriteString(t.String())
		sb.WriteByte('\n')
	}
	sb.WriteString("} }")

	if err := g.b.update(ctx, sb.String()); err != nil {
		return fmt.Errorf("add triples: %w", err)
	}
	return nil
}

// Match resolves a pattern against the remote graph. Bound terms are
// inlined into the query; a fully bound pattern becomes an ASK. Blank
// pattern terms match nothing because the store never holds blank nodes.
func (g *sparqlGraph) Match(ctx context.Context, s, p, o *rdf.Term) ([]rdf.Triple, error) {
	for _, t := range []*rdf.Term{s, p, o} {
		if t != nil && t.IsBlank() {
			return nil, nil
		}
	}

	bound := [3]*rdf.Term{s, p, o}
	names := [3]string{"s", "p", "o"}
	var pattern [3]string
	var vars []string
	for i, t := range bound {
		if t == nil {
			pattern[i] = "?" + names[i]
			vars = append(vars, names[i])
		} else {
			pattern[i] = rdf.EncodeTerm(*t)
		}
	}
	group := fmt.Sprintf("GRAPH <%s> { %s %s %s }", g.b.graph, pattern[0], pattern[1], pattern[2])

	if len(vars) == 0 {
		res, err := g.b.query(ctx, "ASK { "+group+" }")
		if err != nil {
			return nil, fmt.Errorf("match triples: %w", err)
		}
		if !res.Boolean {
			return nil, nil
		}
		return []rdf.Triple{{Subject: *s, Predicate: *p, Object: *o}}, nil
	}

	res, err := g.b.query(ctx, "SELECT ?"+strings.Join(vars, " ?")+" WHERE { "+group+" }")
	if err != nil {
		return nil, fmt.Errorf("match triples: %w", err)
	}

	out := make([]rdf.Triple, 0, len(res.Results.Bindings))
	for _, binding := range res.Results.Bindings {
		var terms [3]rdf.Term
		for i, t := range bound {
			if t != nil {
				terms[i] = *t
				continue
			}
			bt, ok := binding[names[i]]
			if !ok {
				return nil, fmt.Errorf("match triples: result misses variable %q", names[i])
			}
			terms[i] = termFromBinding(bt)
		}
		out = append(out, rdf.Triple{Subject: terms[0], Predicate: terms[1], Object: terms[2]})
	}
	return out, nil
}

func termFromBinding(bt sparqlTerm) rdf.Term {
	switch bt.Type {
	case "uri":
		return rdf.IRI(bt.Value)
	case "bnode":
		return rdf.Blank(bt.Value)
	default:
		if bt.Lang != "" {
			return rdf.LangLiteral(bt.Value, bt.Lang)
		}
		if bt.Datatype != "" {
			return rdf.TypedLiteral(bt.Value, bt.Datatype)
		}
		return rdf.Literal(bt.Value)
	}
}

// Bind is a no-op; prefix aliases have no protocol-level representation
// and all generated queries use absolute IRIs.
func (g *sparqlGraph) Bind(ctx context.Context, prefix, iri string) error { return nil }

func (g *sparqlGraph) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT (COUNT(*) AS ?n) WHERE { GRAPH <%s> { ?s ?p ?o } }", g.b.graph)
	res, err := g.b.query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count triples: %w", err)
	}
	if len(res.Results.Bindings) == 0 {
		return 0, fmt.Errorf("count triples: empty result")
	}
	bt, ok := res.Results.Bindings[0]["n"]
	if !ok {
		return 0, fmt.Errorf("count triples: result misses variable \"n\"")
	}
	n, err := strconv.Atoi(bt.Value)
	if err != nil {
		return 0, fmt.Errorf("count triples: %w", err)
	}
	return n, nil
}

// Close releases pooled connections; there is no held handle.
func (g *sparqlGraph) Close() error {
	g.b.client.CloseIdleConnections()
	return nil
}
