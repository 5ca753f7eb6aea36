package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gutengo/gutengo/internal/rdf"
)

// Bucket layout: three permutations of the same triple set, so that any
// match pattern is a prefix scan over one of them, plus a bucket for
// namespace bindings. Keys are the serialized terms joined by NUL, which
// no term produced by the catalog can contain.
var (
	bucketSPO = []byte("spo")
	bucketPOS = []byte("pos")
	bucketOSP = []byte("osp")
	bucketNS  = []byte("ns")
)

const keySep = "\x00"

var present = []byte{1}

// BoltBackend stores the graph in a single embedded bbolt file.
type BoltBackend struct {
	path string
}

// NewBoltBackend returns a backend storing its graph at path. It fails
// with ErrUnavailable when the embedded database cannot operate in this
// environment, so callers can fall back to another backend.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if err := probeBolt(); err != nil {
		return nil, err
	}
	return &BoltBackend{path: path}, nil
}

// probeBolt opens and discards a scratch database. The embedded store
// needs mmap and file locking, which some filesystems do not provide.
func probeBolt() error {
	f, err := os.CreateTemp("", "gutengo-bolt-probe-*.db")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)

	db, err := bolt.Open(name, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return db.Close()
}

func (b *BoltBackend) Kind() string      { return KindBolt }
func (b *BoltBackend) URI() string       { return b.path }
func (b *BoltBackend) LocalPath() string { return b.path }
func (b *BoltBackend) Removable() bool   { return true }

// Create makes the directory that will contain the database file.
func (b *BoltBackend) Create(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create bolt store: %w", err)
	}
	return nil
}

// Open opens the database file. Without create, the file must already
// exist and contain the expected buckets; bbolt silently initializes an
// empty file, so the bucket check is what catches truncated stores.
func (b *BoltBackend) Open(ctx context.Context, create bool) (Graph, error) {
	if !create {
		if _, err := os.Stat(b.path); err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
	}

	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %q: %w", b.path, err)
	}

	if create {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketSPO, bucketPOS, bucketOSP, bucketNS} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %q: %w", name, err)
				}
			}
			return nil
		})
	} else {
		err = db.View(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketSPO, bucketPOS, bucketOSP, bucketNS} {
				if tx.Bucket(name) == nil {
					return fmt.Errorf("bucket %q missing", name)
				}
			}
			return nil
		})
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open bolt store %q: %w", b.path, err)
	}

	return &boltGraph{db: db}, nil
}

// Remove deletes the database file. Removing a store that does not exist
// is a no-op.
func (b *BoltBackend) Remove() error {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove bolt store: %w", err)
	}
	return nil
}

// RejectsTriple imposes no restrictions beyond the shared validation
// rules.
func (b *BoltBackend) RejectsTriple(rdf.Triple) bool { return false }

type boltGraph struct {
	db *bolt.DB
}

func (g *boltGraph) Add(ctx context.Context, triples ...rdf.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := g.db.Update(func(tx *bolt.Tx) error {
		spo := tx.Bucket(bucketSPO)
		pos := tx.Bucket(bucketPOS)
		osp := tx.Bucket(bucketOSP)
		for _, t := range triples {
			s := rdf.EncodeTerm(t.Subject)
			p := rdf.EncodeTerm(t.Predicate)
			o := rdf.EncodeTerm(t.Object)
			if err := spo.Put(permKey(s, p, o), present); err != nil {
				return err
			}
			if err := pos.Put(permKey(p, o, s), present); err != nil {
				return err
			}
			if err := osp.Put(permKey(o, s, p), present); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add triples: %w", err)
	}
	return nil
}

func permKey(a, b, c string) []byte {
	return []byte(a + keySep + b + keySep + c)
}

// Match resolves a pattern by scanning whichever permutation index puts
// the bound terms first. slots maps key position to triple position
// (0=subject, 1=predicate, 2=object).
func (g *boltGraph) Match(ctx context.Context, s, p, o *rdf.Term) ([]rdf.Triple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []rdf.Triple
	err := g.db.View(func(tx *bolt.Tx) error {
		if s != nil && p != nil && o != nil {
			key := permKey(rdf.EncodeTerm(*s), rdf.EncodeTerm(*p), rdf.EncodeTerm(*o))
			c := tx.Bucket(bucketSPO).Cursor()
			if k, _ := c.Seek(key); bytes.Equal(k, key) {
				out = append(out, rdf.Triple{Subject: *s, Predicate: *p, Object: *o})
			}
			return nil
		}

		var (
			bucket []byte
			slots  [3]int
			bound  []string
		)
		switch {
		case s != nil && p != nil:
			bucket, slots = bucketSPO, [3]int{0, 1, 2}
			bound = []string{rdf.EncodeTerm(*s), rdf.EncodeTerm(*p)}
		case p != nil && o != nil:
			bucket, slots = bucketPOS, [3]int{1, 2, 0}
			bound = []string{rdf.EncodeTerm(*p), rdf.EncodeTerm(*o)}
		case o != nil && s != nil:
			bucket, slots = bucketOSP, [3]int{2, 0, 1}
			bound = []string{rdf.EncodeTerm(*o), rdf.EncodeTerm(*s)}
		case s != nil:
			bucket, slots = bucketSPO, [3]int{0, 1, 2}
			bound = []string{rdf.EncodeTerm(*s)}
		case p != nil:
			bucket, slots = bucketPOS, [3]int{1, 2, 0}
			bound = []string{rdf.EncodeTerm(*p)}
		case o != nil:
			bucket, slots = bucketOSP, [3]int{2, 0, 1}
			bound = []string{rdf.EncodeTerm(*o)}
		default:
			bucket, slots = bucketSPO, [3]int{0, 1, 2}
		}

		var prefix []byte
		if len(bound) > 0 {
			prefix = []byte(strings.Join(bound, keySep) + keySep)
		}

		c := tx.Bucket(bucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			t, err := decodePermKey(k, slots)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("match triples: %w", err)
	}
	return out, nil
}

func decodePermKey(key []byte, slots [3]int) (rdf.Triple, error) {
	parts := bytes.SplitN(key, []byte(keySep), 3)
	if len(parts) != 3 {
		return rdf.Triple{}, fmt.Errorf("malformed index key %q", key)
	}
	var terms [3]rdf.Term
	for i, raw := range parts {
		term, err := rdf.DecodeTerm(string(raw))
		if err != nil {
			return rdf.Triple{}, fmt.Errorf("malformed index key %q: %w", key, err)
		}
		terms[slots[i]] = term
	}
	return rdf.Triple{Subject: terms[0], Predicate: terms[1], Object: terms[2]}, nil
}

func (g *boltGraph) Bind(ctx context.Context, prefix, iri string) error {
	err := g.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNS).Put([]byte(prefix), []byte(iri))
	})
	if err != nil {
		return fmt.Errorf("bind %q: %w", prefix, err)
	}
	return nil
}

func (g *boltGraph) Count(ctx context.Context) (int, error) {
	var n int
	err := g.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSPO).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count triples: %w", err)
	}
	return n, nil
}

func (g *boltGraph) Close() error {
	return g.db.Close()
}
