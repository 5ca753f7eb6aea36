package metadata

import (
	"errors"
	"io"
	"sync"

	"github.com/gutengo/gutengo/internal/config"
	"github.com/gutengo/gutengo/internal/observability"
	"github.com/gutengo/gutengo/internal/storage"
)

// Registry holds the cache instance the query layer reads from. Callers
// that want a non-default backend construct a Manager themselves and
// register it with Set; everyone else gets a lazily constructed default
// from Get.
type Registry struct {
	mu      sync.Mutex
	current *Manager
	dbPath  string
	log     *observability.Logger
}

// NewRegistry returns a registry whose default cache lives at dbPath.
func NewRegistry(dbPath string, log *observability.Logger) *Registry {
	if log == nil {
		log = observability.NewLogger("metadata", io.Discard)
	}
	return &Registry{dbPath: dbPath, log: log}
}

// Get returns the registered manager, constructing the default one on
// first use.
func (r *Registry) Get() (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return r.current, nil
	}
	backend, err := r.defaultBackend()
	if err != nil {
		return nil, err
	}
	r.current = NewManager(backend, r.log, nil)
	return r.current, nil
}

// Set replaces the registered manager, closing the previous one if it
// is open. Passing nil clears the registration so the next Get
// constructs the default again.
func (r *Registry) Set(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.current.IsOpen() {
		r.current.Close()
	}
	r.current = m
}

// defaultBackend tries the preferred backend constructors in order and
// returns the first one that is available in this environment.
func (r *Registry) defaultBackend() (storage.Backend, error) {
	b, err := storage.NewBoltBackend(r.dbPath)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, storage.ErrUnavailable) {
		return nil, err
	}
	r.log.Warn("unable to create bolt-backed cache, falling back to sqlite backend, performance may be degraded",
		"error", err.Error())
	return storage.NewSQLiteBackend(r.dbPath), nil
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry, rooted at the
// configured data directory on first use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			cfg = config.Config{DataDir: "gutenberg_data"}
		}
		defaultRegistry = NewRegistry(cfg.MetadataDBPath(), observability.NewLogger("metadata", nil))
	})
	return defaultRegistry
}
