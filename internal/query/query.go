// Package query answers feature-based lookups against the metadata
// cache: which values a text has for a feature, and which texts carry a
// feature value. Features cover the catalog fields exposed per work
// (author, title, formaturi, rights, language, subject).
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gutengo/gutengo/internal/metadata"
	"github.com/gutengo/gutengo/internal/observability"
	"github.com/gutengo/gutengo/internal/storage"
)

var (
	// ErrUnsupportedFeature reports a feature name no extractor handles.
	ErrUnsupportedFeature = errors.New("no extractor registered for feature")

	// ErrInvalidEtext reports a non-positive text identifier.
	ErrInvalidEtext = errors.New("invalid text identifier")
)

// Service resolves feature lookups against a cache registry. The cache
// is opened lazily on the first lookup.
type Service struct {
	registry *metadata.Registry
}

// NewService returns a query service over the given registry.
func NewService(registry *metadata.Registry) *Service {
	return &Service{registry: registry}
}

// Metadata returns the values of one feature for one text, sorted and
// deduplicated. A text without values for the feature yields an empty
// result, not an error.
func (s *Service) Metadata(ctx context.Context, feature string, etext int) ([]string, error) {
	ex, err := lookupExtractor(feature)
	if err != nil {
		return nil, err
	}
	if etext <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEtext, etext)
	}
	m, g, err := s.graph(ctx)
	if err != nil {
		return nil, err
	}
	defer observe(m, feature, time.Now())
	return metadataValues(ctx, g, ex, etext)
}

// Etexts returns the identifiers of all texts whose feature matches the
// value, sorted and deduplicated.
func (s *Service) Etexts(ctx context.Context, feature, value string) ([]int, error) {
	ex, err := lookupExtractor(feature)
	if err != nil {
		return nil, err
	}
	m, g, err := s.graph(ctx)
	if err != nil {
		return nil, err
	}
	defer observe(m, feature, time.Now())
	return etextsFor(ctx, g, ex, value)
}

// graph fetches the registry's manager and makes sure it is open.
func (s *Service) graph(ctx context.Context) (*metadata.Manager, storage.Graph, error) {
	m, err := s.registry.Get()
	if err != nil {
		return nil, nil, err
	}
	if err := m.Open(ctx); err != nil {
		return nil, nil, err
	}
	return m, m.Graph(), nil
}

func observe(m *metadata.Manager, feature string, start time.Time) {
	m.Metrics().Record(observability.MetricQueryMillis,
		float64(time.Since(start).Milliseconds()),
		observability.Labels{"feature": feature})
}

var (
	defaultService     *Service
	defaultServiceOnce sync.Once
)

func service() *Service {
	defaultServiceOnce.Do(func() {
		defaultService = NewService(metadata.DefaultRegistry())
	})
	return defaultService
}

// Metadata looks up a feature for a text through the default registry.
func Metadata(ctx context.Context, feature string, etext int) ([]string, error) {
	return service().Metadata(ctx, feature, etext)
}

// Etexts looks up the texts matching a feature value through the
// default registry.
func Etexts(ctx context.Context, feature, value string) ([]int, error) {
	return service().Etexts(ctx, feature, value)
}
