// Package config resolves runtime settings from GUTENBERG_* environment
// variables, with defaults matching the public Project Gutenberg
// mirrors.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime settings.
type Config struct {
	// DataDir roots all persisted files: the metadata store and the
	// text cache. Defaults to ~/gutenberg_data.
	DataDir string `env:"GUTENBERG_DATA"`

	// CatalogURL serves the full metadata catalog dump.
	CatalogURL string `env:"GUTENBERG_CATALOG_URL" envDefault:"http://www.gutenberg.org/cache/epub/feeds/rdf-files.tar.bz2"`

	// Mirror serves raw text files.
	Mirror string `env:"GUTENBERG_MIRROR" envDefault:"http://aleph.gutenberg.org"`

	// SPARQLEndpoint selects the remote backend when set. The
	// credentials are optional.
	SPARQLEndpoint string `env:"GUTENBERG_SPARQL_ENDPOINT"`
	SPARQLUser     string `env:"GUTENBERG_SPARQL_USER"`
	SPARQLPassword string `env:"GUTENBERG_SPARQL_PASSWORD"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, "gutenberg_data")
	}
	return cfg, nil
}

// LocalPath returns a path rooted at the data directory.
func (c Config) LocalPath(elem ...string) string {
	return filepath.Join(append([]string{c.DataDir}, elem...)...)
}

// MetadataDBPath returns the default metadata store location.
func (c Config) MetadataDBPath() string {
	return c.LocalPath("metadata", "metadata.db")
}

// TextDir returns the directory holding cached raw texts.
func (c Config) TextDir() string {
	return c.LocalPath("text")
}
