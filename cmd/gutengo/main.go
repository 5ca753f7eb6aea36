// Package main is the entry point for the gutengo command line tool.
//
// Usage:
//
//	gutengo populate           — build the metadata cache
//	gutengo query title 2701   — look up metadata
//	gutengo text --strip 2701  — fetch and clean an ebook text
//	gutengo version            — print version
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gutengo/gutengo/internal/cleanup"
	"github.com/gutengo/gutengo/internal/config"
	"github.com/gutengo/gutengo/internal/metadata"
	"github.com/gutengo/gutengo/internal/observability"
	"github.com/gutengo/gutengo/internal/query"
	"github.com/gutengo/gutengo/internal/storage"
	"github.com/gutengo/gutengo/internal/text"
)

const (
	version = "0.1.0"
	appName = "gutengo"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "populate":
		runPopulate()
	case "refresh":
		runRefresh()
	case "delete":
		runDelete()
	case "wipe":
		runWipe()
	case "status":
		runStatus()
	case "query":
		runQuery(os.Args[2:])
	case "text":
		runText(os.Args[2:])
	case "strip":
		runStrip()
	case "configure":
		runConfigure()
	case "version":
		fmt.Printf("%s v%s\n", appName, version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s v%s — Project Gutenberg metadata and text cache

Usage:
  %s <command> [arguments]

Commands:
  populate    Download the catalog and build the metadata cache
  refresh     Rebuild the metadata cache from the current catalog
  delete      Delete the local metadata cache
  wipe        Clear all data from a remote metadata store
  status      Check the cache and configuration
  query       Look up metadata: query <feature> <etext> or query <feature> <value>
  text        Fetch an ebook text: text [--strip] [--mirror URL] [--refresh] <etext>
  strip       Strip Project Gutenberg boilerplate from stdin
  configure   Interactive configuration wizard
  version     Print version

Environment variables:
  GUTENBERG_DATA             Data directory (default: ~/gutenberg_data)
  GUTENBERG_CATALOG_URL      Catalog archive URL
  GUTENBERG_MIRROR           Text mirror root (default: %s)
  GUTENBERG_SPARQL_ENDPOINT  SPARQL update endpoint (selects the sparql backend)
  GUTENBERG_SPARQL_USER      SPARQL basic-auth username
  GUTENBERG_SPARQL_PASSWORD  SPARQL basic-auth password

`, appName, version, appName, text.DefaultMirror)
}

// cliConfig is the resolved configuration for one invocation.
type cliConfig struct {
	config.Config

	// Backend is the persisted backend choice: "bolt", "sqlite",
	// "sparql" or "" for the default.
	Backend string
}

// loadConfig resolves settings in precedence order: environment
// variables, then the persisted config file, then built-in defaults.
func loadConfig() cliConfig {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[config] %v", err)
	}

	out := cliConfig{Config: cfg}

	persisted, err := loadPersistedConfig()
	if err != nil {
		log.Printf("[config] ignoring persisted config: %v", err)
		return out
	}
	if persisted == nil {
		return out
	}

	out.CatalogURL = envOrPersisted("GUTENBERG_CATALOG_URL", cfg.CatalogURL, persisted.CatalogURL)
	out.Mirror = envOrPersisted("GUTENBERG_MIRROR", cfg.Mirror, persisted.Mirror)
	out.SPARQLEndpoint = envOrPersisted("GUTENBERG_SPARQL_ENDPOINT", cfg.SPARQLEndpoint, persisted.SPARQLEndpoint)
	out.SPARQLUser = envOrPersisted("GUTENBERG_SPARQL_USER", cfg.SPARQLUser, persisted.SPARQLUser)
	out.SPARQLPassword = envOrPersisted("GUTENBERG_SPARQL_PASSWORD", cfg.SPARQLPassword, persisted.SPARQLPassword)
	out.Backend = persisted.Backend
	return out
}

// envOrPersisted returns the persisted value only when the environment
// variable is unset; the environment always wins.
func envOrPersisted(envKey, fromEnv, fromFile string) string {
	if os.Getenv(envKey) != "" || fromFile == "" {
		return fromEnv
	}
	return fromFile
}

// buildBackend selects the metadata store. A configured SPARQL endpoint
// always selects the remote backend; otherwise the persisted choice
// applies, falling back from bolt to sqlite when bolt cannot run here.
func buildBackend(cfg cliConfig) (storage.Backend, error) {
	if cfg.SPARQLEndpoint != "" {
		return storage.NewSPARQLBackend(cfg.SPARQLEndpoint, metadata.GraphID, cfg.SPARQLUser, cfg.SPARQLPassword), nil
	}
	if cfg.Backend == storage.KindSQLite {
		return storage.NewSQLiteBackend(cfg.MetadataDBPath()), nil
	}

	b, err := storage.NewBoltBackend(cfg.MetadataDBPath())
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, storage.ErrUnavailable) {
		return nil, err
	}
	log.Printf("[config] bolt backend unavailable, using sqlite: %v", err)
	return storage.NewSQLiteBackend(cfg.MetadataDBPath()), nil
}

func buildManager(cfg cliConfig) (*metadata.Manager, error) {
	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}
	m := metadata.NewManager(backend, cliLogger("metadata"), nil)
	if cfg.CatalogURL != "" {
		m.CatalogSource = cfg.CatalogURL
	}
	return m, nil
}

// cliLogger logs at INFO so per-triple debug events do not flood the
// terminal during population.
func cliLogger(component string) *observability.Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return observability.NewLoggerWithHandler(component, h)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupted, shutting down...")
		cancel()
	}()

	return ctx, cancel
}

// runPopulate builds a fresh metadata cache from the catalog dump.
func runPopulate() {
	cfg := loadConfig()
	m, err := buildManager(cfg)
	if err != nil {
		log.Fatalf("[populate] %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Populating the metadata cache from %s\n", m.CatalogSource)
	fmt.Println("This downloads the full catalog and may take a while.")

	stats, err := m.Populate(ctx)
	if err != nil {
		if errors.Is(err, metadata.ErrCacheAlreadyExists) {
			fmt.Fprintf(os.Stderr, "the cache already exists — run '%s refresh' to rebuild it\n", appName)
		}
		log.Fatalf("[populate] %v", err)
	}

	fmt.Printf("Done in %s: %d documents (%d skipped), %d triples (%d skipped)\n",
		stats.Duration.Round(time.Second),
		stats.Documents, stats.DocumentsSkipped,
		stats.Triples, stats.TriplesSkipped)
}

// runRefresh rebuilds the cache from the current catalog.
func runRefresh() {
	cfg := loadConfig()
	m, err := buildManager(cfg)
	if err != nil {
		log.Fatalf("[refresh] %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Rebuilding the metadata cache from %s\n", m.CatalogSource)
	if err := m.Refresh(ctx); err != nil {
		log.Fatalf("[refresh] %v", err)
	}

	n, err := m.Graph().Count(ctx)
	m.Close()
	if err != nil {
		log.Fatalf("[refresh] %v", err)
	}
	fmt.Printf("Done: cache rebuilt, %d triples.\n", n)
}

// runDelete removes the local metadata store.
func runDelete() {
	cfg := loadConfig()
	m, err := buildManager(cfg)
	if err != nil {
		log.Fatalf("[delete] %v", err)
	}

	if err := m.Delete(); err != nil {
		if errors.Is(err, metadata.ErrCacheNotRemovable) {
			fmt.Fprintf(os.Stderr, "this backend has no local store to delete — run '%s wipe' to clear the remote data\n", appName)
		}
		log.Fatalf("[delete] %v", err)
	}
	fmt.Println("Metadata cache deleted.")
}

// runWipe clears all data from the configured store. Unlike delete this
// also works on remote backends, so it asks first.
func runWipe() {
	cfg := loadConfig()
	m, err := buildManager(cfg)
	if err != nil {
		log.Fatalf("[wipe] %v", err)
	}

	fmt.Printf("This removes all catalog data from %s (%s).\n", m.Backend().URI(), m.Backend().Kind())
	fmt.Print("Continue? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
		fmt.Println("Aborted.")
		return
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := m.Wipe(ctx); err != nil {
		log.Fatalf("[wipe] %v", err)
	}
	fmt.Println("Metadata cache wiped.")
}

// runStatus inspects the configuration and both caches.
func runStatus() {
	cfg := loadConfig()

	fmt.Printf("\n%s v%s — status\n\n", appName, version)

	issues := 0
	checks := 0

	// Check 1: data directory.
	checks++
	if info, err := os.Stat(cfg.DataDir); err != nil {
		fmt.Printf("  … Data directory: %s (not created yet)\n", cfg.DataDir)
	} else if !info.IsDir() {
		fmt.Printf("  ✗ Data directory: %s (not a directory)\n", cfg.DataDir)
		issues++
	} else {
		fmt.Printf("  ✓ Data directory: %s\n", cfg.DataDir)
	}

	// Check 2: config file.
	checks++
	cfgPath := configFilePath()
	persisted, err := loadPersistedConfig()
	switch {
	case err != nil:
		fmt.Printf("  ✗ Config file: %s (%v)\n", cfgPath, err)
		issues++
	case persisted == nil:
		fmt.Printf("  … Config file: not found — environment and defaults apply\n")
	default:
		info, statErr := os.Stat(cfgPath)
		if statErr == nil && info.Mode().Perm()&0o077 != 0 {
			fmt.Printf("  ⚠ Config file: %s (permissions %o — should be 600)\n", cfgPath, info.Mode().Perm())
			issues++
		} else {
			fmt.Printf("  ✓ Config file: %s\n", cfgPath)
		}
	}

	// Check 3: metadata backend and cache.
	checks++
	m, err := buildManager(cfg)
	if err != nil {
		fmt.Printf("  ✗ Metadata backend: %v\n", err)
		issues++
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		b := m.Backend()
		fmt.Printf("  ✓ Metadata backend: %s (%s)\n", b.Kind(), b.URI())

		checks++
		if m.State(ctx) == metadata.StateAbsent {
			fmt.Printf("  … Metadata cache: absent — run: %s populate\n", appName)
		} else if err := m.Open(ctx); err != nil {
			fmt.Printf("  ✗ Metadata cache: %v\n", err)
			issues++
		} else {
			n, countErr := m.Graph().Count(ctx)
			m.Close()
			if countErr != nil {
				fmt.Printf("  ✗ Metadata cache: %v\n", countErr)
				issues++
			} else {
				fmt.Printf("  ✓ Metadata cache: %d triples\n", n)
			}
		}
	}

	// Check 4: text cache.
	checks++
	textDir := cfg.TextDir()
	if cached, _ := filepath.Glob(filepath.Join(textDir, "*.txt.gz")); len(cached) > 0 {
		var total int64
		for _, p := range cached {
			if info, err := os.Stat(p); err == nil {
				total += info.Size()
			}
		}
		fmt.Printf("  ✓ Text cache: %d texts (%d KB) in %s\n", len(cached), total/1024, textDir)
	} else {
		fmt.Printf("  … Text cache: empty (%s)\n", textDir)
	}

	fmt.Println()
	if issues == 0 {
		fmt.Printf("  All %d checks passed ✓\n\n", checks)
	} else {
		fmt.Printf("  %d/%d checks passed, %d issue(s) found.\n\n", checks-issues, checks, issues)
	}
}

// runQuery looks up metadata. A numeric second argument asks for the
// features of that text, anything else asks for the texts matching that
// value.
func runQuery(args []string) {
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s query <feature> <etext|value>\n", appName)
		os.Exit(2)
	}
	feature, arg := args[0], args[1]

	cfg := loadConfig()
	m, err := buildManager(cfg)
	if err != nil {
		log.Fatalf("[query] %v", err)
	}
	registry := metadata.NewRegistry(cfg.MetadataDBPath(), cliLogger("metadata"))
	registry.Set(m)
	svc := query.NewService(registry)

	ctx, cancel := signalContext()
	defer cancel()
	defer m.Close()

	if etext, convErr := strconv.Atoi(arg); convErr == nil {
		values, err := svc.Metadata(ctx, feature, etext)
		if err != nil {
			log.Fatalf("[query] %v", err)
		}
		for _, v := range values {
			fmt.Println(v)
		}
		return
	}

	etexts, err := svc.Etexts(ctx, feature, arg)
	if err != nil {
		log.Fatalf("[query] %v", err)
	}
	for _, n := range etexts {
		fmt.Println(n)
	}
}

// runText fetches an ebook text, serving it from the local cache when
// present.
func runText(args []string) {
	fs := flag.NewFlagSet("text", flag.ExitOnError)
	strip := fs.Bool("strip", false, "strip the Project Gutenberg header and footer")
	mirror := fs.String("mirror", "", "override the text mirror for this fetch")
	refresh := fs.Bool("refresh", false, "re-download even when cached")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s text [--strip] [--mirror URL] [--refresh] <etext>\n", appName)
		os.Exit(2)
	}
	etext, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		log.Fatalf("[text] invalid text number %q", fs.Arg(0))
	}

	cfg := loadConfig()
	loader := text.NewLoader(cfg.TextDir(), cfg.Mirror, nil, cliLogger("text"), nil)

	ctx, cancel := signalContext()
	defer cancel()

	body, err := loader.LoadEtext(ctx, etext, text.Options{Refresh: *refresh, Mirror: *mirror})
	if err != nil {
		log.Fatalf("[text] %v", err)
	}
	if *strip {
		body = cleanup.StripHeaders(body)
	}

	fmt.Print(body)
	if !strings.HasSuffix(body, "\n") {
		fmt.Println()
	}
}

// runStrip filters stdin through the boilerplate stripper.
func runStrip() {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatalf("[strip] read stdin: %v", err)
	}
	fmt.Println(cleanup.StripHeaders(string(data)))
}
