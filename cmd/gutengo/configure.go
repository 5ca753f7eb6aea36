package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/gutengo/gutengo/internal/metadata"
	"github.com/gutengo/gutengo/internal/text"
)

// persistedConfig is the JSON structure stored in <data dir>/config.json.
type persistedConfig struct {
	Backend        string `json:"backend,omitempty"`         // "bolt", "sqlite" or "sparql"
	CatalogURL     string `json:"catalog_url,omitempty"`     // catalog archive URL
	Mirror         string `json:"mirror,omitempty"`          // text mirror root
	SPARQLEndpoint string `json:"sparql_endpoint,omitempty"` // remote update endpoint
	SPARQLUser     string `json:"sparql_user,omitempty"`
	SPARQLPassword string `json:"sparql_password,omitempty"` // stored with 0600 permissions
}

// configFilePath returns the path to config.json.
func configFilePath() string {
	dataDir := os.Getenv("GUTENBERG_DATA")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dataDir = filepath.Join(home, "gutenberg_data")
	}
	return filepath.Join(dataDir, "config.json")
}

// loadPersistedConfig reads config.json if it exists.
func loadPersistedConfig() (*persistedConfig, error) {
	path := configFilePath()
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var cfg persistedConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// savePersistedConfig writes config.json with 0600 permissions.
func savePersistedConfig(cfg *persistedConfig) error {
	path := configFilePath()
	if path == "" {
		return fmt.Errorf("cannot determine config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	// Restricted permissions: the file may hold endpoint credentials.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

// runConfigure runs the interactive configuration wizard.
func runConfigure() {
	fmt.Printf("\n%s v%s — configuration\n\n", appName, version)

	reader := bufio.NewReader(os.Stdin)

	existing, _ := loadPersistedConfig()
	if existing == nil {
		existing = &persistedConfig{}
	}

	// Step 1: choose the metadata store backend.
	fmt.Println("Select the metadata store backend (↑↓ to move, Enter to select):")
	fmt.Println()

	type backendEntry struct {
		key  string
		name string
		desc string
	}
	backends := []backendEntry{
		{"bolt", "Bolt", "embedded key-value store, the default"},
		{"sqlite", "SQLite", "single relational database file"},
		{"sparql", "SPARQL endpoint", "remote RDF store, requires a server"},
	}

	items := make([]selectItem, len(backends))
	defaultIdx := 0
	for i, b := range backends {
		items[i] = selectItem{label: b.name, desc: b.desc}
		if existing.Backend == b.key {
			defaultIdx = i
		}
	}

	idx := interactiveSelect(items, defaultIdx)
	if idx < 0 {
		fmt.Println("  Cancelled.")
		return
	}
	selected := backends[idx]
	fmt.Printf("  ✓ %s\n\n", selected.name)

	cfg := &persistedConfig{Backend: selected.key}

	// Step 2: endpoint details for the remote backend.
	if selected.key == "sparql" {
		cfg.SPARQLEndpoint = promptString(reader, "Endpoint URL", existing.SPARQLEndpoint)
		cfg.SPARQLUser = promptString(reader, "Username (optional)", existing.SPARQLUser)

		if existing.SPARQLPassword != "" {
			fmt.Print("  Enter new password (or press Enter to keep current): ")
		} else {
			fmt.Print("  Password (optional): ")
		}
		password := readSecretLine(reader)
		if password == "" {
			password = existing.SPARQLPassword
		}
		cfg.SPARQLPassword = password
		fmt.Println()
	}

	// Step 3: catalog and mirror locations. Built-in defaults are not
	// persisted so later releases can move them.
	defaultCatalog := metadata.DefaultCatalogURL
	if existing.CatalogURL != "" {
		defaultCatalog = existing.CatalogURL
	}
	catalogURL := promptString(reader, "Catalog URL", defaultCatalog)
	if catalogURL != metadata.DefaultCatalogURL {
		cfg.CatalogURL = catalogURL
	}

	defaultMirror := text.DefaultMirror
	if existing.Mirror != "" {
		defaultMirror = existing.Mirror
	}
	mirror := promptString(reader, "Text mirror", defaultMirror)
	if mirror != text.DefaultMirror {
		cfg.Mirror = mirror
	}
	fmt.Println()

	// Save.
	if err := savePersistedConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  ✓ Configuration saved to %s\n\n", configFilePath())

	if cfg.Backend == "sparql" {
		fmt.Print("  Testing endpoint... ")
		if err := testEndpoint(cfg); err != nil {
			fmt.Printf("⚠ %v\n", err)
			fmt.Printf("  You can fix this later and re-run: %s configure\n", appName)
		} else {
			fmt.Println("✓ Reachable!")
		}
	}

	fmt.Printf("\n  Ready! Run: %s populate\n\n", appName)
}

// testEndpoint checks that the configured SPARQL endpoint answers HTTP.
func testEndpoint(cfg *persistedConfig) error {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodGet, cfg.SPARQLEndpoint, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if cfg.SPARQLUser != "" {
		req.SetBasicAuth(cfg.SPARQLUser, cfg.SPARQLPassword)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("authentication failed (HTTP %d) — check the credentials", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
	}
	return nil
}

// --- Terminal helpers ---

// selectItem is one entry in an interactive selector.
type selectItem struct {
	label string
	desc  string
}

// interactiveSelect shows an arrow-key navigable menu and returns the
// 0-based index of the selected item, or -1 if cancelled. Terminals
// without raw mode fall back to numbered input.
func interactiveSelect(items []selectItem, defaultIdx int) int {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fallbackSelect(items, defaultIdx)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fallbackSelect(items, defaultIdx)
	}
	defer term.Restore(fd, oldState)

	cursor := defaultIdx
	if cursor < 0 || cursor >= len(items) {
		cursor = 0
	}

	// First render starts with the terminal at the top of the list.
	redrawMenu(items, cursor, 0)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			continue
		}

		switch {
		case n == 1 && (buf[0] == '\r' || buf[0] == '\n'):
			// Enter — confirm. Move below the list.
			fmt.Printf("\r\033[%dB", len(items)-cursor)
			fmt.Print("\r\n")
			return cursor

		case n == 1 && (buf[0] == 3 || buf[0] == 'q'):
			// Ctrl+C or q — cancel.
			fmt.Printf("\r\033[%dB", len(items)-cursor)
			fmt.Print("\r\n")
			return -1

		case n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'A',
			n == 1 && buf[0] == 'k':
			// Up.
			if cursor > 0 {
				cursor--
				redrawMenu(items, cursor, cursor+1)
			}

		case n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'B',
			n == 1 && buf[0] == 'j':
			// Down.
			if cursor < len(items)-1 {
				cursor++
				redrawMenu(items, cursor, cursor-1)
			}
		}
	}
}

// redrawMenu repaints the list. rest is the list line the terminal
// cursor currently rests on, counted from the top of the list.
func redrawMenu(items []selectItem, cursor, rest int) {
	if rest > 0 {
		fmt.Printf("\033[%dA", rest)
	}

	for i, item := range items {
		fmt.Print("\r\033[K")
		if i == cursor {
			if item.desc != "" {
				fmt.Printf("  \033[1;36m→ %-18s\033[0m \033[90m%s\033[0m", item.label, item.desc)
			} else {
				fmt.Printf("  \033[1;36m→ %s\033[0m", item.label)
			}
		} else {
			if item.desc != "" {
				fmt.Printf("    %-18s \033[90m%s\033[0m", item.label, item.desc)
			} else {
				fmt.Printf("    %s", item.label)
			}
		}
		if i < len(items)-1 {
			fmt.Print("\n")
		}
	}

	// Leave the terminal cursor on the selected line.
	if cursor < len(items)-1 {
		fmt.Printf("\033[%dA", len(items)-1-cursor)
	}
}

// fallbackSelect is a numbered-input fallback for non-TTY sessions.
func fallbackSelect(items []selectItem, defaultIdx int) int {
	reader := bufio.NewReader(os.Stdin)
	for i, item := range items {
		marker := "  "
		if i == defaultIdx {
			marker = "→ "
		}
		if item.desc != "" {
			fmt.Printf("  %s%d) %-18s %s\n", marker, i+1, item.label, item.desc)
		} else {
			fmt.Printf("  %s%d) %s\n", marker, i+1, item.label)
		}
	}
	fmt.Println()

	defaultStr := ""
	if defaultIdx >= 0 && defaultIdx < len(items) {
		defaultStr = strconv.Itoa(defaultIdx + 1)
	}

	for {
		if defaultStr != "" {
			fmt.Printf("  Choose [%s]: ", defaultStr)
		} else {
			fmt.Print("  Choose: ")
		}

		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" && defaultStr != "" {
			line = defaultStr
		}

		if choice, convErr := strconv.Atoi(line); convErr == nil && choice >= 1 && choice <= len(items) {
			return choice - 1
		}
		if err != nil {
			// Input closed before a valid choice was made.
			return -1
		}
		fmt.Printf("  Enter a number between 1 and %d.\n", len(items))
	}
}

// promptString asks for a string with a default value.
func promptString(reader *bufio.Reader, prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Printf("  %s: ", prompt)
	}

	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultVal
	}
	return line
}

// readSecretLine reads a line without echoing it.
func readSecretLine(reader *bufio.Reader) string {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}

	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
