package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// Fetch downloads the catalog archive at source into dest. Sources may
// be http(s) URLs, file:// URLs or bare filesystem paths. The download
// is streamed; dest holds the complete archive only when Fetch returns
// nil.
func Fetch(ctx context.Context, source, dest string) error {
	u, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return fetchHTTP(ctx, source, dest)
	case "file":
		return copyLocal(u.Path, dest)
	case "":
		return copyLocal(source, dest)
	default:
		return fmt.Errorf("fetch catalog: unsupported scheme %q", u.Scheme)
	}
}

func fetchHTTP(ctx context.Context, source, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch catalog: server returned %s", resp.Status)
	}
	return writeFile(dest, resp.Body)
}

func copyLocal(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	defer f.Close()
	return writeFile(dest, f)
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	return f.Close()
}
