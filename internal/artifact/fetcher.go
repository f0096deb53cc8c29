// Package artifact resolves raw document bytes from wherever the storage
// layer put them: a remote object URL or a local ephemeral path.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher is the collaborator the orchestrator uses to resolve artifact bytes.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (data []byte, contentType string, err error)
}

type fetcher struct {
	httpClient *http.Client
	log        *slog.Logger
}

func NewFetcher(timeout time.Duration, log *slog.Logger) Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &fetcher{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Fetch downloads the locator if it is an http(s) URL and reads it from disk
// otherwise. The content type comes from the response header when the server
// sends one, falling back to the file extension.
func (f *fetcher) Fetch(ctx context.Context, locator string) ([]byte, string, error) {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return f.fetchURL(ctx, locator)
	}
	data, err := os.ReadFile(locator)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact %s: %w", locator, err)
	}
	return data, GuessContentType(locator), nil
}

func (f *fetcher) fetchURL(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch artifact: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.log.Warn("artifact response body close error", "error", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch artifact: status %d for %s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact body: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = GuessContentType(url)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return data, ct, nil
}

// GuessContentType maps a path or URL extension to a mime type, defaulting to
// application/pdf as the dominant artifact kind.
func GuessContentType(locator string) string {
	ext := strings.ToLower(filepath.Ext(locator))
	if ct := mime.TypeByExtension(ext); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		return ct
	}
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	return "application/pdf"
}

var (
	pdfMagic    = []byte("%PDF-")
	pdfPageType = []byte("/Type /Page")
	pdfPageAlt  = []byte("/Type/Page")
)

// PageCount estimates the number of pages in a PDF by counting page objects.
// Non-PDF artifacts and unparseable files count as one page, which is also
// the unit cost fallback.
func PageCount(data []byte, contentType string) int {
	if contentType != "application/pdf" && !bytes.HasPrefix(data, pdfMagic) {
		return 1
	}
	n := countPageObjects(data, pdfPageType) + countPageObjects(data, pdfPageAlt)
	if n < 1 {
		return 1
	}
	return n
}

// countPageObjects counts marker occurrences not followed by an 's'
// (excluding the /Type /Pages tree nodes).
func countPageObjects(data, marker []byte) int {
	count := 0
	for i := 0; ; {
		j := bytes.Index(data[i:], marker)
		if j < 0 {
			break
		}
		at := i + j + len(marker)
		if at >= len(data) || data[at] != 's' {
			count++
		}
		i = i + j + len(marker)
	}
	return count
}
