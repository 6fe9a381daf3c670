// Package catfetch downloads status code images from the configured source
// and extracts the metadata needed to upload them.
package catfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"httpcat/internal/core"
)

// StatusPlaceholder is replaced with the status code in URL templates.
const StatusPlaceholder = "{status}"

// DefaultMaxBodySize caps image downloads (20 MB).
const DefaultMaxBodySize = 20 * 1024 * 1024

// Fetcher implements core.ImageSource over HTTP.
type Fetcher struct {
	client      *http.Client
	urlTemplate string
	maxBodySize int64
}

// New creates a Fetcher for the given URL template, e.g. "https://http.cat/{status}".
func New(client *http.Client, urlTemplate string) (*Fetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if !strings.Contains(urlTemplate, StatusPlaceholder) {
		return nil, fmt.Errorf("url template %q has no %s placeholder", urlTemplate, StatusPlaceholder)
	}
	return &Fetcher{
		client:      client,
		urlTemplate: urlTemplate,
		maxBodySize: DefaultMaxBodySize,
	}, nil
}

// SetMaxBodySize overrides the download size limit.
func (f *Fetcher) SetMaxBodySize(n int64) {
	if n > 0 {
		f.maxBodySize = n
	}
}

// URL builds the fetch URL for a status code.
func (f *Fetcher) URL(status core.StatusCode) string {
	return BuildURL(f.urlTemplate, status)
}

// BuildURL substitutes every {status} placeholder in tmpl.
func BuildURL(tmpl string, status core.StatusCode) string {
	return strings.ReplaceAll(tmpl, StatusPlaceholder, status.String())
}

// Fetch downloads the image for status.
// A non-2xx response is returned as *core.FetchFailure.
func (f *Fetcher) Fetch(ctx context.Context, status core.StatusCode) ([]byte, error) {
	url := f.URL(status)
	slog.Info("fetching cat", "status", int(status), "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, core.NewFetchFailure(status, resp.StatusCode,
			fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url))
	}

	limited := io.LimitReader(resp.Body, f.maxBodySize+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(raw)) > f.maxBodySize {
		return nil, fmt.Errorf("response body too large (exceeds %d bytes)", f.maxBodySize)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty response body from %s", url)
	}

	return raw, nil
}
