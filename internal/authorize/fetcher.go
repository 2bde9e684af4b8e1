package authorize

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxRequestObjectBytes bounds how much of a request_uri document is read.
const maxRequestObjectBytes = 64 * 1024

// HTTPRequestFetcher dereferences request_uri values over HTTP with a
// bounded timeout and response size.
type HTTPRequestFetcher struct {
	client *http.Client
}

func NewHTTPRequestFetcher(timeout time.Duration) *HTTPRequestFetcher {
	return &HTTPRequestFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPRequestFetcher) Fetch(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("could not build request_uri fetch: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not fetch request_uri: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request_uri fetch returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestObjectBytes))
	if err != nil {
		return "", fmt.Errorf("could not read request_uri body: %w", err)
	}
	return string(body), nil
}
