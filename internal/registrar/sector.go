package registrar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SectorFetcher retrieves the redirect URI list published at a client's
// sector_identifier_uri.
type SectorFetcher interface {
	Fetch(ctx context.Context, uri string) ([]string, error)
}

// HTTPSectorFetcher fetches sector documents over HTTP with a bounded
// timeout. The document must be a JSON array of redirect URIs.
type HTTPSectorFetcher struct {
	client *http.Client
}

func NewHTTPSectorFetcher(timeout time.Duration) *HTTPSectorFetcher {
	return &HTTPSectorFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPSectorFetcher) Fetch(ctx context.Context, uri string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("could not build sector request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch sector document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sector document fetch returned %d", resp.StatusCode)
	}

	var uris []string
	if err := json.NewDecoder(resp.Body).Decode(&uris); err != nil {
		return nil, fmt.Errorf("sector document is not a JSON array of URIs: %w", err)
	}
	return uris, nil
}
