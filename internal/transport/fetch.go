// Package transport moves snapshots from the backend into the engine: a
// polling HTTP fetcher and a websocket client for pushed updates.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tobert/livedash/internal/snapshot"
)

// ErrBadStatus is returned when the backend answers with a non-2xx status.
var ErrBadStatus = errors.New("unexpected response status")

// DataPath is the backend endpoint serving the current snapshot.
const DataPath = "/data"

// maxSnapshotBytes bounds a single snapshot body.
const maxSnapshotBytes = 64 << 20

// Fetcher polls the backend's data endpoint.
type Fetcher struct {
	endpoint string
	client   *http.Client
}

// NewFetcher creates a fetcher for the backend at baseURL. A nil client
// selects one with a 10s timeout.
func NewFetcher(baseURL string, client *http.Client) (*Fetcher, error) {
	endpoint, err := DataURL(baseURL)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Fetcher{endpoint: endpoint, client: client}, nil
}

// DataURL resolves the data endpoint below baseURL.
func DataURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", fmt.Errorf("backend URL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid backend URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid backend URL %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + DataPath
	return u.String(), nil
}

// Endpoint returns the URL being polled.
func (f *Fetcher) Endpoint() string {
	return f.endpoint
}

// Fetch retrieves and decodes the current snapshot.
func (f *Fetcher) Fetch(ctx context.Context) (*snapshot.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch %s: %w: %s", f.endpoint, ErrBadStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.endpoint, err)
	}
	if len(body) > maxSnapshotBytes {
		return nil, fmt.Errorf("fetch %s: snapshot exceeds %d bytes", f.endpoint, maxSnapshotBytes)
	}

	return snapshot.Decode(body)
}
