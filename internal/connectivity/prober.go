package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPProber checks GET <BaseURL>/health. Any response below 500 counts as
// reachable: even a 401 or 404 proves the network path works.
type HTTPProber struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPProber(baseURL string, httpClient *http.Client) *HTTPProber {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPProber{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
	}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach backend: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("backend health returned status %d", resp.StatusCode)
	}
	return nil
}
