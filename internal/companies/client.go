package companies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 20 * time.Second
	maxResponseBytes = 8 << 20
)

// ErrFetchCompanies wraps every failure of the company list request.
var ErrFetchCompanies = errors.New("error fetching companies")

// Client reads the company list of a tenant from the remote API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient constructs a client for baseURL/tenantID.
func NewClient(baseURL, tenantID string, timeout time.Duration) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("companies: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("companies: parse base URL: %w", err)
	}
	endpoint := base
	if tenant := strings.Trim(strings.TrimSpace(tenantID), "/"); tenant != "" {
		endpoint = base + "/" + url.PathEscape(tenant)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Endpoint exposes the resolved list URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// List fetches the companies available to the bearer of token. The token is
// sent as-is, an empty one is rejected upstream and surfaces as a fetch error.
func (c *Client) List(ctx context.Context, token string) ([]Company, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetchCompanies, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchCompanies, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: status %d", ErrFetchCompanies, resp.StatusCode)
	}

	var list []Company
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrFetchCompanies, err)
	}
	if list == nil {
		list = []Company{}
	}
	return list, nil
}
