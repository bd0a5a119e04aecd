// Package catalog talks to the external content catalog that supplies
// metadata for a rated item at creation time. The core never calls it
// mid-algorithm.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when upstream cannot find the requested content.
var ErrNotFound = errors.New("catalog: not found")

// Entry contains the catalog metadata used to seed a rated item.
type Entry struct {
	ExternalID string   `json:"id"`
	Title      string   `json:"title"`
	Category   string   `json:"category"`
	Genres     []string `json:"genres"`
}

// Client defines the contract for querying the upstream content catalog.
type Client interface {
	Lookup(ctx context.Context, externalID string) (*Entry, error)
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	logger  *log.Logger
}

// NewHTTPClient constructs a new HTTP-backed catalog client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *log.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = log.Default()
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse catalog url: %w", err)
	}
	return &HTTPClient{
		baseURL: parsed,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		logger: logger,
	}, nil
}

// Lookup retrieves content metadata by external id.
func (c *HTTPClient) Lookup(ctx context.Context, externalID string) (*Entry, error) {
	rel := &url.URL{Path: "/titles"}
	q := rel.Query()
	q.Set("id", externalID)
	rel.RawQuery = q.Encode()
	endpoint := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		c.logger.Printf("catalog: unexpected status %d for id %s", resp.StatusCode, externalID)
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var entry Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	if entry.ExternalID == "" {
		entry.ExternalID = externalID
	}
	return &entry, nil
}
