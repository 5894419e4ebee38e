// Package winecheck is the boundary to the external wine-name matching
// service. Matching is enrichment only: it may annotate a line any time
// before lock and never gates acceptance. Calls happen outside any storage
// transaction so a slow or failing matcher cannot stall an accept.
package winecheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Query describes the line to match.
type Query struct {
	Name     string `json:"name"`
	Producer string `json:"producer,omitempty"`
	Vintage  int    `json:"vintage,omitempty"`
}

// Match is the fixed allowed field set returned to callers. The service may
// send more fields; anything outside this set is dropped at this boundary so
// it can never leak into storage.
type Match struct {
	Name       string  `json:"canonical_name"`
	Producer   string  `json:"canonical_producer"`
	Confidence float64 `json:"confidence"`
}

// Client matches a wine description against the canonical database.
type Client interface {
	Match(ctx context.Context, q Query) (*Match, error)
}

// HTTPClient talks to the hosted matching API.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) Match(ctx context.Context, q Query) (*Match, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/match", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // no match is not an error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("winecheck: unexpected status %d", resp.StatusCode)
	}
	var m Match
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
