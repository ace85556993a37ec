// Package websearch queries the Tavily search API.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kailas-cloud/ragtools/internal/domain"
)

// DefaultEndpoint is the Tavily search URL.
const DefaultEndpoint = "https://api.tavily.com/search"

// Config holds Tavily client settings.
type Config struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// Client is a Tavily search client.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// NewClient creates a Tavily client.
func NewClient(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type searchResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search returns up to n web results in provider order.
func (c *Client) Search(ctx context.Context, query string, n int) ([]domain.WebResult, error) {
	payload, err := json.Marshal(searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		MaxResults:  n,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWebSearch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrWebSearch, resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrWebSearch, err)
	}

	out := make([]domain.WebResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if len(out) == n {
			break
		}
		out = append(out, domain.WebResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
