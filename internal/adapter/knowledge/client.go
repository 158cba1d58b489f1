// Package knowledge provides the retriever port backed by the knowledge
// service's HTTP search API.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opspilot-io/opspilot/internal/port/retriever"
	"github.com/opspilot-io/opspilot/internal/resilience"
)

// Client talks to the knowledge service search endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a knowledge search client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type searchRequest struct {
	Query      string   `json:"query"`
	Collection string   `json:"collection"`
	TopK       int      `json:"top_k"`
	FilterTags []string `json:"filter_tags,omitempty"`
}

type searchResponse struct {
	Results []retriever.Result `json:"results"`
}

// Search queries the named collection and returns scored hits.
func (c *Client) Search(ctx context.Context, query, collection string, topK int, filterTags []string) ([]retriever.Result, error) {
	body, err := json.Marshal(searchRequest{
		Query:      query,
		Collection: collection,
		TopK:       topK,
		FilterTags: filterTags,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	var results []retriever.Result
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("knowledge API error %d: %s", resp.StatusCode, string(data))
		}

		var sr searchResponse
		if err := json.Unmarshal(data, &sr); err != nil {
			return fmt.Errorf("unmarshal search response: %w", err)
		}
		results = sr.Results
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, fmt.Errorf("search %s: %w", collection, err)
		}
		return results, nil
	}
	if err := call(); err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	return results, nil
}
