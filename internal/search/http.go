package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPProvider is a generic web-search-API-backed Provider. It targets a
// Bing/Brave-style JSON search endpoint: GET with an API key header and
// a `q`/`count` query, decoding a small, common subset of the response
// shape those APIs share.
type HTTPProvider struct {
	apiKey  string
	baseURL string
	client  *retryablehttp.Client
}

// NewHTTPProvider returns a Provider backed by a real search API.
// baseURL defaults to Brave Search's endpoint when empty.
func NewHTTPProvider(apiKey, baseURL string) *HTTPProvider {
	if baseURL == "" {
		baseURL = "https://api.search.brave.com/res/v1/web/search"
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = 15 * time.Second
	return &HTTPProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

var _ Provider = (*HTTPProvider)(nil)

type searchAPIResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
		} `json:"results"`
	} `json:"web"`
}

func (p *HTTPProvider) Search(ctx context.Context, query string, n int) ([]Result, error) {
	return p.query(ctx, query, n)
}

// Trending reuses the same endpoint with a fixed "trending now" query;
// the search-enrichment contract is opaque per spec.md §1, so a single
// query shape suffices for both callers.
func (p *HTTPProvider) Trending(ctx context.Context, n int) ([]Result, error) {
	return p.query(ctx, "trending topics today", n)
}

func (p *HTTPProvider) query(ctx context.Context, q string, n int) ([]Result, error) {
	if p.apiKey == "" {
		return nil, nil
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf(`search: parse base url: %w`, err)
	}
	qv := u.Query()
	qv.Set("q", q)
	qv.Set("count", fmt.Sprint(n))
	u.RawQuery = qv.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf(`search: build request: %w`, err)
	}
	req.Header.Set("X-Subscription-Token", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf(`search: request failed: %w`, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(`search: http %d`, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(`search: read response: %w`, err)
	}

	var parsed searchAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf(`search: decode response: %w`, err)
	}

	results := make([]Result, 0, len(parsed.Web.Results))
	for i, r := range parsed.Web.Results {
		if i >= n {
			break
		}
		results = append(results, Result{Title: r.Title, Snippet: r.Description, URL: r.URL})
	}
	return results, nil
}
