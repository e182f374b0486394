package gather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ppiankov/nocap/internal/extract"
	"github.com/ppiankov/nocap/internal/model"
	"github.com/ppiankov/nocap/internal/worker"
)

// Searcher runs a web search
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]model.WebResult, error)
}

// DuckDuckGo searches through the DuckDuckGo HTML endpoint
type DuckDuckGo struct {
	endpoint   string
	region     string
	userAgent  string
	httpClient *http.Client
	limiter    *worker.Limiter
}

// NewDuckDuckGo creates a DuckDuckGo searcher
func NewDuckDuckGo(cfg model.SearchConfig, httpCfg model.HTTPConfig) *DuckDuckGo {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = model.DefaultConfig().Search.Endpoint
	}
	return &DuckDuckGo{
		endpoint:   endpoint,
		region:     cfg.Region,
		userAgent:  httpCfg.UserAgent,
		httpClient: newHTTPClient(httpCfg.Timeout, httpCfg.HTTPProxy, httpCfg.HTTPSProxy),
		limiter:    worker.NewLimiter(1, 1),
	}
}

// Search returns up to max results in engine order
func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]model.WebResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || max <= 0 {
		return []model.WebResult{}, nil
	}

	if err := d.limiter.Wait(ctx, d.endpoint); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", query)
	if d.region != "" {
		form.Set("kl", d.region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// DuckDuckGo answers throttled clients with 202 and a challenge page
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read search results: %w", err)
	}

	results, err := extract.SearchResults(string(body), d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}
	if len(results) > max {
		results = results[:max]
	}
	return results, nil
}
