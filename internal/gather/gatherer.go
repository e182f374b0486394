// Package gather finds and fetches web evidence for a claim.
package gather

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ppiankov/nocap/internal/model"
	"github.com/ppiankov/nocap/internal/worker"
)

// Document is one piece of gathered evidence
type Document struct {
	URL       string              `json:"url"`
	Title     string              `json:"title"`
	Text      string              `json:"text"`
	Authority model.AuthorityTier `json:"authority"`
	Snippet   bool                `json:"snippet"` // Text is the search snippet; the page could not be fetched
}

// PageFetcher returns the readable text of a page
type PageFetcher interface {
	Text(ctx context.Context, rawURL string) (string, error)
}

// Gatherer combines search, authority ranking and parallel page fetching
type Gatherer struct {
	searcher   Searcher
	fetcher    PageFetcher
	authority  *AuthorityClassifier
	workers    int
	logger     *slog.Logger
	minTextLen int
}

// NewGatherer creates a Gatherer
func NewGatherer(searcher Searcher, fetcher PageFetcher, authority *AuthorityClassifier, workers int, logger *slog.Logger) *Gatherer {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	if authority == nil {
		authority = NewAuthorityClassifier(nil)
	}
	return &Gatherer{
		searcher:   searcher,
		fetcher:    fetcher,
		authority:  authority,
		workers:    workers,
		logger:     logger,
		minTextLen: 200,
	}
}

// Search returns up to max results ranked by authority. Twice as many results
// are requested so that authoritative sources further down still make the cut.
func (g *Gatherer) Search(ctx context.Context, query string, max int) ([]model.WebResult, error) {
	results, err := g.searcher.Search(ctx, query, max*2)
	if err != nil {
		return nil, err
	}
	ranked := g.authority.Rank(results)
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked, nil
}

// Fetch returns the article text at rawURL
func (g *Gatherer) Fetch(ctx context.Context, rawURL string) (string, error) {
	return g.fetcher.Text(ctx, rawURL)
}

// Collect searches and fetches up to max documents concurrently. A page that
// cannot be fetched contributes its search snippet instead. Results keep
// ranking order.
func (g *Gatherer) Collect(ctx context.Context, query string, max int) ([]Document, error) {
	results, err := g.Search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []Document{}, nil
	}

	pool := worker.NewPool(ctx, g.workers)
	pool.Start()
	for i, r := range results {
		if !pool.Submit(&FetchJob{Index: i, Result: r, Fetcher: g.fetcher}) {
			break
		}
	}
	fetched := pool.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs := make([]*Document, len(results))
	for _, res := range fetched {
		fr := res.(*FetchJobResult)
		r := results[fr.Index]

		doc := &Document{URL: r.URL, Title: r.Title, Authority: r.Authority, Text: fr.Text}
		if fr.Error != nil || len(fr.Text) < g.minTextLen {
			if fr.Error != nil {
				g.logger.Debug("evidence fetch failed", slog.String("url", r.URL), slog.String("error", fr.Error.Error()))
			}
			if fallback := strings.TrimSpace(r.Title + ". " + r.Snippet); len(r.Snippet) > 0 && len(fallback) > len(fr.Text) {
				doc.Text = fallback
				doc.Snippet = true
			}
		}
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		docs[fr.Index] = doc
	}

	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

// FetchJob fetches one search result
type FetchJob struct {
	Index   int
	Result  model.WebResult
	Fetcher PageFetcher
}

// Execute runs the fetch
func (j *FetchJob) Execute(ctx context.Context) worker.Result {
	text, err := j.Fetcher.Text(ctx, j.Result.URL)
	return &FetchJobResult{Index: j.Index, Text: text, Error: err}
}

// FetchJobResult is the outcome of a FetchJob
type FetchJobResult struct {
	Index int
	Text  string
	Error error
}

// GetError returns the fetch error
func (r *FetchJobResult) GetError() error {
	return r.Error
}
