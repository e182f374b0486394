package gather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/nocap/internal/cache"
	"github.com/ppiankov/nocap/internal/extract"
	"github.com/ppiankov/nocap/internal/model"
	"github.com/ppiankov/nocap/internal/worker"
)

// ErrDisallowed is returned when robots.txt forbids a fetch
var ErrDisallowed = errors.New("disallowed by robots.txt")

// fetchSleepFunc is the sleep function used between retries (injectable for tests)
var fetchSleepFunc = time.Sleep

// Fetcher fetches pages and extracts their article text
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	maxRetries int
	robots     *RobotsChecker  // nil disables robots.txt checks
	limiter    *worker.Limiter // nil disables rate limiting
	cache      cache.Cache     // nil disables the page cache
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// FetchResult contains the fetched HTML and metadata
type FetchResult struct {
	HTML        string
	StatusCode  int
	ContentType string
	FinalURL    string
}

// NewFetcher creates a Fetcher from the HTTP settings
func NewFetcher(cfg model.HTTPConfig, pages cache.Cache, cacheTTL time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	client := newHTTPClient(cfg.Timeout, cfg.HTTPProxy, cfg.HTTPSProxy)

	f := &Fetcher{
		httpClient: client,
		userAgent:  cfg.UserAgent,
		maxBytes:   cfg.MaxBodyBytes,
		maxRetries: cfg.MaxRetries,
		cache:      pages,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
	if f.maxBytes <= 0 {
		f.maxBytes = 2_000_000
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsChecker(client, cfg.UserAgent)
	}
	if cfg.RatePerHost > 0 {
		f.limiter = worker.NewLimiter(cfg.RatePerHost, 2)
	}
	return f
}

// Text returns the article text of a page, from cache when available
func (f *Fetcher) Text(ctx context.Context, rawURL string) (string, error) {
	key := cache.PageKey(rawURL)
	if f.cache != nil {
		if cached, ok := f.cache.Get(key); ok {
			return string(cached), nil
		}
	}

	res, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	text := res.HTML
	if isHTML(res.ContentType, res.HTML) {
		if text, err = extract.ArticleText(res.HTML); err != nil {
			return "", fmt.Errorf("extract article: %w", err)
		}
	}
	text = strings.TrimSpace(text)

	if f.cache != nil && text != "" {
		if err := f.cache.Set(key, []byte(text), f.cacheTTL); err != nil {
			f.logger.Warn("page cache write failed", slog.String("url", rawURL), slog.String("error", err.Error()))
		}
	}
	return text, nil
}

// Fetch checks robots.txt, waits for the host's rate limit and fetches
// rawURL with retries
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
		if f.limiter != nil {
			f.limiter.SetCrawlDelay(rawURL, delay)
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	return f.FetchWithRetry(ctx, rawURL)
}

// FetchWithRetry retries transient failures with exponential backoff
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	var lastErr error
	attempts := f.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		res, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < attempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			f.logger.Debug("fetch retry",
				slog.String("url", rawURL),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
			fetchSleepFunc(backoff)
		}
	}
	return nil, lastErr
}

// statusError carries a non-2xx response status
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.code, e.status)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &FetchResult{
		HTML:        string(body),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// isRetryable reports 429, 5xx and transient network failures
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || (se.code >= 500 && se.code < 600)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection refused") || strings.Contains(s, "connection reset")
}

func isHTML(contentType, body string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") || strings.Contains(ct, "xml") {
		return true
	}
	if ct != "" {
		return false
	}
	head := strings.ToLower(body[:min(len(body), 512)])
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}
