package gather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/nocap/internal/cache"
	"github.com/ppiankov/nocap/internal/logging"
	"github.com/ppiankov/nocap/internal/model"
)

func testHTTPConfig() model.HTTPConfig {
	return model.HTTPConfig{
		Timeout:      5 * time.Second,
		UserAgent:    "nocap-test/1.0",
		MaxBodyBytes: 1 << 20,
		MaxRetries:   2,
	}
}

func noSleep(t *testing.T) {
	t.Helper()
	orig := fetchSleepFunc
	fetchSleepFunc = func(d time.Duration) {}
	t.Cleanup(func() { fetchSleepFunc = orig })
}

func TestFetchWithRetry_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "nocap-test/1.0" {
			t.Errorf("Expected user agent to be sent, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html><body>OK</body></html>")
	}))
	defer server.Close()

	fetcher := NewFetcher(testHTTPConfig(), nil, 0, logging.Discard())
	result, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.HTML != "<html><body>OK</body></html>" {
		t.Errorf("Unexpected HTML: %s", result.HTML)
	}
}

func TestFetchWithRetry_TransientThenSuccess(t *testing.T) {
	noSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html>OK</html>")
	}))
	defer server.Close()

	fetcher := NewFetcher(testHTTPConfig(), nil, 0, logging.Discard())
	result, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if result.HTML != "<html>OK</html>" {
		t.Errorf("Unexpected HTML: %s", result.HTML)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_PermanentFailure(t *testing.T) {
	noSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewFetcher(testHTTPConfig(), nil, 0, logging.Discard())
	_, err := fetcher.FetchWithRetry(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected error for 404, got nil")
	}
	if got := err.Error(); got != "unexpected status: 404 404 Not Found" {
		t.Errorf("Unexpected error: %s", got)
	}
	if attempts.Load() != 1 {
		t.Errorf("Expected 404 to fail without retry, got %d attempts", attempts.Load())
	}
}

func TestFetchWithRetry_AllRetriesExhausted(t *testing.T) {
	noSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := NewFetcher(testHTTPConfig(), nil, 0, logging.Discard())
	if _, err := fetcher.FetchWithRetry(context.Background(), server.URL); err == nil {
		t.Fatal("Expected error after all retries exhausted")
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_429Retried(t *testing.T) {
	noSleep(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, "<html>OK</html>")
	}))
	defer server.Close()

	fetcher := NewFetcher(testHTTPConfig(), nil, 0, logging.Discard())
	if _, err := fetcher.FetchWithRetry(context.Background(), server.URL); err != nil {
		t.Fatalf("Expected success after 429 retry, got %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts.Load())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{&statusError{code: 503}, true},
		{&statusError{code: 500}, true},
		{&statusError{code: 429}, true},
		{&statusError{code: 404}, false},
		{&statusError{code: 403}, false},
		{fmt.Errorf("wrapped: %w", &statusError{code: 502}), true},
		{errors.New("fetch: connection refused"), true},
		{errors.New("fetch: connection reset by peer"), true},
		{errors.New("create request: invalid URL"), false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.retryable {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestFetcher_TextExtractsAndCaches(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, `<html><body><nav>Menu</nav><article><p>Apollo 11 landed in 1969.</p></article></body></html>`)
	}))
	defer server.Close()

	pages := cache.NewMemoryCache(time.Hour, time.Hour)
	fetcher := NewFetcher(testHTTPConfig(), pages, time.Hour, logging.Discard())

	for i := 0; i < 2; i++ {
		text, err := fetcher.Text(context.Background(), server.URL+"/apollo")
		if err != nil {
			t.Fatalf("Text failed: %v", err)
		}
		if text != "Apollo 11 landed in 1969." {
			t.Errorf("Unexpected text %q", text)
		}
	}

	if hits.Load() != 1 {
		t.Errorf("Expected second call to be served from cache, got %d requests", hits.Load())
	}
}

func TestFetcher_TextPlain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprint(w, "  plain <b>text</b> body \n")
	}))
	defer server.Close()

	fetcher := NewFetcher(testHTTPConfig(), nil, 0, logging.Discard())
	text, err := fetcher.Text(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if text != "plain <b>text</b> body" {
		t.Errorf("Plain text should be kept verbatim, got %q", text)
	}
}

func TestFetcher_RespectsRobots(t *testing.T) {
	var pageHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
		_, _ = fmt.Fprint(w, "<html><p>public</p></html>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := testHTTPConfig()
	cfg.RespectRobots = true
	fetcher := NewFetcher(cfg, nil, 0, logging.Discard())

	_, err := fetcher.Fetch(context.Background(), server.URL+"/private/page")
	if !errors.Is(err, ErrDisallowed) {
		t.Errorf("Expected ErrDisallowed, got %v", err)
	}
	if pageHits.Load() != 0 {
		t.Error("Disallowed page must not be requested")
	}

	if _, err := fetcher.Fetch(context.Background(), server.URL+"/public"); err != nil {
		t.Errorf("Expected public page to be fetched, got %v", err)
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	if got := NormalizeUserAgent("nocap/0.3 (+https://github.com/ppiankov/nocap)"); got != "nocap" {
		t.Errorf("NormalizeUserAgent() = %q", got)
	}
	if got := NormalizeUserAgent(""); got != "" {
		t.Errorf("NormalizeUserAgent(\"\") = %q", got)
	}
}

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:8080", "http://secure-proxy:8443")

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	u, err := proxy(req)
	if err != nil || u.Host != "secure-proxy:8443" {
		t.Errorf("Expected HTTPS proxy, got %v (%v)", u, err)
	}

	req, _ = http.NewRequest(http.MethodGet, "http://example.com", nil)
	u, err = proxy(req)
	if err != nil || u.Host != "proxy:8080" {
		t.Errorf("Expected HTTP proxy, got %v (%v)", u, err)
	}
}
