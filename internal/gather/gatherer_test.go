package gather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/nocap/internal/logging"
	"github.com/ppiankov/nocap/internal/model"
)

type fakeSearcher struct {
	results []model.WebResult
	err     error
	gotMax  int
}

func (s *fakeSearcher) Search(ctx context.Context, query string, max int) ([]model.WebResult, error) {
	s.gotMax = max
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) > max {
		return s.results[:max], nil
	}
	return s.results, nil
}

type fakePages struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fakePages) Text(ctx context.Context, rawURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if text, ok := f.pages[rawURL]; ok {
		return text, nil
	}
	return "", errors.New("unexpected status: 404 404 Not Found")
}

func TestGatherer_Collect(t *testing.T) {
	long := strings.Repeat("Apollo 11 landed on the Moon in 1969. ", 10)
	searcher := &fakeSearcher{results: []model.WebResult{
		{URL: "https://blog.example/moon", Title: "Blog", Snippet: "hoax claims"},
		{URL: "https://www.nasa.gov/apollo", Title: "NASA", Snippet: "Apollo 11"},
		{URL: "https://dead.example/x", Title: "Dead", Snippet: "snippet only"},
		{URL: "https://empty.example/x", Title: "Empty"},
	}}
	pages := &fakePages{pages: map[string]string{
		"https://blog.example/moon":   long,
		"https://www.nasa.gov/apollo": long,
	}}

	g := NewGatherer(searcher, pages, nil, 2, logging.Discard())
	docs, err := g.Collect(context.Background(), "moon landing", 4)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if searcher.gotMax != 8 {
		t.Errorf("Expected twice the requested results to be searched, got %d", searcher.gotMax)
	}
	if len(docs) != 3 {
		t.Fatalf("Expected 3 documents, got %d: %+v", len(docs), docs)
	}
	if docs[0].URL != "https://www.nasa.gov/apollo" || docs[0].Authority != model.TierPrimary {
		t.Errorf("Expected primary source first, got %+v", docs[0])
	}
	if docs[0].Snippet {
		t.Error("Fetched page should not be marked as snippet")
	}
	if docs[2].URL != "https://dead.example/x" || !docs[2].Snippet || docs[2].Text != "Dead. snippet only" {
		t.Errorf("Expected snippet fallback for unfetchable page, got %+v", docs[2])
	}
}

func TestGatherer_CollectSearchError(t *testing.T) {
	g := NewGatherer(&fakeSearcher{err: errors.New("search: unexpected status 202")}, &fakePages{}, nil, 2, logging.Discard())
	if _, err := g.Collect(context.Background(), "q", 5); err == nil {
		t.Error("Expected search error to propagate")
	}
}

func TestGatherer_CollectNoResults(t *testing.T) {
	g := NewGatherer(&fakeSearcher{}, &fakePages{}, nil, 2, logging.Discard())
	docs, err := g.Collect(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Expected no documents, got %d", len(docs))
	}
}

// stallingPages never answers before its context ends
type stallingPages struct{}

func (stallingPages) Text(ctx context.Context, rawURL string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGatherer_CollectCanceled(t *testing.T) {
	searcher := &fakeSearcher{results: []model.WebResult{
		{URL: "https://www.nasa.gov/apollo", Title: "NASA", Snippet: "Apollo 11"},
		{URL: "https://blog.example/moon", Title: "Blog", Snippet: "hoax claims"},
		{URL: "https://www.bbc.com/moon", Title: "BBC", Snippet: "landing sites"},
	}}

	t.Run("before fetch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		pages := &fakePages{}
		g := NewGatherer(searcher, pages, nil, 1, logging.Discard())
		docs, err := g.Collect(ctx, "moon landing", 3)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
		if docs != nil {
			t.Errorf("Expected no documents, got %+v", docs)
		}
	})

	t.Run("during fetch", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		g := NewGatherer(searcher, stallingPages{}, nil, 2, logging.Discard())
		done := make(chan error, 1)
		go func() {
			_, err := g.Collect(ctx, "moon landing", 3)
			done <- err
		}()

		select {
		case err := <-done:
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Expected deadline error, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Collect did not return after its context ended")
		}
	})
}

func TestDuckDuckGo_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm failed: %v", err)
		}
		if r.Form.Get("q") != "moon landing" {
			t.Errorf("Expected query to be posted, got %q", r.Form.Get("q"))
		}
		if r.Form.Get("kl") != "us-en" {
			t.Errorf("Expected region to be posted, got %q", r.Form.Get("kl"))
		}
		_, _ = fmt.Fprint(w, `<html><body>
			<a class="result__a" href="https://a.example/1">A</a><a class="result__snippet">first</a>
			<a class="result__a" href="https://b.example/2">B</a><a class="result__snippet">second</a>
			<a class="result__a" href="https://c.example/3">C</a>
		</body></html>`)
	}))
	defer server.Close()

	ddg := NewDuckDuckGo(model.SearchConfig{Endpoint: server.URL + "/html/", Region: "us-en"}, testHTTPConfig())
	results, err := ddg.Search(context.Background(), "moon landing", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected results to be capped at 2, got %d", len(results))
	}
	if results[1].URL != "https://b.example/2" || results[1].Snippet != "second" {
		t.Errorf("Unexpected result %+v", results[1])
	}
}

func TestDuckDuckGo_Throttled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ddg := NewDuckDuckGo(model.SearchConfig{Endpoint: server.URL}, testHTTPConfig())
	if _, err := ddg.Search(context.Background(), "q", 5); err == nil {
		t.Error("Expected error for throttled response")
	}
}
