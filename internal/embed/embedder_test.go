package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/nocap/internal/model"
)

func TestNew_Hash(t *testing.T) {
	e, err := New(context.Background(), model.EmbedderConfig{Type: "hash", Dimension: 16, Scale: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if e.Name() != "hash" {
		t.Errorf("Expected hash embedder, got %s", e.Name())
	}
	if e.Dimension() != 16 {
		t.Errorf("Expected dimension 16, got %d", e.Dimension())
	}
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), model.EmbedderConfig{Type: "word2vec", Dimension: 16})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("Expected ErrModelUnavailable, got %v", err)
	}
}

func TestNew_ProbeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nomic\" not found, try pulling it first"}`))
	}))
	defer server.Close()

	_, err := New(context.Background(), model.EmbedderConfig{
		Type:      "ollama",
		Model:     "nomic",
		BaseURL:   server.URL,
		Dimension: 8,
	})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("Expected ErrModelUnavailable, got %v", err)
	}
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("Expected path /api/embed, got %s", r.URL.Path)
		}

		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Errorf("Expected empty text to be skipped, got %d inputs", len(req.Input))
		}

		resp := ollamaEmbedResponse{Model: req.Model}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i + 1), 0, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(model.EmbedderConfig{Model: "all-minilm", BaseURL: server.URL, Dimension: 3})
	if err != nil {
		t.Fatalf("Failed to create embedder: %v", err)
	}

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[2][0] != 2 {
		t.Errorf("Embeddings returned out of order: %v", vecs)
	}
	for _, v := range vecs[1] {
		if v != 0 {
			t.Errorf("Expected zero vector for empty text, got %v", vecs[1])
		}
	}
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer server.Close()

	e, _ := NewOllamaEmbedder(model.EmbedderConfig{Model: "all-minilm", BaseURL: server.URL, Dimension: 3})
	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Error("Expected dimension mismatch error")
	}
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("Expected path /embeddings, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		// Respond in reverse order to exercise index mapping
		resp := openai.EmbeddingResponse{
			Object: "list",
			Data: []openai.Embedding{
				{Object: "embedding", Index: 1, Embedding: []float32{0, 2}},
				{Object: "embedding", Index: 0, Embedding: []float32{1, 0}},
			},
			Model: openai.SmallEmbedding3,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(model.EmbedderConfig{APIKey: "test-key", BaseURL: server.URL, Dimension: 2})
	if err != nil {
		t.Fatalf("Failed to create embedder: %v", err)
	}

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 2 {
		t.Errorf("Embeddings not mapped by index: %v", vecs)
	}
}

func TestOpenAIEmbedder_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAIEmbedder(model.EmbedderConfig{Dimension: 2}); err == nil {
		t.Error("Expected error for missing API key")
	}
}
