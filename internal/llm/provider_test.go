package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/nocap/internal/model"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"openai", "openai"},
		{"OpenAI", "openai"},
		{"anthropic", "anthropic"},
		{"claude", "anthropic"},
		{"ollama", "ollama"},
		{"gemini", "gemini"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, APIKey: "k", Model: "m"})
			if err != nil {
				t.Fatalf("NewProvider failed: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, p.Name())
			}
		})
	}

	if _, err := NewProvider(Config{Provider: "bard"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestConfigFromModel(t *testing.T) {
	cfg := ConfigFromModel(
		model.LLMConfig{Provider: "openai", Model: "gpt", Timeout: 7 * time.Second, MaxTokens: 256},
		model.HTTPConfig{HTTPSProxy: "http://proxy:3128"},
	)
	if cfg.Provider != "openai" || cfg.Model != "gpt" || cfg.Timeout != 7*time.Second || cfg.MaxTokens != 256 {
		t.Errorf("Unexpected config %+v", cfg)
	}
	if cfg.HTTPSProxy != "http://proxy:3128" {
		t.Errorf("Expected proxy to carry over, got %q", cfg.HTTPSProxy)
	}
}

func TestStatusError(t *testing.T) {
	if err := statusError("x", http.StatusTooManyRequests, "slow down"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected rate limited, got %v", err)
	}
	if err := statusError("x", http.StatusBadGateway, "bad"); !errors.Is(err, ErrProvider) {
		t.Errorf("Expected provider error, got %v", err)
	}
}

func TestCallError(t *testing.T) {
	deadline := callError("x", fmt.Errorf("post: %w", context.DeadlineExceeded))
	if !errors.Is(deadline, context.DeadlineExceeded) || errors.Is(deadline, ErrProvider) {
		t.Errorf("Expected deadline to be preserved, got %v", deadline)
	}

	other := callError("x", errors.New("connection refused"))
	if !errors.Is(other, ErrProvider) {
		t.Errorf("Expected provider error, got %v", other)
	}

	limited := callError("x", ErrRateLimited)
	if !errors.Is(limited, ErrRateLimited) {
		t.Errorf("Expected classification to be kept, got %v", limited)
	}
}

func TestExtractURLs(t *testing.T) {
	text := "See https://a.example/x, (https://b.example/y) and https://a.example/x."
	urls := extractURLs(text)
	if strings.Join(urls, " ") != "https://a.example/x https://b.example/y" {
		t.Errorf("Unexpected URLs %v", urls)
	}
}

func TestTokenCounter_Estimate(t *testing.T) {
	var tc TokenCounter

	if got := tc.Count("abcdefgh"); got != 2 {
		t.Errorf("Expected 2 tokens, got %d", got)
	}
	if got := tc.Count("abcdefghi"); got != 3 {
		t.Errorf("Expected 3 tokens, got %d", got)
	}

	text := strings.Repeat("x", 100)
	if got := tc.Truncate(text, 10); len(got) != 40 {
		t.Errorf("Expected 40 characters, got %d", len(got))
	}
	if got := tc.Truncate("short", 10); got != "short" {
		t.Errorf("Expected text unchanged, got %q", got)
	}
	if got := tc.Truncate("anything", 0); got != "" {
		t.Errorf("Expected empty result for zero budget, got %q", got)
	}

	var nilCounter *TokenCounter
	if got := nilCounter.Count("abcd"); got != 1 {
		t.Errorf("Expected nil counter to estimate, got %d", got)
	}
}
