package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrRateLimited is returned when the provider rejects a call with 429
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrProvider covers every other provider-side failure
	ErrProvider = errors.New("llm: provider error")
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Generate produces a completion for the prompt. Calls are bounded by the
	// provider timeout; an expired bound surfaces as context.DeadlineExceeded.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// GenerateRequest contains the input for a completion
type GenerateRequest struct {
	// System carries the standing instructions
	System string

	// Prompt is the user turn
	Prompt string

	// Model overrides the configured model (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int

	// Temperature; zero selects the provider default used for adjudication
	Temperature float64
}

// GenerateResponse contains the model output
type GenerateResponse struct {
	// Text is the generated completion
	Text string

	// CitedURLs are the URLs found in Text
	CitedURLs []string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", "gemini"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic/Gemini
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout bounds each Generate call
	Timeout time.Duration

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
}

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxTokens   = 1000
	defaultTemperature = 0.2
)

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "gemini",
		Timeout:   defaultTimeout,
		MaxTokens: defaultMaxTokens,
	}
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

func (c Config) maxTokens(req GenerateRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return defaultMaxTokens
}

func (c Config) model(req GenerateRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return fallback
}

func temperature(req GenerateRequest) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return defaultTemperature
}

// statusError classifies a non-2xx HTTP status from a provider API
func statusError(provider string, status int, msg string) error {
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s: %s", ErrRateLimited, provider, msg)
	}
	return fmt.Errorf("%w: %s API error (%d): %s", ErrProvider, provider, status, msg)
}

// callError wraps a transport failure. Deadline and cancellation errors stay
// visible to errors.Is so callers can tell a timeout from a provider fault.
func callError(provider string, err error) error {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProvider) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", provider, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrProvider, provider, err)
}

func newProxyFunc(httpProxy, httpsProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}

// newHTTPClient has no client-level timeout; calls are bounded by context so
// an expired bound keeps its context error.
func newHTTPClient(config Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = newProxyFunc(config.HTTPProxy, config.HTTPSProxy)
	return &http.Client{Transport: transport}
}

var urlPattern = regexp.MustCompile(`https?://[^\s\)\]>"]+`)

// extractURLs extracts all URLs from text, deduplicated in order
func extractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)

	seen := make(map[string]bool)
	var unique []string
	for _, u := range matches {
		// Clean up trailing punctuation
		u = strings.TrimRight(u, ".,;:!?")
		if !seen[u] {
			seen[u] = true
			unique = append(unique, u)
		}
	}

	return unique
}
